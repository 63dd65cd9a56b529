package archive

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/park285/chess-relay/internal/obslog"
)

// Recorder hands finished games to a Sink on its own goroutine. Submit never blocks.
type Recorder struct {
    sink    Sink
    queue   chan Game
    timeout time.Duration

    mu     sync.RWMutex
    closed bool
    wg     sync.WaitGroup
}

func NewRecorder(sink Sink, queueLen int) *Recorder {
    if queueLen <= 0 { queueLen = 128 }
    r := &Recorder{sink: sink, queue: make(chan Game, queueLen), timeout: 5 * time.Second}
    r.wg.Add(1)
    go r.run()
    return r
}

// Submit enqueues g, assigning an id when missing. It reports false when the queue is full or closed.
func (r *Recorder) Submit(g Game) bool {
    if r == nil { return false }
    if g.ID == "" { g.ID = uuid.NewString() }
    if g.EndedAt.IsZero() { g.EndedAt = time.Now() }
    r.mu.RLock()
    defer r.mu.RUnlock()
    if r.closed { return false }
    select {
    case r.queue <- g:
        return true
    default:
        obslog.L().Warn("archive_queue_full", zap.String("game_id", g.ID), zap.String("session_id", g.SessionID))
        return false
    }
}

func (r *Recorder) run() {
    defer r.wg.Done()
    for g := range r.queue {
        ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
        if err := r.sink.Save(ctx, g); err != nil {
            obslog.L().Error("archive_save_failed", zap.String("game_id", g.ID), zap.Error(err))
        } else {
            obslog.L().Info("archive_saved", zap.String("game_id", g.ID), zap.String("result", g.Result), zap.Int("moves", len(g.MovesUCI)))
        }
        cancel()
    }
}

// Close drains queued games, waiting at most until ctx is done, then closes the sink.
func (r *Recorder) Close(ctx context.Context) error {
    if r == nil { return nil }
    r.mu.Lock()
    if !r.closed {
        r.closed = true
        close(r.queue)
    }
    r.mu.Unlock()
    done := make(chan struct{})
    go func() { r.wg.Wait(); close(done) }()
    select {
    case <-done:
    case <-ctx.Done():
        obslog.L().Warn("archive_drain_timeout", zap.Int("pending", len(r.queue)))
    }
    return r.sink.Close()
}
