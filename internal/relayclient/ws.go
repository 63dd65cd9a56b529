package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one frame received from the relay.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type EventCallback func(ev Event)

var (
	ErrNotConnected = errors.New("relay websocket not connected")
	ErrStreamUsed   = errors.New("relay websocket stream already used")
)

// Stream is a single relay WebSocket connection with callback fan-out.
type Stream struct {
	url    string
	origin string

	mu   sync.RWMutex
	conn *websocket.Conn
	cbs  []EventCallback

	pingInterval time.Duration
	dialed       bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	done         chan struct{}
}

func NewStream(wsURL, origin string) *Stream {
	return &Stream{url: wsURL, origin: origin, pingInterval: 30 * time.Second, done: make(chan struct{})}
}

func (s *Stream) OnEvent(cb EventCallback) {
	s.mu.Lock()
	s.cbs = append(s.cbs, cb)
	s.mu.Unlock()
}

// Connect dials once; a Stream is not reusable after Close.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.dialed {
		s.mu.Unlock()
		return ErrStreamUsed
	}
	s.dialed = true
	s.mu.Unlock()

	hdr := http.Header{}
	if s.origin != "" { hdr.Set("Origin", s.origin) }
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		close(s.done)
		return err
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = rootCancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.listen(rootCtx, conn)
	go s.pingLoop(rootCtx, conn)
	return nil
}

// Done is closed once the read loop ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Send(ctx context.Context, event string, data any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil { return ErrNotConnected }
	return wsjson.Write(ctx, conn, map[string]any{"event": event, "data": data})
}

func (s *Stream) listen(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	defer close(s.done)
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return
		}
		s.mu.RLock()
		cbs := make([]EventCallback, len(s.cbs))
		copy(cbs, s.cbs)
		s.mu.RUnlock()
		for _, cb := range cbs {
			if cb != nil { cb(ev) }
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil { return }
		}
	}
}

func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.conn = nil
	s.mu.Unlock()
	if conn == nil { return nil }
	_ = conn.Close(websocket.StatusNormalClosure, "close")
	if cancel != nil { cancel() }

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
