package archive

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"
)

func foolsMate() Game {
    start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
    return Game{
        ID: "g1", SessionID: "room_1", Mode: "room",
        WhiteID: "a@x.io", WhiteName: "a@x.io", BlackID: "b@x.io", BlackName: "b\"x",
        Result: ResultBlack, Method: "Checkmate",
        MovesUCI: []string{"f2f3", "e7e5", "g2g4", "d8h4"},
        MovesSAN: []string{"f3", "e5", "g4", "Qh4#"},
        StartedAt: start, EndedAt: start.Add(90 * time.Second),
    }
}

func TestPGN(t *testing.T) {
    pgn := PGN(foolsMate())
    for _, want := range []string{
        "[Date \"2026.03.01\"]",
        "[Black \"b'x\"]",
        "[Termination \"checkmate\"]",
        "[Result \"0-1\"]",
        "1. f3 e5 2. g4 Qh4# 0-1",
    } {
        if !strings.Contains(pgn, want) { t.Fatalf("pgn missing %q:\n%s", want, pgn) }
    }
}

func TestPGNUnknownResult(t *testing.T) {
    g := foolsMate()
    g.Result = ""
    g.MovesSAN = []string{"e4"}
    if !strings.HasSuffix(PGN(g), "1. e4 *") { t.Fatalf("unexpected pgn tail: %q", PGN(g)) }
}

func TestDurationClamp(t *testing.T) {
    g := foolsMate()
    if g.Duration() != 90*time.Second { t.Fatalf("duration=%v", g.Duration()) }
    g.StartedAt = time.Time{}
    if g.Duration() != 0 { t.Fatalf("expected zero duration without start") }
}

func TestParseRedisURL(t *testing.T) {
    opts, err := ParseRedisURL("redis://:secret@localhost:6380/3")
    if err != nil { t.Fatalf("parse: %v", err) }
    if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 3 {
        t.Fatalf("unexpected opts: %+v", opts)
    }
    if _, err := ParseRedisURL("http://localhost"); err == nil { t.Fatalf("expected scheme error") }
    if _, err := ParseRedisURL("redis://localhost/x"); err == nil { t.Fatalf("expected db error") }
}

func TestRedisSinkSaveAndStats(t *testing.T) {
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    defer mr.Close()
    ctx := context.Background()

    rdb, err := DialRedis(ctx, fmt.Sprintf("redis://%s/0", mr.Addr()))
    if err != nil { t.Fatalf("dial: %v", err) }
    s := NewRedisSink(rdb)
    defer s.Close()

    if err := s.Save(ctx, foolsMate()); err != nil { t.Fatalf("save: %v", err) }
    draw := foolsMate()
    draw.ID, draw.Result, draw.Method = "g2", ResultDraw, "Stalemate"
    if err := s.Save(ctx, draw); err != nil { t.Fatalf("save draw: %v", err) }

    recent, err := s.Recent(ctx, 10)
    if err != nil { t.Fatalf("recent: %v", err) }
    if len(recent) != 2 || recent[0].ID != "g2" || recent[1].ID != "g1" {
        t.Fatalf("unexpected recent: %+v", recent)
    }

    white, err := s.Stats(ctx, "a@x.io")
    if err != nil { t.Fatalf("stats: %v", err) }
    if white != (PlayerStats{Games: 2, Losses: 1, Draws: 1}) { t.Fatalf("white stats: %+v", white) }
    black, _ := s.Stats(ctx, "b@x.io")
    if black != (PlayerStats{Games: 2, Wins: 1, Draws: 1}) { t.Fatalf("black stats: %+v", black) }
    if mr.TTL(statsKey("a@x.io")) <= 0 { t.Fatalf("expected stats ttl") }
}

func TestRedisRecentCapped(t *testing.T) {
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    defer mr.Close()
    ctx := context.Background()
    s := NewRedisSink(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
    defer s.Close()
    for i := 0; i < recentLimit+5; i++ {
        g := foolsMate()
        g.ID = fmt.Sprintf("g%d", i)
        if err := s.Save(ctx, g); err != nil { t.Fatalf("save %d: %v", i, err) }
    }
    n, _ := s.rdb.LLen(ctx, recentKey).Result()
    if n != recentLimit { t.Fatalf("expected %d recent, got %d", recentLimit, n) }
}

type memSink struct {
    mu     sync.Mutex
    games  []Game
    closed bool
    block  chan struct{}
    err    error
}

func (m *memSink) Save(_ context.Context, g Game) error {
    if m.block != nil { <-m.block }
    m.mu.Lock()
    defer m.mu.Unlock()
    m.games = append(m.games, g)
    return m.err
}

func (m *memSink) Close() error { m.mu.Lock(); m.closed = true; m.mu.Unlock(); return nil }

func TestRecorderDrainsOnClose(t *testing.T) {
    sink := &memSink{}
    r := NewRecorder(sink, 4)
    g := foolsMate()
    g.ID = ""
    g.EndedAt = time.Time{}
    if !r.Submit(g) { t.Fatalf("submit rejected") }
    if !r.Submit(foolsMate()) { t.Fatalf("submit rejected") }
    if err := r.Close(context.Background()); err != nil { t.Fatalf("close: %v", err) }
    if len(sink.games) != 2 || !sink.closed { t.Fatalf("expected 2 saved and closed, got %d closed=%v", len(sink.games), sink.closed) }
    if sink.games[0].ID == "" || sink.games[0].EndedAt.IsZero() { t.Fatalf("expected id and end time assigned: %+v", sink.games[0]) }
    if r.Submit(foolsMate()) { t.Fatalf("submit after close should fail") }
}

func TestRecorderSubmitNeverBlocks(t *testing.T) {
    sink := &memSink{block: make(chan struct{})}
    r := NewRecorder(sink, 1)
    accepted := 0
    for i := 0; i < 5; i++ {
        if r.Submit(foolsMate()) { accepted++ }
    }
    // one held by the worker, one buffered
    if accepted > 2 { t.Fatalf("expected at most 2 accepted, got %d", accepted) }
    close(sink.block)
    _ = r.Close(context.Background())
}

func TestMultiSinkJoinsErrors(t *testing.T) {
    boom := errors.New("boom")
    a, b := &memSink{}, &memSink{err: boom}
    err := MultiSink{a, b}.Save(context.Background(), foolsMate())
    if !errors.Is(err, boom) { t.Fatalf("expected joined error, got %v", err) }
    if len(a.games) != 1 || len(b.games) != 1 { t.Fatalf("both sinks should receive the game") }
    if err := (MultiSink{a, b}).Close(); err != nil || !a.closed || !b.closed { t.Fatalf("close: %v", err) }
}
