package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/chess-relay/internal/coordinator"
	"github.com/park285/chess-relay/internal/wsserver"
)

func startRelay(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	hub := wsserver.NewHub()
	coord := coordinator.New(coordinator.Options{Emitter: hub})
	srv := wsserver.New(wsserver.Options{AllowedOrigins: []string{"http://localhost:5173"}}, hub, coordinator.NewRouter(coord), coord)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return ts, coord
}

func TestHealthAndRooms(t *testing.T) {
	ts, coord := startRelay(t)
	coord.CreateRoom("seed", "lobby")

	c := NewClient(ts.URL+"/", WithTimeout(2*time.Second))
	ctx := context.Background()
	h, err := c.Health(ctx)
	if err != nil { t.Fatalf("health: %v", err) }
	if h.Status != "ok" || h.Stats.Rooms != 1 { t.Fatalf("unexpected health: %+v", h) }

	rooms, err := c.Rooms(ctx)
	if err != nil { t.Fatalf("rooms: %v", err) }
	if len(rooms) != 1 || rooms[0].Name != "lobby" { t.Fatalf("unexpected rooms: %+v", rooms) }
}

func TestRetryOn5xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	rooms, err := NewClient(ts.URL, WithRetry(3)).Rooms(context.Background())
	if err != nil { t.Fatalf("rooms: %v", err) }
	if len(rooms) != 0 || atomic.LoadInt32(&calls) != 3 { t.Fatalf("calls=%d rooms=%v", calls, rooms) }
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer ts.Close()
	if _, err := NewClient(ts.URL).Health(context.Background()); err == nil || !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if calls != 1 { t.Fatalf("expected a single attempt, got %d", calls) }
}

func TestStreamRoundTrip(t *testing.T) {
	ts, _ := startRelay(t)
	s := NewStream("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", "http://localhost:5173")
	got := make(chan Event, 16)
	s.OnEvent(func(ev Event) { got <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil { t.Fatalf("connect: %v", err) }
	if err := s.Connect(ctx); err != ErrStreamUsed { t.Fatalf("second connect: %v", err) }
	if err := s.Send(ctx, coordinator.EvRoomCreate, map[string]string{"name": "probe"}); err != nil { t.Fatalf("send: %v", err) }

	for {
		select {
		case ev := <-got:
			if ev.Event != coordinator.OutRoomCreated { continue }
			var rc coordinator.RoomCreated
			if err := json.Unmarshal(ev.Data, &rc); err != nil || rc.RoomID == "" { t.Fatalf("room:created payload %s: %v", ev.Data, err) }
			if err := s.Close(ctx); err != nil { t.Fatalf("close: %v", err) }
			if err := s.Send(ctx, coordinator.EvGetRooms, nil); err != ErrNotConnected { t.Fatalf("send after close: %v", err) }
			return
		case <-ctx.Done():
			t.Fatalf("timed out waiting for room:created")
		}
	}
}
