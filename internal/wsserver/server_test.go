package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/coordinator"
)

type wireMsg struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	hub := NewHub()
	coord := coordinator.New(coordinator.Options{Emitter: hub})
	router := coordinator.NewRouter(coord)
	if opts.AllowedOrigins == nil { opts.AllowedOrigins = []string{"http://localhost:5173"} }
	srv := New(opts, hub, router, coord)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return ts, coord
}

func dial(t *testing.T, ts *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h := http.Header{}
	if origin != "" { h.Set("Origin", origin) }
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{HTTPHeader: h})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"event": event, "data": data}))
}

// await reads frames until one named event arrives.
func await(t *testing.T, ws *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var m wireMsg
		require.NoError(t, wsjson.Read(ctx, ws, &m), "waiting for %s", event)
		if m.Event == event { return m.Data }
	}
}

func TestRoomFlowOverWebSocket(t *testing.T) {
	ts, _ := newTestServer(t, Options{RateLimitPerSec: 100, RateLimitBurst: 100})
	a := dial(t, ts, "")
	b := dial(t, ts, "http://localhost:5173")

	send(t, a, coordinator.EvRoomCreate, map[string]string{"name": "R1"})
	var created coordinator.RoomCreated
	require.NoError(t, json.Unmarshal(await(t, a, coordinator.OutRoomCreated), &created))
	require.NotEmpty(t, created.RoomID)

	send(t, a, coordinator.EvRoomJoin, map[string]string{"email": "a@x.io", "room": created.RoomID})
	assert.JSONEq(t, `"w"`, string(await(t, a, coordinator.OutPlayerRole)))
	send(t, b, coordinator.EvRoomJoin, map[string]string{"email": "b@x.io", "room": created.RoomID})
	assert.JSONEq(t, `"b"`, string(await(t, b, coordinator.OutPlayerRole)))
	assert.JSONEq(t, `{"white":"a@x.io","black":"b@x.io"}`, string(await(t, a, coordinator.OutGameStart)))

	send(t, a, coordinator.EvMove, map[string]string{"from": "e2", "to": "e4", "promotion": "q"})
	var bs coordinator.BoardState
	require.NoError(t, json.Unmarshal(await(t, b, coordinator.OutBoardState), &bs))
	assert.Contains(t, bs.FEN, "4P3")

	send(t, a, coordinator.EvMove, map[string]string{"from": "d2", "to": "d4"})
	assert.JSONEq(t, `{"message":"Not your turn"}`, string(await(t, a, coordinator.OutError)))

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))
	assert.JSONEq(t, `{"email":"a@x.io"}`, string(await(t, b, coordinator.OutPlayerLeft)))
}

func TestSignalingRelayOverWebSocket(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	a := dial(t, ts, "")
	b := dial(t, ts, "")

	send(t, b, coordinator.EvRoomCreate, map[string]string{"name": "sig"})
	await(t, b, coordinator.OutRoomCreated)
	send(t, b, coordinator.EvRoomJoin, map[string]string{"email": "b", "room": "x"})
	await(t, b, coordinator.OutError)

	// learn b's connection id from the user:joined echo
	var rooms []coordinator.Room
	require.NoError(t, json.Unmarshal(await(t, a, coordinator.OutRoomsList), &rooms))
	require.Len(t, rooms, 1)
	send(t, b, coordinator.EvRoomJoin, map[string]string{"email": "b", "room": rooms[0].ID})
	var joined coordinator.UserJoined
	require.NoError(t, json.Unmarshal(await(t, b, coordinator.OutUserJoined), &joined))

	send(t, a, coordinator.EvUserCall, map[string]any{"to": joined.ID, "offer": map[string]string{"sdp": "v=0"}})
	var call struct {
		From  string          `json:"from"`
		Offer json.RawMessage `json:"offer"`
	}
	require.NoError(t, json.Unmarshal(await(t, b, coordinator.OutIncomingCall), &call))
	assert.NotEmpty(t, call.From)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(call.Offer))
}

func TestQueueOverWebSocket(t *testing.T) {
	ts, coord := newTestServer(t, Options{})
	a := dial(t, ts, "")
	b := dial(t, ts, "")
	send(t, a, coordinator.EvUserSignedIn, map[string]string{"userId": "u1", "username": "one"})
	assert.JSONEq(t, `{"message":"Waiting for user to join..."}`, string(await(t, a, coordinator.OutWaiting)))
	send(t, b, coordinator.EvUserSignedIn, map[string]string{"userId": "u2", "username": "two"})
	var mf coordinator.MatchFound
	require.NoError(t, json.Unmarshal(await(t, a, coordinator.OutMatchFound), &mf))
	assert.True(t, strings.HasPrefix(mf.RoomID, "match_"))

	require.NoError(t, b.Close(websocket.StatusNormalClosure, ""))
	await(t, a, coordinator.OutPartnerDisconnected)
	await(t, a, coordinator.OutWaiting)
	assert.Eventually(t, func() bool { return coord.Stats().Connections == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestOriginRejected(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{HTTPHeader: h})
	require.Error(t, err)
	if resp != nil { assert.Equal(t, http.StatusForbidden, resp.StatusCode) }
}

func TestMalformedFrameGetsError(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	a := dial(t, ts, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte("{")))
	assert.JSONEq(t, `{"message":"Malformed frame payload"}`, string(await(t, a, coordinator.OutError)))
}

func TestHTTPEndpoints(t *testing.T) {
	ts, coord := newTestServer(t, Options{})
	coord.CreateRoom("nobody", "lobby")

	resp, err := http.Get(ts.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rooms []coordinator.Room
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "lobby", rooms[0].Name)

	resp2, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var health struct {
		Status string            `json:"status"`
		Stats  coordinator.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Stats.Rooms)
}

func TestArchiveEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/api/games/recent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no archive, no route")

	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := archive.DialRedis(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	sink := archive.NewRedisSink(rdb)
	t.Cleanup(func() { _ = sink.Close() })
	for _, id := range []string{"g1", "g2"} {
		require.NoError(t, sink.Save(ctx, archive.Game{ID: id, WhiteID: "a@x.io", BlackID: "b@x.io", Result: archive.ResultBlack}))
	}

	ts, _ = newTestServer(t, Options{History: sink})
	resp, err = http.Get(ts.URL + "/api/games/recent?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var games []archive.Game
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&games))
	require.Len(t, games, 1)
	assert.Equal(t, "g2", games[0].ID)

	resp2, err := http.Get(ts.URL + "/api/players/b@x.io/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var st archive.PlayerStats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	assert.Equal(t, archive.PlayerStats{Games: 2, Wins: 2}, st)
}

func TestOriginPatterns(t *testing.T) {
	p, all := originPatterns([]string{"http://LocalHost:5173", " https://app.example.com ", ""})
	assert.False(t, all)
	assert.Equal(t, []string{"localhost:5173", "app.example.com"}, p)
	_, all = originPatterns([]string{"http://a", "*"})
	assert.True(t, all)
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	cl := newClient("c1", nil, 1, cancel)
	h.add(cl)
	h.Send("c1", coordinator.Envelope{Event: "a"})
	assert.NoError(t, ctx.Err())
	h.Send("c1", coordinator.Envelope{Event: "b"})
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	h.Send("ghost", coordinator.Envelope{Event: "c"})
	h.remove("c1")
	assert.Equal(t, 0, h.Len())
}
