package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-relay/internal/rules"
)

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	require.NoError(t, err)
	return raw
}

func lastError(t *testing.T, out *sink, conn ConnID) string {
	t.Helper()
	env, ok := out.last(conn, OutError)
	require.True(t, ok, "expected error event for %s", conn)
	return env.Data.(ErrorMessage).Message
}

func TestRouterRoomFlow(t *testing.T) {
	c, out := newTestCoordinator(t, Options{})
	r := NewRouter(c)
	connectAll(c, "A", "B")

	require.NoError(t, r.Handle("A", frame(t, EvRoomCreate, RoomCreatePayload{Name: "R1"})))
	require.NoError(t, r.Handle("A", frame(t, EvGetRooms, nil)))
	env, _ := out.last("A", OutRoomsList)
	require.Len(t, env.Data, 1)
	roomID := env.Data.([]Room)[0].ID

	require.NoError(t, r.Handle("A", frame(t, EvRoomJoin, RoomJoinPayload{Email: "a", Room: roomID})))
	require.NoError(t, r.Handle("B", frame(t, EvRoomJoin, RoomJoinPayload{Email: "b", Room: roomID})))

	err := r.Handle("B", frame(t, EvMove, rules.Move{From: "e7", To: "e5"}))
	assert.ErrorIs(t, err, ErrWrongTurn)
	assert.Equal(t, "Not your turn", lastError(t, out, "B"))

	err = r.Handle("A", frame(t, EvMove, rules.Move{From: "e2", To: "e5"}))
	assert.ErrorIs(t, err, ErrIllegalMove)
	env, ok := out.last("A", OutInvalidMove)
	require.True(t, ok)
	assert.Equal(t, InvalidMove{Move: rules.Move{From: "e2", To: "e5"}}, env.Data)

	require.NoError(t, r.Handle("A", frame(t, EvMove, rules.Move{From: "e2", To: "e4", Promotion: "q"})))
	env, _ = out.last("B", OutMove)
	assert.Equal(t, rules.Move{From: "e2", To: "e4", Promotion: "q"}, env.Data)

	require.NoError(t, r.Handle("B", frame(t, EvRoomLeave, nil)))
	assert.Equal(t, 1, out.count("A", OutPlayerLeft))
	assert.ErrorIs(t, r.Handle("B", frame(t, EvRoomLeave, nil)), ErrNotInRoom)
	assert.Equal(t, "Join a room first", lastError(t, out, "B"))

	r.Disconnect("A")
	assert.Empty(t, c.Rooms())
}

func TestRouterErrors(t *testing.T) {
	c, out := newTestCoordinator(t, Options{})
	r := NewRouter(c)
	c.Connect("A")

	assert.ErrorIs(t, r.Handle("A", []byte("not json")), ErrInvalidPayload)
	assert.Equal(t, "Malformed frame payload", lastError(t, out, "A"))

	assert.ErrorIs(t, r.Handle("A", frame(t, "dance", nil)), ErrUnknownEvent)
	assert.Equal(t, "Unknown event dance", lastError(t, out, "A"))

	assert.ErrorIs(t, r.Handle("A", []byte(`{"event":"room:join","data":"oops"}`)), ErrInvalidPayload)
	assert.Equal(t, "Malformed room:join payload", lastError(t, out, "A"))

	assert.ErrorIs(t, r.Handle("A", frame(t, EvRoomJoin, RoomJoinPayload{Email: "a", Room: "room_missing"})), ErrRoomNotFound)
	assert.Equal(t, "Room does not exist", lastError(t, out, "A"))

	assert.ErrorIs(t, r.Handle("A", frame(t, EvRoomCreate, RoomCreatePayload{})), ErrRoomNameRequired)
	assert.ErrorIs(t, r.Handle("A", frame(t, EvMove, rules.Move{From: "e2"})), ErrInvalidPayload)
	assert.ErrorIs(t, r.Handle("A", frame(t, EvMove, rules.Move{From: "e2", To: "e4"})), ErrNotInRoom)
	assert.ErrorIs(t, r.Handle("A", frame(t, EvUserCall, SignalPayload{})), ErrInvalidPayload)
	assert.ErrorIs(t, r.Handle("A", frame(t, EvUserSignedIn, SignInPayload{})), ErrIdentityRequired)
	assert.Equal(t, "Sign in before joining", lastError(t, out, "A"))
}

func TestRouterNotStartedText(t *testing.T) {
	c, out := newTestCoordinator(t, Options{})
	r := NewRouter(c)
	c.Connect("A")
	require.NoError(t, r.Handle("A", frame(t, EvRoomCreate, RoomCreatePayload{Name: "R"})))
	require.NoError(t, r.Handle("A", frame(t, EvRoomJoin, RoomJoinPayload{Email: "a", Room: "room_1"})))
	assert.ErrorIs(t, r.Handle("A", frame(t, EvMove, rules.Move{From: "e2", To: "e4"})), ErrNotStarted)
	assert.Equal(t, "Wait for both players to join", lastError(t, out, "A"))
}

func TestRouterIdentityConflictText(t *testing.T) {
	c, out := newTestCoordinator(t, Options{RejectIdentityConflict: true})
	r := NewRouter(c)
	connectAll(c, "A", "B")
	require.NoError(t, r.Handle("A", frame(t, EvUserSignedIn, SignInPayload{UserID: "u1", Username: "one"})))
	assert.ErrorIs(t, r.Handle("B", frame(t, EvUserSignedIn, SignInPayload{UserID: "u1"})), ErrIdentityConflict)
	assert.Equal(t, "u1 is already connected from another session", lastError(t, out, "B"))
}

func TestRouterQueueAndSignaling(t *testing.T) {
	c, out := newTestCoordinator(t, Options{})
	r := NewRouter(c)
	connectAll(c, "A", "B")

	require.NoError(t, r.Handle("A", frame(t, EvUserSignedIn, SignInPayload{UserID: "u1", Username: "one"})))
	require.NoError(t, r.Handle("B", frame(t, EvUserSignedIn, SignInPayload{UserID: "u2", Username: "two"})))
	env, ok := out.last("B", OutMatchFound)
	require.True(t, ok)
	matchID := env.Data.(MatchFound).RoomID

	require.NoError(t, r.Handle("B", frame(t, EvRejoin, RejoinPayload{UserID: "u2", RoomID: matchID})))
	_, ok = out.last("B", OutRejoined)
	assert.True(t, ok)

	require.NoError(t, r.Handle("A", []byte(`{"event":"user:call","data":{"to":"B","offer":{"sdp":"x"}}}`)))
	env, ok = out.last("B", OutIncomingCall)
	require.True(t, ok)
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"A","offer":{"sdp":"x"}}`, string(raw))

	require.NoError(t, r.Handle("B", []byte(`{"event":"send_message","data":{"room":"x","message":"gg"}}`)))
	env, ok = out.last("A", OutReceiveMessage)
	require.True(t, ok)
	raw, _ = json.Marshal(env.Data)
	assert.JSONEq(t, `{"room":"x","message":"gg"}`, string(raw))

	assert.ElementsMatch(t, []string{
		EvRoomCreate, EvGetRooms, EvRoomJoin, EvRoomLeave, EvMove, EvSendMessage,
		EvUserCall, EvCallAccepted, EvPeerNegoNeeded, EvPeerNegoDone, EvUserSignedIn, EvRejoin,
	}, r.Events())
}
