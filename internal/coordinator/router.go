package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/rules"
)

type handlerFunc func(conn ConnID, data json.RawMessage) error

// Router decodes inbound frames and dispatches them by event name. Client-visible failures are
// reported back to the sending connection; the returned error is for transport logging only.
type Router struct {
	c        *Coordinator
	handlers map[string]handlerFunc
}

func NewRouter(c *Coordinator) *Router {
	r := &Router{c: c}
	r.handlers = map[string]handlerFunc{
		EvRoomCreate:     r.roomCreate,
		EvGetRooms:       r.getRooms,
		EvRoomJoin:       r.roomJoin,
		EvRoomLeave:      r.roomLeave,
		EvMove:           r.move,
		EvSendMessage:    r.sendMessage,
		EvUserCall:       r.signal(EvUserCall),
		EvCallAccepted:   r.signal(EvCallAccepted),
		EvPeerNegoNeeded: r.signal(EvPeerNegoNeeded),
		EvPeerNegoDone:   r.signal(EvPeerNegoDone),
		EvUserSignedIn:   r.userSignedIn,
		EvRejoin:         r.rejoin,
	}
	return r
}

// Events lists the inbound event names the router understands.
func (r *Router) Events() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// Handle processes one raw inbound frame from conn.
func (r *Router) Handle(conn ConnID, raw []byte) error {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || strings.TrimSpace(f.Event) == "" {
		r.reply(conn, "frame", nil, fmt.Errorf("decode frame: %w", ErrInvalidPayload))
		return fmt.Errorf("decode frame: %w", ErrInvalidPayload)
	}
	h, ok := r.handlers[f.Event]
	if !ok {
		err := fmt.Errorf("%q: %w", f.Event, ErrUnknownEvent)
		r.reply(conn, f.Event, f.Data, err)
		return err
	}
	if err := h(conn, f.Data); err != nil {
		r.reply(conn, f.Event, f.Data, err)
		return err
	}
	return nil
}

func (r *Router) Connect(conn ConnID) { r.c.Connect(conn) }

// Disconnect is the implicit event raised by the transport when a connection closes.
func (r *Router) Disconnect(conn ConnID) { r.c.Disconnect(conn) }

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" { return v, nil }
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

func (r *Router) roomCreate(conn ConnID, data json.RawMessage) error {
	p, err := decode[RoomCreatePayload](data)
	if err != nil { return err }
	_, err = r.c.CreateRoom(conn, p.Name)
	return err
}

func (r *Router) getRooms(conn ConnID, _ json.RawMessage) error {
	r.c.SendRooms(conn)
	return nil
}

func (r *Router) roomJoin(conn ConnID, data json.RawMessage) error {
	p, err := decode[RoomJoinPayload](data)
	if err != nil { return err }
	_, err = r.c.JoinRoom(conn, p)
	return err
}

func (r *Router) roomLeave(conn ConnID, _ json.RawMessage) error {
	return r.c.LeaveRoom(conn)
}

func (r *Router) move(conn ConnID, data json.RawMessage) error {
	m, err := decode[rules.Move](data)
	if err != nil { return err }
	if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("move without squares: %w", ErrInvalidPayload)
	}
	_, err = r.c.Move(conn, m)
	return err
}

func (r *Router) sendMessage(conn ConnID, data json.RawMessage) error {
	if len(data) == 0 { return fmt.Errorf("empty chat: %w", ErrInvalidPayload) }
	r.c.Chat(conn, data)
	return nil
}

func (r *Router) signal(event string) handlerFunc {
	return func(conn ConnID, data json.RawMessage) error {
		p, err := decode[SignalPayload](data)
		if err != nil { return err }
		if p.To == "" { return fmt.Errorf("%s without target: %w", event, ErrInvalidPayload) }
		return r.c.Signal(conn, event, p)
	}
}

func (r *Router) userSignedIn(conn ConnID, data json.RawMessage) error {
	p, err := decode[SignInPayload](data)
	if err != nil { return err }
	return r.c.SignIn(conn, p)
}

func (r *Router) rejoin(conn ConnID, data json.RawMessage) error {
	p, err := decode[RejoinPayload](data)
	if err != nil { return err }
	r.c.Rejoin(conn, p)
	return nil
}

// reply turns err into the client-facing event for conn.
func (r *Router) reply(conn ConnID, event string, data json.RawMessage, err error) {
	cat := r.c.cat
	var text string
	switch {
	case errors.Is(err, ErrIllegalMove):
		m, _ := decode[rules.Move](data)
		r.c.emitTo(conn, OutInvalidMove, InvalidMove{Move: m})
		return
	case errors.Is(err, ErrInvalidPayload):
		text = cat.Text(msgcat.PayloadInvalid, map[string]any{"Event": event})
	case errors.Is(err, ErrUnknownEvent):
		text = cat.Text(msgcat.PayloadUnknownEvent, map[string]any{"Event": event})
	case errors.Is(err, ErrRoomNotFound):
		text = cat.Text(msgcat.RoomNotFound, nil)
	case errors.Is(err, ErrRoomNameRequired):
		text = cat.Text(msgcat.RoomNameRequired, nil)
	case errors.Is(err, ErrNotInRoom), errors.Is(err, ErrSessionNotFound):
		text = cat.Text(msgcat.RoomNotJoined, nil)
	case errors.Is(err, ErrNotStarted):
		text = cat.Text(msgcat.MoveNotStarted, nil)
	case errors.Is(err, ErrWrongTurn):
		text = cat.Text(msgcat.MoveNotYourTurn, nil)
	case errors.Is(err, ErrIdentityRequired):
		text = cat.Text(msgcat.IdentityRequired, nil)
	case errors.Is(err, ErrIdentityConflict):
		text = cat.Text(msgcat.IdentityConflict, map[string]any{"Identity": identityIn(data)})
	default:
		obslog.L().Error("event_failed", zap.String("event", event), zap.String("conn", string(conn)), zap.Error(err))
		text = cat.Text(msgcat.MoveFailed, nil)
	}
	r.c.emitTo(conn, OutError, ErrorMessage{Message: text})
}

// identityIn pulls the declared identity out of a join or sign-in payload.
func identityIn(data json.RawMessage) string {
	var p struct {
		Email  string `json:"email"`
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(data, &p)
	if p.Email != "" { return p.Email }
	return p.UserID
}
