// Package coordinator owns every piece of real-time state: the connection registry, the room
// directory, game sessions and the matchmaking queue. All operations run under one lock so
// seat assignment, move application and disconnect cleanup are atomic with respect to each other.
package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/rules"
)

// Emitter delivers one outbound event to one connection. Implementations must not block.
type Emitter interface {
	Send(conn ConnID, env Envelope)
}

// Archiver receives finished games. Submit must not block.
type Archiver interface {
	Submit(g archive.Game) bool
}

type Options struct {
	Emitter  Emitter
	Engine   rules.Engine
	Catalog  *msgcat.Catalog
	Archiver Archiver
	// RejectIdentityConflict refuses a bind for an identity another live connection holds.
	RejectIdentityConflict bool
	NewRoomID              func() string
	NewMatchID             func() string
}

type Coordinator struct {
	mu sync.Mutex

	emit           Emitter
	cat            *msgcat.Catalog
	archiver       Archiver
	rejectConflict bool
	newMatchID     func() string

	conns    map[ConnID]struct{}
	members  map[ConnID]string
	audience map[string]map[ConnID]struct{}
	registry *Registry
	rooms    *Directory
	sessions *Table
	queue    *Queue
}

func New(opts Options) *Coordinator {
	if opts.Emitter == nil { opts.Emitter = discard{} }
	if opts.Catalog == nil { opts.Catalog = msgcat.Default() }
	if opts.NewMatchID == nil {
		opts.NewMatchID = func() string { return "match_" + uuid.NewString() }
	}
	return &Coordinator{
		emit:           opts.Emitter,
		cat:            opts.Catalog,
		archiver:       opts.Archiver,
		rejectConflict: opts.RejectIdentityConflict,
		newMatchID:     opts.NewMatchID,
		conns:          make(map[ConnID]struct{}),
		members:        make(map[ConnID]string),
		audience:       make(map[string]map[ConnID]struct{}),
		registry:       NewRegistry(),
		rooms:          NewDirectory(opts.NewRoomID),
		sessions:       NewTable(opts.Engine),
		queue:          NewQueue(),
	}
}

type discard struct{}

func (discard) Send(ConnID, Envelope) {}

// Stats is a point-in-time count of the coordinator's tables.
type Stats struct {
	Connections int `json:"connections"`
	Identities  int `json:"identities"`
	Rooms       int `json:"rooms"`
	Sessions    int `json:"sessions"`
	Queued      int `json:"queued"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connections: len(c.conns),
		Identities:  c.registry.Len(),
		Rooms:       c.rooms.Len(),
		Sessions:    c.sessions.Len(),
		Queued:      c.queue.Len(),
	}
}

func (c *Coordinator) Connect(conn ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = struct{}{}
	obslog.L().Debug("conn_open", zap.String("conn", string(conn)), zap.Int("conns", len(c.conns)))
}

// Disconnect removes every trace of conn in one step. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(conn ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conns[conn]; !ok { return }
	c.queue.Remove(conn)
	dirChanged := c.leaveLocked(conn)
	c.registry.Unbind(conn)
	delete(c.conns, conn)
	if dirChanged { c.publishRoomsLocked() }
	obslog.L().Debug("conn_closed", zap.String("conn", string(conn)), zap.Int("conns", len(c.conns)))
}

// Rooms returns the directory listing in creation order.
func (c *Coordinator) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.List()
}

func (c *Coordinator) SendRooms(conn ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(conn, OutRoomsList, c.rooms.List())
}

func (c *Coordinator) CreateRoom(conn ConnID, name string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" { return Room{}, ErrRoomNameRequired }
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rooms.Create(name)
	c.sendLocked(conn, OutRoomCreated, RoomCreated{RoomID: r.ID})
	c.publishRoomsLocked()
	obslog.L().Info("room_created", zap.String("room_id", r.ID), zap.String("name", r.Name))
	return r, nil
}

// JoinRoom binds the connection to email, enters the room and assigns a seat.
func (c *Coordinator) JoinRoom(conn ConnID, p RoomJoinPayload) (Role, error) {
	email := strings.TrimSpace(p.Email)
	roomID := strings.TrimSpace(p.Room)
	if email == "" { return RoleNone, ErrIdentityRequired }

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms.Get(roomID); !ok {
		return RoleNone, fmt.Errorf("join %q: %w", roomID, ErrRoomNotFound)
	}
	who := Identity{ID: email, Name: email}
	if err := c.checkConflictLocked(conn, who); err != nil { return RoleNone, err }

	dirChanged := false
	if cur, ok := c.members[conn]; ok && cur != roomID {
		dirChanged = c.leaveLocked(conn)
	}
	c.queue.Remove(conn)
	c.bindLocked(conn, who)
	c.enterLocked(conn, roomID)

	s := c.sessions.Ensure(roomID, ModeRoom)
	held := s.roleOf(conn)
	role, startedNow, err := c.sessions.AssignSeat(roomID, conn, who)
	if err != nil { return RoleNone, err }
	// the occupant count follows seats: only a newly taken seat counts, only a vacated one uncounts
	if held == RoleNone && (role == RoleWhite || role == RoleBlack) {
		inc, err := c.rooms.Join(roomID)
		if err != nil { return RoleNone, err }
		dirChanged = dirChanged || inc
	}

	if dirChanged { c.publishRoomsLocked() }
	c.sendLocked(conn, OutPlayerRole, role)
	if s.Started {
		c.toRoomLocked(roomID, OutGameStart, gameStartOf(s), "")
		if !startedNow {
			c.sendLocked(conn, OutBoardState, BoardState{FEN: s.Game.FEN()})
		}
	}
	c.toRoomLocked(roomID, OutUserJoined, UserJoined{Email: email, ID: conn}, "")
	c.sendLocked(conn, OutRoomJoin, RoomJoinPayload{Email: email, Room: roomID})

	obslog.L().Info("room_joined",
		zap.String("room_id", roomID),
		zap.String("conn", string(conn)),
		zap.String("role", string(role)),
		zap.Bool("started", startedNow),
	)
	return role, nil
}

// LeaveRoom runs the same cleanup as a disconnect, scoped to the connection's active session.
func (c *Coordinator) LeaveRoom(conn ConnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[conn]; !ok { return ErrNotInRoom }
	if c.leaveLocked(conn) { c.publishRoomsLocked() }
	return nil
}

// Move applies m to the session the connection is a member of.
func (c *Coordinator) Move(conn ConnID, m rules.Move) (MoveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sid, ok := c.members[conn]
	if !ok { return MoveResult{}, ErrNotInRoom }
	res, err := c.sessions.ApplyMove(sid, conn, m)
	if err != nil { return MoveResult{}, err }

	c.toRoomLocked(sid, OutMove, m, "")
	c.toRoomLocked(sid, OutBoardState, BoardState{FEN: res.FEN}, "")
	if !res.Finished() { return res, nil }

	c.toRoomLocked(sid, OutGameOver, GameOver{ResultText: c.resultText(res.Outcome)}, "")
	s, _ := c.sessions.Get(sid)
	c.archiveLocked(sid, s, res)
	c.sessions.Reset(sid)
	c.toRoomLocked(sid, OutBoardState, BoardState{FEN: rules.StartFEN}, "")
	obslog.L().Info("game_over",
		zap.String("session_id", sid),
		zap.String("status", string(res.Outcome.Status)),
		zap.String("winner", string(res.Outcome.Winner)),
		zap.String("method", res.Outcome.Method),
		zap.Int("plies", len(res.MovesUCI)),
	)
	return res, nil
}

// Chat relays an opaque chat payload to the sender's room, or to everyone else outside a room.
func (c *Coordinator) Chat(conn ConnID, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sid, ok := c.members[conn]; ok {
		c.toRoomLocked(sid, OutReceiveMessage, data, conn)
		return
	}
	for other := range c.conns {
		if other != conn { c.sendLocked(other, OutReceiveMessage, data) }
	}
}

// Signal forwards one WebRTC signaling message to its target connection without interpreting it.
func (c *Coordinator) Signal(conn ConnID, event string, p SignalPayload) error {
	var out string
	var data any
	switch event {
	case EvUserCall:
		out, data = OutIncomingCall, OfferFrom{From: conn, Offer: p.Offer}
	case EvCallAccepted:
		out, data = OutCallAccepted, AnswerFrom{From: conn, Ans: p.Ans}
	case EvPeerNegoNeeded:
		out, data = OutPeerNegoNeeded, OfferFrom{From: conn, Offer: p.Offer}
	case EvPeerNegoDone:
		out, data = OutPeerNegoFinal, AnswerFrom{From: conn, Ans: p.Ans}
	default:
		return fmt.Errorf("signal %q: %w", event, ErrUnknownEvent)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conns[p.To]; !ok {
		obslog.L().Debug("signal_target_gone", zap.String("event", event), zap.String("from", string(conn)), zap.String("to", string(p.To)))
		return nil
	}
	c.sendLocked(p.To, out, data)
	return nil
}

// SignIn puts the connection into the matchmaking queue, pairing it with the head if one waits.
func (c *Coordinator) SignIn(conn ConnID, p SignInPayload) error {
	who := Identity{ID: strings.TrimSpace(p.UserID), Name: strings.TrimSpace(p.Username)}
	if who.ID == "" { return ErrIdentityRequired }
	if who.Name == "" { who.Name = who.ID }

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkConflictLocked(conn, who); err != nil { return err }
	dirChanged := false
	if _, ok := c.members[conn]; ok {
		dirChanged = c.leaveLocked(conn)
	}
	c.bindLocked(conn, who)
	c.enqueueLocked(conn, who)
	if dirChanged { c.publishRoomsLocked() }
	return nil
}

// Rejoin re-admits a connection to a live match holding a seat for userID; otherwise the client
// is told to sign in again.
func (c *Coordinator) Rejoin(conn ConnID, p RejoinPayload) bool {
	userID := strings.TrimSpace(p.UserID)
	sid := strings.TrimSpace(p.RoomID)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions.Get(sid)
	if !ok || s.Mode != ModeMatch || userID == "" {
		c.sendLocked(conn, OutUserSignedIn, SignInPrompt{UserID: userID})
		return false
	}
	role := s.roleOf(conn)
	if role == RoleNone {
		bound, isBound := c.registry.ConnectionOf(userID)
		if isBound && bound == conn {
			r, prev, moved := c.sessions.Reseat(sid, userID, conn)
			if moved {
				role = r
				c.exitLocked(prev.Conn)
			}
		}
	}
	if role == RoleNone {
		c.sendLocked(conn, OutUserSignedIn, SignInPrompt{UserID: userID})
		return false
	}
	c.queue.Remove(conn)
	c.enterLocked(conn, sid)
	c.sendLocked(conn, OutRejoined, Rejoined{RoomID: sid})
	c.sendLocked(conn, OutPlayerRole, role)
	c.sendLocked(conn, OutBoardState, BoardState{FEN: s.Game.FEN()})
	obslog.L().Info("match_rejoined", zap.String("session_id", sid), zap.String("conn", string(conn)))
	return true
}

func (c *Coordinator) checkConflictLocked(conn ConnID, who Identity) error {
	if !c.rejectConflict { return nil }
	if other, ok := c.registry.ConnectionOf(who.ID); ok && other != conn {
		return fmt.Errorf("bind %q: %w", who.ID, ErrIdentityConflict)
	}
	return nil
}

func (c *Coordinator) bindLocked(conn ConnID, who Identity) {
	if prev, had := c.registry.Bind(conn, who); had {
		obslog.L().Info("identity_superseded", zap.String("identity", who.ID), zap.String("old_conn", string(prev)), zap.String("conn", string(conn)))
	}
}

func (c *Coordinator) enterLocked(conn ConnID, sid string) {
	c.members[conn] = sid
	set, ok := c.audience[sid]
	if !ok {
		set = make(map[ConnID]struct{})
		c.audience[sid] = set
	}
	set[conn] = struct{}{}
}

func (c *Coordinator) exitLocked(conn ConnID) {
	sid, ok := c.members[conn]
	if !ok { return }
	delete(c.members, conn)
	if set, ok := c.audience[sid]; ok {
		delete(set, conn)
		if len(set) == 0 { delete(c.audience, sid) }
	}
}

// leaveLocked drops conn's active membership and reports whether the room directory changed.
func (c *Coordinator) leaveLocked(conn ConnID) bool {
	sid, ok := c.members[conn]
	if !ok { return false }
	c.exitLocked(conn)
	s, ok := c.sessions.Get(sid)
	mode := ModeRoom
	if ok { mode = s.Mode }

	if mode == ModeMatch {
		c.endMatchLocked(sid, conn)
		return false
	}
	v := c.sessions.VacateSeat(sid, conn)
	if v.Role == RoleNone { return false }
	if v.WasStarted {
		c.toRoomLocked(sid, OutPlayerLeft, PlayerLeft{Email: v.Identity.ID}, "")
	}
	obslog.L().Info("seat_vacated",
		zap.String("room_id", sid),
		zap.String("conn", string(conn)),
		zap.String("role", string(v.Role)),
		zap.Bool("was_started", v.WasStarted),
		zap.Bool("session_deleted", v.Deleted),
	)
	if _, listed := c.rooms.Get(sid); !listed { return false }
	c.rooms.Leave(sid)
	return true
}

// endMatchLocked tears a match down after leaver left and sends the partner back to the queue.
func (c *Coordinator) endMatchLocked(sid string, leaver ConnID) {
	s, ok := c.sessions.Get(sid)
	if !ok { return }
	var partner *Seat
	for _, seat := range []*Seat{s.White, s.Black} {
		if seat != nil && seat.Conn != leaver {
			p := *seat
			partner = &p
		}
	}
	c.sessions.Delete(sid)
	for conn := range c.audience[sid] {
		delete(c.members, conn)
	}
	delete(c.audience, sid)
	obslog.L().Info("match_ended", zap.String("session_id", sid), zap.String("conn", string(leaver)))
	if partner == nil { return }
	if _, live := c.conns[partner.Conn]; !live { return }
	c.sendLocked(partner.Conn, OutPartnerDisconnected, Notice{Message: c.cat.Text(msgcat.QueuePartnerGone, nil)})
	who, bound := c.registry.IdentityOf(partner.Conn)
	if !bound { who = partner.Identity }
	c.enqueueLocked(partner.Conn, who)
}

func (c *Coordinator) enqueueLocked(conn ConnID, who Identity) {
	head, matched := c.queue.EnqueueOrMatch(conn, who)
	if !matched {
		c.sendLocked(conn, OutWaiting, Notice{Message: c.cat.Text(msgcat.QueueWaiting, nil)})
		obslog.L().Debug("queue_waiting", zap.String("conn", string(conn)), zap.Int("queued", c.queue.Len()))
		return
	}
	c.startMatchLocked(head, Entry{Conn: conn, Identity: who})
}

// startMatchLocked seats the queue head as white and the arrival as black; the match starts at once.
func (c *Coordinator) startMatchLocked(head, arrival Entry) {
	sid := c.newMatchID()
	s := c.sessions.Ensure(sid, ModeMatch)
	for _, e := range []Entry{head, arrival} {
		if _, _, err := c.sessions.AssignSeat(sid, e.Conn, e.Identity); err != nil {
			obslog.L().Error("match_seat_failed", zap.String("session_id", sid), zap.Error(err))
			return
		}
		c.enterLocked(e.Conn, sid)
	}
	msg := c.cat.Text(msgcat.QueueMatchFound, nil)
	for _, e := range []Entry{head, arrival} {
		c.sendLocked(e.Conn, OutMatchFound, MatchFound{RoomID: sid, Message: msg})
		c.sendLocked(e.Conn, OutPlayerRole, s.roleOf(e.Conn))
	}
	c.toRoomLocked(sid, OutGameStart, gameStartOf(s), "")
	obslog.L().Info("match_found",
		zap.String("session_id", sid),
		zap.String("white", head.Identity.ID),
		zap.String("black", arrival.Identity.ID),
	)
}

func (c *Coordinator) archiveLocked(sid string, s *Session, res MoveResult) {
	if c.archiver == nil || s == nil { return }
	g := archive.Game{
		SessionID: sid,
		Mode:      string(s.Mode),
		WhiteID:   res.White.ID,
		WhiteName: res.White.Name,
		BlackID:   res.Black.ID,
		BlackName: res.Black.Name,
		Method:    res.Outcome.Method,
		MovesUCI:  res.MovesUCI,
		MovesSAN:  res.MovesSAN,
		FinalFEN:  res.FEN,
		StartedAt: res.StartedAt,
		EndedAt:   time.Now(),
	}
	switch {
	case res.Outcome.Status == rules.Draw:
		g.Result = archive.ResultDraw
	case res.Outcome.Winner == rules.Black:
		g.Result = archive.ResultBlack
	default:
		g.Result = archive.ResultWhite
	}
	if !c.archiver.Submit(g) {
		obslog.L().Warn("archive_submit_dropped", zap.String("session_id", sid))
	}
}

func (c *Coordinator) resultText(o rules.Outcome) string {
	if o.Status == rules.Checkmate {
		return c.cat.Text(msgcat.GameCheckmate, map[string]any{"Winner": o.Winner.Name()})
	}
	return c.cat.Text(msgcat.GameDraw, nil)
}

func gameStartOf(s *Session) GameStart {
	var gs GameStart
	if s.White != nil { gs.White = s.White.Identity.Name }
	if s.Black != nil { gs.Black = s.Black.Identity.Name }
	return gs
}

func (c *Coordinator) sendLocked(conn ConnID, event string, data any) {
	c.emit.Send(conn, Envelope{Event: event, Data: data})
}

// emitTo sends outside the lock; used for replies that touch no table.
func (c *Coordinator) emitTo(conn ConnID, event string, data any) {
	c.emit.Send(conn, Envelope{Event: event, Data: data})
}

func (c *Coordinator) toRoomLocked(sid, event string, data any, except ConnID) {
	for conn := range c.audience[sid] {
		if conn != except { c.sendLocked(conn, event, data) }
	}
}

func (c *Coordinator) publishRoomsLocked() {
	list := c.rooms.List()
	for conn := range c.conns {
		c.sendLocked(conn, OutRoomsList, list)
	}
}
