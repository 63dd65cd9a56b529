package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/chess-relay/internal/rules"
)

// Seat is a connection holding white or black together with the identity it joined as.
type Seat struct {
	Conn     ConnID
	Identity Identity
}

// Session is the authoritative game/pairing state for one room or match.
type Session struct {
	ID        string
	Mode      Mode
	Game      rules.Game
	White     *Seat
	Black     *Seat
	Started   bool
	StartedAt time.Time
}

func (s *Session) roleOf(conn ConnID) Role {
	switch {
	case s.White != nil && s.White.Conn == conn:
		return RoleWhite
	case s.Black != nil && s.Black.Conn == conn:
		return RoleBlack
	default:
		return RoleNone
	}
}

func (s *Session) empty() bool { return s.White == nil && s.Black == nil }

func (s *Session) seat(r Role) *Seat {
	switch r {
	case RoleWhite:
		return s.White
	case RoleBlack:
		return s.Black
	}
	return nil
}

// MoveResult is what an accepted move produced.
type MoveResult struct {
	Move      rules.Move
	Mover     Role
	FEN       string
	Outcome   rules.Outcome
	MovesUCI  []string
	MovesSAN  []string
	White     Identity
	Black     Identity
	StartedAt time.Time
}

// Finished reports whether the move ended the game.
func (r MoveResult) Finished() bool { return r.Outcome.Status != rules.InProgress }

// Vacated describes the effect of a seat being released.
type Vacated struct {
	Role       Role
	Identity   Identity
	WasStarted bool
	Deleted    bool
}

// Table holds one session per room or match id.
type Table struct {
	engine   rules.Engine
	sessions map[string]*Session
	now      func() time.Time
}

func NewTable(engine rules.Engine) *Table {
	if engine == nil {
		engine = rules.Standard{}
	}
	return &Table{engine: engine, sessions: make(map[string]*Session), now: time.Now}
}

// Ensure creates a fresh session for id when none exists.
func (t *Table) Ensure(id string, mode Mode) *Session {
	if s, ok := t.sessions[id]; ok {
		return s
	}
	s := &Session{ID: id, Mode: mode, Game: t.engine.NewGame()}
	t.sessions[id] = s
	return s
}

func (t *Table) Get(id string) (*Session, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

func (t *Table) Delete(id string) { delete(t.sessions, id) }

func (t *Table) Len() int { return len(t.sessions) }

// AssignSeat gives conn white, then black, then spectator. A connection already seated keeps its
// role. Filling the second seat is the only transition into started.
func (t *Table) AssignSeat(id string, conn ConnID, who Identity) (role Role, startedNow bool, err error) {
	s, ok := t.sessions[id]
	if !ok {
		return RoleNone, false, fmt.Errorf("assign seat in %s: %w", id, ErrSessionNotFound)
	}
	if r := s.roleOf(conn); r != RoleNone {
		return r, false, nil
	}
	switch {
	case s.White == nil:
		s.White = &Seat{Conn: conn, Identity: who}
		role = RoleWhite
	case s.Black == nil:
		s.Black = &Seat{Conn: conn, Identity: who}
		role = RoleBlack
	default:
		return RoleSpectator, false, nil
	}
	if !s.Started && s.White != nil && s.Black != nil {
		s.Started = true
		s.StartedAt = t.now()
		startedNow = true
	}
	return role, startedNow, nil
}

// RoleOf reports conn's role in the session; connections without a seat are spectators.
func (t *Table) RoleOf(id string, conn ConnID) Role {
	s, ok := t.sessions[id]
	if !ok { return RoleNone }
	if r := s.roleOf(conn); r != RoleNone { return r }
	return RoleSpectator
}

// ApplyMove validates turn order and legality, then updates the stored position.
func (t *Table) ApplyMove(id string, conn ConnID, m rules.Move) (MoveResult, error) {
	s, ok := t.sessions[id]
	if !ok {
		return MoveResult{}, fmt.Errorf("move in %s: %w", id, ErrSessionNotFound)
	}
	if !s.Started {
		return MoveResult{}, ErrNotStarted
	}
	mover := roleForColor(s.Game.Turn())
	if s.roleOf(conn) != mover {
		return MoveResult{}, ErrWrongTurn
	}
	if c, ok := s.Game.ColorAt(m.From); ok && c != s.Game.Turn() {
		return MoveResult{}, ErrWrongTurn
	}
	out, err := s.Game.Apply(m)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return MoveResult{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		return MoveResult{}, err
	}
	res := MoveResult{
		Move:      m,
		Mover:     mover,
		FEN:       s.Game.FEN(),
		Outcome:   out,
		StartedAt: s.StartedAt,
	}
	if s.White != nil { res.White = s.White.Identity }
	if s.Black != nil { res.Black = s.Black.Identity }
	if res.Finished() {
		res.MovesUCI = s.Game.MovesUCI()
		res.MovesSAN = s.Game.MovesSAN()
	}
	return res, nil
}

// VacateSeat clears conn's seat. A started game is reset; a session with no seats left is deleted.
func (t *Table) VacateSeat(id string, conn ConnID) Vacated {
	s, ok := t.sessions[id]
	if !ok { return Vacated{} }
	var v Vacated
	switch s.roleOf(conn) {
	case RoleWhite:
		v = Vacated{Role: RoleWhite, Identity: s.White.Identity}
		s.White = nil
	case RoleBlack:
		v = Vacated{Role: RoleBlack, Identity: s.Black.Identity}
		s.Black = nil
	default:
		return Vacated{}
	}
	if s.Started {
		v.WasStarted = true
		s.Started = false
		s.StartedAt = time.Time{}
		s.Game = t.engine.NewGame()
	}
	if s.empty() {
		delete(t.sessions, id)
		v.Deleted = true
	}
	return v
}

// Reset clears the position after game over. Seats are kept for a rematch unless both are
// empty, in which case the session is removed. A full match restarts immediately since its
// seats are never re-filled through a join.
func (t *Table) Reset(id string) (deleted bool) {
	s, ok := t.sessions[id]
	if !ok { return false }
	s.Game = t.engine.NewGame()
	s.Started = false
	s.StartedAt = time.Time{}
	if s.empty() {
		delete(t.sessions, id)
		return true
	}
	if s.Mode == ModeMatch && s.White != nil && s.Black != nil {
		s.Started = true
		s.StartedAt = t.now()
	}
	return false
}

// Reseat moves the seat held by identityID to conn. Used by queue-mode rejoin only.
func (t *Table) Reseat(id, identityID string, conn ConnID) (Role, *Seat, bool) {
	s, ok := t.sessions[id]
	if !ok { return RoleNone, nil, false }
	for _, r := range []Role{RoleWhite, RoleBlack} {
		seat := s.seat(r)
		if seat != nil && seat.Identity.ID == identityID {
			prev := *seat
			seat.Conn = conn
			return r, &prev, true
		}
	}
	return RoleNone, nil, false
}
