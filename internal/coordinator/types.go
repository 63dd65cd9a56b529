package coordinator

import (
	"errors"

	"github.com/park285/chess-relay/internal/rules"
)

// ConnID identifies one live transport connection.
type ConnID string

// Identity is the application user a client declares after HTTP sign-in. It is not verified here.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Role is what a connection may do in a session.
type Role string

const (
	RoleNone      Role = ""
	RoleWhite     Role = "w"
	RoleBlack     Role = "b"
	RoleSpectator Role = "spectator"
)

func roleForColor(c rules.Color) Role {
	if c == rules.Black { return RoleBlack }
	return RoleWhite
}

// Mode distinguishes explicitly created rooms from queue matches.
type Mode string

const (
	ModeRoom  Mode = "room"
	ModeMatch Mode = "match"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomNameRequired = errors.New("room name required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotInRoom        = errors.New("connection has no active room")
	ErrNotStarted       = errors.New("game not started")
	ErrWrongTurn        = errors.New("not your turn")
	ErrIllegalMove      = errors.New("illegal move")
	ErrIdentityRequired = errors.New("identity required")
	ErrIdentityConflict = errors.New("identity already bound to another connection")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnknownEvent     = errors.New("unknown event")
)
