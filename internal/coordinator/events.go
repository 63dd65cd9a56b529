package coordinator

import (
	"encoding/json"

	"github.com/park285/chess-relay/internal/rules"
)

// Inbound event names.
const (
	EvRoomCreate     = "room:create"
	EvGetRooms       = "get:rooms"
	EvRoomJoin       = "room:join"
	EvRoomLeave      = "room:leave"
	EvMove           = "move"
	EvSendMessage    = "send_message"
	EvUserCall       = "user:call"
	EvCallAccepted   = "call:accepted"
	EvPeerNegoNeeded = "peer:nego:needed"
	EvPeerNegoDone   = "peer:nego:done"
	EvUserSignedIn   = "userSignedIn"
	EvRejoin         = "rejoin"
)

// Outbound event names (some share the inbound spelling).
const (
	OutRoomsList           = "rooms:list"
	OutRoomCreated         = "room:created"
	OutRoomJoin            = "room:join"
	OutPlayerRole          = "playerRole"
	OutGameStart           = "gameStart"
	OutMove                = "move"
	OutBoardState          = "boardState"
	OutInvalidMove         = "invalidMove"
	OutGameOver            = "gameOver"
	OutPlayerLeft          = "playerLeft"
	OutUserJoined          = "user:joined"
	OutError               = "error"
	OutMatchFound          = "matchFound"
	OutWaiting             = "waiting"
	OutPartnerDisconnected = "partnerDisconnected"
	OutRejoined            = "rejoined"
	OutUserSignedIn        = "userSignedIn"
	OutReceiveMessage      = "receive_message"
	OutIncomingCall        = "incomming:call"
	OutCallAccepted        = "call:accepted"
	OutPeerNegoNeeded      = "peer:nego:needed"
	OutPeerNegoFinal       = "peer:nego:final"
)

// Frame is one inbound wire message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is one outbound wire message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type RoomCreatePayload struct {
	Name string `json:"name"`
}

type RoomJoinPayload struct {
	Email string `json:"email"`
	Room  string `json:"room"`
}

type SignInPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type RejoinPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// SignalPayload covers the four WebRTC signaling events; exactly one of Offer/Ans is set.
type SignalPayload struct {
	To    ConnID          `json:"to"`
	Offer json.RawMessage `json:"offer,omitempty"`
	Ans   json.RawMessage `json:"ans,omitempty"`
}

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type GameStart struct {
	White string `json:"white"`
	Black string `json:"black"`
}

type BoardState struct {
	FEN string `json:"fen"`
}

type InvalidMove struct {
	Move rules.Move `json:"move"`
}

type GameOver struct {
	ResultText string `json:"resultText"`
}

type PlayerLeft struct {
	Email string `json:"email"`
}

type UserJoined struct {
	Email string `json:"email"`
	ID    ConnID `json:"id"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type MatchFound struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type Notice struct {
	Message string `json:"message"`
}

type Rejoined struct {
	RoomID string `json:"roomId"`
}

type SignInPrompt struct {
	UserID string `json:"userId"`
}

type OfferFrom struct {
	From  ConnID          `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

type AnswerFrom struct {
	From ConnID          `json:"from"`
	Ans  json.RawMessage `json:"ans"`
}
