// Package rules adapts a chess move-legality engine to the narrow capability the coordinator
// needs: apply a candidate move, report legality, classify the result, serialize the position.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned by Game.Apply when the engine rejects the move.
var ErrIllegalMove = errors.New("illegal move")

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color is the side to move, encoded the way clients expect ("w"/"b").
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

// Name is the capitalised English name used in result texts.
func (c Color) Name() string {
	if c == Black { return "Black" }
	return "White"
}

// Status classifies a position after a move.
type Status string

const (
	InProgress Status = "in_progress"
	Checkmate  Status = "checkmate"
	Draw       Status = "draw"
)

// Move is a client move in coordinate form. Promotion is a piece letter (q, r, b, n) or empty.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move as e2e4 / e7e8q.
func (m Move) UCI() string {
	s := strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To))
	if p := strings.ToLower(strings.TrimSpace(m.Promotion)); p != "" {
		s += p[:1]
	}
	return s
}

// Outcome describes the position reached by a move.
type Outcome struct {
	Status Status
	Winner Color  // set for Checkmate
	Method string // engine method name, e.g. "checkmate", "stalemate", "threefoldrepetition"
}

// Game is one authoritative chess position with its move history.
type Game interface {
	Turn() Color
	FEN() string
	// ColorAt reports the colour of the piece on square (e.g. "e2"); false for an empty or bad square.
	ColorAt(square string) (Color, bool)
	LegalMoves() []string
	Apply(m Move) (Outcome, error)
	Outcome() Outcome
	MovesUCI() []string
	MovesSAN() []string
}

// Engine creates games at the initial position.
type Engine interface {
	NewGame() Game
}

// Standard is the corentings/chess backed Engine.
type Standard struct{}

func (Standard) NewGame() Game { return &standardGame{game: nchess.NewGame()} }

// Restore rebuilds a game by replaying UCI moves from the initial position.
func Restore(moves []string) (Game, error) {
	g := &standardGame{game: nchess.NewGame()}
	for _, mv := range moves {
		if err := g.push(strings.ToLower(strings.TrimSpace(mv))); err != nil {
			return nil, fmt.Errorf("replay %s: %w", mv, err)
		}
	}
	return g, nil
}

type standardGame struct {
	game *nchess.Game
	uci  []string
	san  []string
}

func (g *standardGame) Turn() Color {
	if g.game.Position().Turn() == nchess.Black { return Black }
	return White
}

func (g *standardGame) FEN() string { return g.game.FEN() }

func (g *standardGame) ColorAt(square string) (Color, bool) {
	sq, ok := parseSquare(square)
	if !ok { return "", false }
	board := g.game.Position().Board()
	if board == nil { return "", false }
	piece := board.Piece(sq)
	if piece == nchess.NoPiece { return "", false }
	if piece.Color() == nchess.Black { return Black, true }
	return White, true
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NewSquare(nchess.FileA, nchess.Rank1), false
	}
	return nchess.NewSquare(nchess.FileA+nchess.File(s[0]-'a'), nchess.Rank1+nchess.Rank(s[1]-'1')), true
}

func (g *standardGame) LegalMoves() []string {
	return moveStrings(g.game.ValidMoves())
}

func (g *standardGame) Apply(m Move) (Outcome, error) {
	if g.game.Outcome() != nchess.NoOutcome {
		return Outcome{}, fmt.Errorf("%w: game already finished", ErrIllegalMove)
	}
	uci := m.UCI()
	if len(uci) < 4 {
		return Outcome{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	err := g.push(uci)
	if err != nil && len(uci) == 5 {
		// browsers send promotion on every move; it only matters for pawns reaching the last rank
		err = g.push(uci[:4])
	}
	if err != nil {
		return Outcome{}, err
	}
	return g.Outcome(), nil
}

func (g *standardGame) push(uci string) error {
	pos := g.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := g.game.Move(mv, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	g.uci = append(g.uci, uci)
	g.san = append(g.san, san)
	return nil
}

func (g *standardGame) Outcome() Outcome {
	method := strings.ToLower(g.game.Method().String())
	switch g.game.Outcome() {
	case nchess.WhiteWon:
		return Outcome{Status: Checkmate, Winner: White, Method: method}
	case nchess.BlackWon:
		return Outcome{Status: Checkmate, Winner: Black, Method: method}
	case nchess.Draw:
		return Outcome{Status: Draw, Method: method}
	default:
		return Outcome{Status: InProgress}
	}
}

func (g *standardGame) MovesUCI() []string { return append([]string(nil), g.uci...) }
func (g *standardGame) MovesSAN() []string { return append([]string(nil), g.san...) }

// moveStrings renders engine moves through their Stringer (coordinate notation); it accepts
// both value and pointer slices.
func moveStrings[M any](moves []M) []string {
	out := make([]string, 0, len(moves))
	for i := range moves {
		if s, ok := any(&moves[i]).(fmt.Stringer); ok {
			out = append(out, strings.ToLower(s.String()))
			continue
		}
		if s, ok := any(moves[i]).(fmt.Stringer); ok {
			out = append(out, strings.ToLower(s.String()))
		}
	}
	return out
}
