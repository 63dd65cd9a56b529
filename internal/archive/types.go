// Package archive records finished games outside the coordinator's critical section.
package archive

import (
    "context"
    "errors"
    "strings"
    "time"
)

// Game is one finished game as it is persisted.
type Game struct {
    ID        string    `json:"id"`
    SessionID string    `json:"sessionId"`
    Mode      string    `json:"mode"`
    WhiteID   string    `json:"whiteId"`
    WhiteName string    `json:"whiteName"`
    BlackID   string    `json:"blackId"`
    BlackName string    `json:"blackName"`
    Result    string    `json:"result"` // white | black | draw
    Method    string    `json:"method"`
    MovesUCI  []string  `json:"movesUci"`
    MovesSAN  []string  `json:"movesSan"`
    FinalFEN  string    `json:"finalFen"`
    StartedAt time.Time `json:"startedAt"`
    EndedAt   time.Time `json:"endedAt"`
}

const (
    ResultWhite = "white"
    ResultBlack = "black"
    ResultDraw  = "draw"
)

// Duration is clamped at zero for games without a recorded start.
func (g Game) Duration() time.Duration {
    if g.StartedAt.IsZero() || g.EndedAt.Before(g.StartedAt) { return 0 }
    return g.EndedAt.Sub(g.StartedAt)
}

// Sink persists finished games.
type Sink interface {
    Save(ctx context.Context, g Game) error
    Close() error
}

// MultiSink fans a game out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Save(ctx context.Context, g Game) error {
    var errs []error
    for _, s := range m {
        if err := s.Save(ctx, g); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

func (m MultiSink) Close() error {
    var errs []error
    for _, s := range m {
        if err := s.Close(); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

func pgnResult(result string) string {
    switch strings.ToLower(strings.TrimSpace(result)) {
    case ResultWhite:
        return "1-0"
    case ResultBlack:
        return "0-1"
    case ResultDraw:
        return "1/2-1/2"
    default:
        return "*"
    }
}
