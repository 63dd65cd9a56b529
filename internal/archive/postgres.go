package archive

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS relay_games (
    game_id     TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    mode        TEXT NOT NULL,
    white_id    TEXT NOT NULL,
    white_name  TEXT NOT NULL,
    black_id    TEXT NOT NULL,
    black_name  TEXT NOT NULL,
    result      TEXT NOT NULL,
    result_method TEXT NOT NULL,
    moves_uci   JSONB NOT NULL,
    moves_san   JSONB NOT NULL,
    pgn         TEXT NOT NULL,
    final_fen   TEXT NOT NULL,
    started_at  TIMESTAMPTZ,
    ended_at    TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
)`

const upsertSQL = `INSERT INTO relay_games (
    game_id, session_id, mode, white_id, white_name, black_id, black_name,
    result, result_method, moves_uci, moves_san, pgn, final_fen,
    started_at, ended_at, duration_ms
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
  ) ON CONFLICT (game_id) DO UPDATE SET
    result=EXCLUDED.result,
    result_method=EXCLUDED.result_method,
    moves_uci=EXCLUDED.moves_uci,
    moves_san=EXCLUDED.moves_san,
    pgn=EXCLUDED.pgn,
    final_fen=EXCLUDED.final_fen,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

// PostgresSink stores finished games in relay_games.
type PostgresSink struct {
    db *sql.DB
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil { return nil, err }
    db.SetMaxOpenConns(8)
    db.SetMaxIdleConns(4)
    db.SetConnMaxLifetime(30 * time.Minute)
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pctx); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("postgres ping: %w", err)
    }
    if _, err := db.ExecContext(pctx, schemaSQL); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("postgres schema: %w", err)
    }
    return &PostgresSink{db: db}, nil
}

func (p *PostgresSink) Close() error {
    if p == nil || p.db == nil { return nil }
    return p.db.Close()
}

func (p *PostgresSink) Save(ctx context.Context, g Game) error {
    if p == nil || p.db == nil { return nil }
    uci, err := json.Marshal(nonNil(g.MovesUCI))
    if err != nil { return err }
    san, err := json.Marshal(nonNil(g.MovesSAN))
    if err != nil { return err }
    var started any
    if !g.StartedAt.IsZero() { started = g.StartedAt }
    _, err = p.db.ExecContext(ctx, upsertSQL,
        g.ID, g.SessionID, g.Mode,
        g.WhiteID, g.WhiteName,
        g.BlackID, g.BlackName,
        g.Result, strings.TrimSpace(g.Method), string(uci), string(san), PGN(g), g.FinalFEN,
        started, g.EndedAt, g.Duration().Milliseconds(),
    )
    if err != nil { return fmt.Errorf("save game %s: %w", g.ID, err) }
    return nil
}

func nonNil(s []string) []string {
    if s == nil { return []string{} }
    return s
}
