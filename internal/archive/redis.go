package archive

import (
    "context"
    "encoding/json"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const (
    recentKey   = "relay:games:recent"
    recentLimit = 100
    statsTTL    = 90 * 24 * time.Hour
)

func statsKey(identityID string) string { return "relay:stats:" + strings.TrimSpace(identityID) }

// PlayerStats is the per-identity tally kept in Redis.
type PlayerStats struct {
    Games  int64 `json:"games"`
    Wins   int64 `json:"wins"`
    Losses int64 `json:"losses"`
    Draws  int64 `json:"draws"`
}

// RedisSink keeps a capped list of recent results and per-player counters.
type RedisSink struct{ rdb *redis.Client }

func NewRedisSink(rdb *redis.Client) *RedisSink { return &RedisSink{rdb: rdb} }

// DialRedis connects using a redis:// or rediss:// URL and pings the server.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
    if strings.TrimSpace(rawURL) == "" {
        return nil, fmt.Errorf("REDIS_URL is required")
    }
    opts, err := ParseRedisURL(rawURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return rdb, nil
}

func ParseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(strings.TrimSpace(raw))
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" {
        n, err := strconv.Atoi(p)
        if err != nil { return nil, fmt.Errorf("redis db %q: %w", p, err) }
        db = n
    }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func (s *RedisSink) Close() error {
    if s == nil || s.rdb == nil { return nil }
    return s.rdb.Close()
}

func (s *RedisSink) Save(ctx context.Context, g Game) error {
    if s == nil || s.rdb == nil { return nil }
    raw, err := json.Marshal(g)
    if err != nil { return err }
    pipe := s.rdb.TxPipeline()
    pipe.LPush(ctx, recentKey, raw)
    pipe.LTrim(ctx, recentKey, 0, recentLimit-1)
    for _, side := range []struct{ id, field string }{
        {g.WhiteID, fieldFor(g.Result, ResultWhite)},
        {g.BlackID, fieldFor(g.Result, ResultBlack)},
    } {
        if strings.TrimSpace(side.id) == "" { continue }
        k := statsKey(side.id)
        pipe.HIncrBy(ctx, k, "games", 1)
        pipe.HIncrBy(ctx, k, side.field, 1)
        pipe.Expire(ctx, k, statsTTL)
    }
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("redis save %s: %w", g.ID, err)
    }
    return nil
}

func fieldFor(result, side string) string {
    switch result {
    case ResultDraw:
        return "draws"
    case side:
        return "wins"
    default:
        return "losses"
    }
}

// Recent returns up to n most recent games, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int) ([]Game, error) {
    if n <= 0 || n > recentLimit { n = recentLimit }
    raws, err := s.rdb.LRange(ctx, recentKey, 0, int64(n-1)).Result()
    if err != nil { return nil, err }
    out := make([]Game, 0, len(raws))
    for _, r := range raws {
        var g Game
        if err := json.Unmarshal([]byte(r), &g); err != nil { continue }
        out = append(out, g)
    }
    return out, nil
}

func (s *RedisSink) Stats(ctx context.Context, identityID string) (PlayerStats, error) {
    m, err := s.rdb.HGetAll(ctx, statsKey(identityID)).Result()
    if err != nil { return PlayerStats{}, err }
    parse := func(k string) int64 { n, _ := strconv.ParseInt(m[k], 10, 64); return n }
    return PlayerStats{Games: parse("games"), Wins: parse("wins"), Losses: parse("losses"), Draws: parse("draws")}, nil
}
