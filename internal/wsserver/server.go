// Package wsserver is the HTTP and WebSocket front of the relay: one persistent connection per
// browser carrying {"event","data"} JSON frames.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/coordinator"
	"github.com/park285/chess-relay/internal/obslog"
)

// Dispatcher receives connection lifecycle and inbound frames.
type Dispatcher interface {
	Connect(conn coordinator.ConnID)
	Handle(conn coordinator.ConnID, raw []byte) error
	Disconnect(conn coordinator.ConnID)
}

// State is the read-only view served over plain HTTP.
type State interface {
	Rooms() []coordinator.Room
	Stats() coordinator.Stats
}

// History is the read side of the game archive.
type History interface {
	Recent(ctx context.Context, n int) ([]archive.Game, error)
	Stats(ctx context.Context, identityID string) (archive.PlayerStats, error)
}

type Options struct {
	Addr            string
	AllowedOrigins  []string
	SendBuffer      int
	MaxMessageBytes int64
	RateLimitPerSec float64
	RateLimitBurst  int
	PingInterval    time.Duration
	// History enables /api/games/recent and /api/players/{id}/stats when set.
	History History
}

type Server struct {
	opts     Options
	hub      *Hub
	disp     Dispatcher
	state    State
	patterns []string
	allowAll bool

	ctx  context.Context
	stop context.CancelFunc
	srv  *http.Server
}

func New(opts Options, hub *Hub, disp Dispatcher, state State) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{opts: opts, hub: hub, disp: disp, state: state, ctx: ctx, stop: stop}
	s.patterns, s.allowAll = originPatterns(opts.AllowedOrigins)
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/rooms", s.handleRooms)
	if s.opts.History != nil {
		r.Get("/api/games/recent", s.handleRecentGames)
		r.Get("/api/players/{id}/stats", s.handlePlayerStats)
	}
	return r
}

func (s *Server) ListenAndServe() error {
	obslog.L().Info("http_listen", zap.String("addr", s.opts.Addr), zap.Strings("origins", s.opts.AllowedOrigins))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every live WebSocket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.hub.closeAll()
	s.stop()
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.patterns,
		InsecureSkipVerify: s.allowAll,
	})
	if err != nil {
		obslog.L().Info("ws_accept_rejected", zap.String("origin", r.Header.Get("Origin")), zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if s.opts.MaxMessageBytes > 0 { ws.SetReadLimit(s.opts.MaxMessageBytes) }

	id := coordinator.ConnID(uuid.NewString())
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	cl := newClient(id, ws, s.opts.SendBuffer, cancel)

	var lim *rate.Limiter
	if s.opts.RateLimitPerSec > 0 {
		burst := s.opts.RateLimitBurst
		if burst <= 0 { burst = 1 }
		lim = rate.NewLimiter(rate.Limit(s.opts.RateLimitPerSec), burst)
	}

	s.hub.add(cl)
	s.disp.Connect(id)
	obslog.L().Info("ws_connected", zap.String("conn", string(id)), zap.String("remote", r.RemoteAddr))

	go cl.writePump(ctx, s.opts.PingInterval)
	cl.readPump(ctx, s.disp, lim)

	cancel()
	s.hub.remove(id)
	s.disp.Disconnect(id)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnected", zap.String("conn", string(id)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": s.state.Stats(), "clients": s.hub.Len()})
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Rooms())
}

func (s *Server) handleRecentGames(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 { n = 20 }
	games, err := s.opts.History.Recent(r.Context(), n)
	if err != nil {
		obslog.L().Warn("history_recent_failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "player id required"})
		return
	}
	st, err := s.opts.History.Stats(r.Context(), id)
	if err != nil {
		obslog.L().Warn("history_stats_failed", zap.String("player", id), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

// originPatterns turns configured origins into host patterns; "*" disables the check.
func originPatterns(origins []string) ([]string, bool) {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" { continue }
		if o == "*" { return nil, true }
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, strings.ToLower(u.Host))
			continue
		}
		out = append(out, strings.ToLower(o))
	}
	return out, false
}
