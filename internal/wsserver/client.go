package wsserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/park285/chess-relay/internal/coordinator"
	"github.com/park285/chess-relay/internal/obslog"
)

const writeTimeout = 5 * time.Second

type client struct {
	id     coordinator.ConnID
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

func newClient(id coordinator.ConnID, ws *websocket.Conn, buffer int, cancel context.CancelFunc) *client {
	if buffer <= 0 { buffer = 64 }
	return &client{id: id, ws: ws, send: make(chan []byte, buffer), cancel: cancel}
}

func (c *client) enqueue(raw []byte) bool {
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *client) kick() { c.cancel() }

// readPump feeds inbound frames to d until the connection fails or ctx ends.
func (c *client) readPump(ctx context.Context, d Dispatcher, lim *rate.Limiter) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			logReadErr(c.id, err)
			return
		}
		if typ != websocket.MessageText {
			obslog.L().Debug("ws_binary_ignored", zap.String("conn", string(c.id)))
			continue
		}
		if lim != nil && !lim.Allow() {
			obslog.L().Debug("ws_rate_limited", zap.String("conn", string(c.id)))
			continue
		}
		if err := d.Handle(c.id, data); err != nil {
			obslog.L().Debug("ws_event_rejected", zap.String("conn", string(c.id)), zap.Error(err))
		}
	}
}

// writePump drains the send queue and pings the peer every interval.
func (c *client) writePump(ctx context.Context, pingEvery time.Duration) {
	if pingEvery <= 0 { pingEvery = 30 * time.Second }
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn", string(c.id)), zap.Error(err))
				c.kick()
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_ping_failed", zap.String("conn", string(c.id)), zap.Error(err))
				c.kick()
				return
			}
		}
	}
}

func logReadErr(id coordinator.ConnID, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		obslog.L().Debug("ws_closed", zap.String("conn", string(id)))
		return
	case websocket.StatusMessageTooBig:
		obslog.L().Warn("ws_message_too_big", zap.String("conn", string(id)))
		return
	}
	if errors.Is(err, context.Canceled) {
		obslog.L().Debug("ws_cancelled", zap.String("conn", string(id)))
		return
	}
	obslog.L().Debug("ws_read_failed", zap.String("conn", string(id)), zap.Error(err))
}
