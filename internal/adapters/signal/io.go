package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.cfg.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	connID string,
	ch *app.Channel,
	c *WsSignalConn,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn_id", connID).Str("identity", string(ch.Identity())).Msg("readPump closing")
		ctl.Router.Detach(ch)
		ctl.Limiter.Forget(connID)
		c.Close()
		cancel()
	}()

	pongWait := ctl.cfg.PongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(ctx.Err(), context.Canceled) {
				log.Info().Err(err).Str("module", "signal").Str("conn_id", connID).Msg("readPump closed")
			} else {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", connID).Msg("readPump read error")
			}
			return
		}
		if !ctl.Limiter.Allow(connID) {
			log.Warn().Str("module", "signal").Str("conn_id", connID).Msg("rate limit exceeded, dropping message")
			ctl.sendJSON(c, core.NewError("rate limit exceeded"))
			continue
		}
		ctl.Router.HandleMessage(ch, data)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, env core.Envelope) {
	b, err := core.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
