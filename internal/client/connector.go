package client

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Handler receives what the Connector observes on the signaling channel.
type Handler interface {
	HandleEnvelope(*core.Envelope)
	ChannelUp()
	ChannelDown(error)
}

// Connector keeps one signaling channel open to the relay, re-registering
// the identity after every reconnect.
type Connector struct {
	url      string
	id       domain.Identity
	interval time.Duration
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewConnector(url string, id domain.Identity, reconnectInterval time.Duration) *Connector {
	return &Connector{
		url:      url,
		id:       id,
		interval: reconnectInterval,
		dialer:   websocket.DefaultDialer,
		logger:   log.With().Str("module", "client.conn").Str("identity", string(id)).Logger(),
	}
}

// Send writes one envelope. It fails with ErrNotConnected while the channel
// is down.
func (c *Connector) Send(env core.Envelope) error {
	frame, err := core.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Run dials, serves and redials until ctx is cancelled.
func (c *Connector) Run(ctx context.Context, h Handler) {
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.interval).Msg("signaling channel down")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *Connector) session(ctx context.Context, h Handler) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = ws
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := c.Send(core.Envelope{Type: core.TypeRegister, UserID: c.id}); err != nil {
		c.drop(ws)
		return err
	}
	c.logger.Info().Str("url", c.url).Msg("connected and registered")
	h.ChannelUp()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.drop(ws)
			h.ChannelDown(err)
			return err
		}
		env, err := core.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad envelope from relay")
			continue
		}
		h.HandleEnvelope(env)
	}
}

func (c *Connector) drop(ws *websocket.Conn) {
	c.mu.Lock()
	if c.conn == ws {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}
