package app

import (
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel is the router-side state of one signaling connection. The identity
// is captured at register time so close-based cleanup does not depend on the
// client repeating it.
type Channel struct {
	conn core.SignalConnection

	mu       sync.Mutex
	identity domain.Identity
	detached bool
}

func (ch *Channel) Conn() core.SignalConnection { return ch.conn }

func (ch *Channel) Identity() domain.Identity {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.identity
}

// Router is a stateless relay with respect to calls: it only knows which
// identity sits behind which channel.
type Router struct {
	Registry *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{Registry: reg}
}

func (r *Router) Attach(conn core.SignalConnection) *Channel {
	return &Channel{conn: conn}
}

// HandleMessage processes one inbound frame. Messages of one channel must be
// passed in the order they were received.
func (r *Router) HandleMessage(ch *Channel, data []byte) {
	env, err := core.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("identity", string(ch.Identity())).Msg("bad envelope")
		r.reply(ch, core.NewError(err.Error()))
		return
	}

	switch {
	case env.Type == core.TypeRegister:
		r.handleRegister(ch, env)
	case env.Type.Routable():
		r.handleRoutable(ch, env)
	default:
		log.Warn().Str("module", "app.router").Str("type", string(env.Type)).Str("identity", string(ch.Identity())).Msg("unknown message type")
	}
}

func (r *Router) handleRegister(ch *Channel, env *core.Envelope) {
	id := env.UserID
	if err := id.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("register rejected")
		r.reply(ch, core.NewError("invalid userId: "+err.Error()))
		return
	}

	ch.mu.Lock()
	if ch.detached {
		ch.mu.Unlock()
		return
	}
	prev := ch.identity
	ch.identity = id
	// Registry writes stay under ch.mu so a concurrent Detach never leaves
	// a binding for a closed channel.
	if prev != "" && prev != id {
		r.Registry.UnregisterConn(prev, ch.conn)
	}
	r.Registry.Register(id, ch.conn)
	ch.mu.Unlock()
}

func (r *Router) handleRoutable(ch *Channel, env *core.Envelope) {
	logger := log.With().
		Str("module", "app.router").
		Str("type", string(env.Type)).
		Str("recipient", string(env.RecipientID)).
		Logger()

	sender := ch.Identity()
	if sender == "" {
		logger.Warn().Msg("signaling from unregistered channel")
		r.reply(ch, core.NewError("register before signaling"))
		return
	}
	logger = logger.With().Str("sender", string(sender)).Logger()

	dst, ok := r.Registry.Lookup(env.RecipientID)
	if !ok {
		if env.Type == core.TypeOffer {
			logger.Info().Msg("recipient unreachable, rejecting call")
			r.reply(ch, core.NewCallRejected(env.RecipientID))
			return
		}
		logger.Info().Msg("recipient not found, dropping")
		return
	}

	frame, err := env.Forwarded(sender)
	if err != nil {
		logger.Error().Err(err).Msg("encode forwarded envelope")
		return
	}
	if err := dst.TrySend(frame); err != nil {
		logger.Warn().Err(err).Msg("forward failed")
		return
	}
	logger.Debug().Msg("forwarded")
}

// Detach releases the channel's registration. Safe to call repeatedly, from
// both the close and the error path.
func (r *Router) Detach(ch *Channel) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.detached {
		return
	}
	ch.detached = true
	if ch.identity == "" {
		return
	}
	r.Registry.UnregisterConn(ch.identity, ch.conn)
}

func (r *Router) reply(ch *Channel, env core.Envelope) {
	sendEnvelope(ch.conn, env, log.With().Str("module", "app.router").Logger())
}

func sendEnvelope(conn core.SignalConnection, env core.Envelope, logger zerolog.Logger) {
	frame, err := core.Encode(env)
	if err != nil {
		logger.Error().Err(err).Msg("encode envelope")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		logger.Warn().Err(err).Str("type", string(env.Type)).Msg("reply failed")
	}
}
