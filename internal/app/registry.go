package app

import (
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps a participant identity to its live signaling channel.
// Per identity the last writer wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.Identity]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.Identity]core.SignalConnection),
	}
}

// Register binds id to conn and returns the connection it displaced, if any.
// The displaced connection is not notified.
func (r *Registry) Register(id domain.Identity, conn core.SignalConnection) core.SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[id]
	r.conns[id] = conn
	if prev != nil && prev != conn {
		log.Warn().Str("module", "app.registry").Str("identity", string(id)).Msg("identity rebound, previous channel orphaned")
	} else {
		log.Info().Str("module", "app.registry").Str("identity", string(id)).Msg("registered")
	}
	if prev == conn {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(id domain.Identity) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Unregister removes the binding for id. No-op when absent.
func (r *Registry) Unregister(id domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Msg("unregistered")
}

// UnregisterConn removes the binding only while id still points at conn,
// so a closing channel never evicts a newer registration of the same id.
func (r *Registry) UnregisterConn(id domain.Identity, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[id]
	if !ok || cur != conn {
		return false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Msg("unregistered on close")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
