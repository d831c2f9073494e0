package client

import "github.com/dkeye/callrelay/internal/domain"

type State int

const (
	StateIdle State = iota
	StateCalling
	StateRingingReceived
	StateNegotiating
	StateEstablished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRingingReceived:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Active reports whether a call attempt currently owns media resources or
// waits for a decision.
func (s State) Active() bool {
	return s != StateIdle && s != StateTerminated
}

type NotificationKind int

const (
	// KindState carries every state change.
	KindState NotificationKind = iota
	KindConnection
	KindIncomingCall
	KindCallRejected
	KindCallEnded
	KindError
)

// Notification is what the presentation layer renders.
type Notification struct {
	Kind    NotificationKind
	State   State
	Peer    domain.Identity
	Online  bool
	Message string
}
