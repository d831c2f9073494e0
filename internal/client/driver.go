package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNotConnected     = errors.New("signaling channel not connected")
	ErrCallInProgress   = errors.New("call already in progress")
	ErrNoIncomingCall   = errors.New("no incoming call")
	ErrNoActiveCall     = errors.New("no active call")
	ErrDriverStopped    = errors.New("driver stopped")
	ErrCallTimeout      = errors.New("call setup timed out")
)

// Signaler delivers envelopes to the relay.
type Signaler interface {
	Send(core.Envelope) error
}

type MediaFactory interface {
	NewSession(ctx context.Context, peer domain.Identity, capture core.MediaCapture) (core.MediaSession, error)
}

type CaptureSource interface {
	Open(ctx context.Context) (core.MediaCapture, error)
}

type Options struct {
	Identity domain.Identity
	Signaler Signaler
	Media    MediaFactory
	Capture  CaptureSource
	Notify   func(Notification)
	// CallTimeout bounds call setup. Zero leaves attempts unbounded.
	CallTimeout time.Duration
}

type event interface{}

type (
	callEvent struct {
		recipient domain.Identity
		done      chan error
	}
	acceptEvent    struct{ done chan error }
	rejectEvent    struct{ done chan error }
	hangupEvent    struct{ done chan error }
	inboundEvent   struct{ env *core.Envelope }
	channelUpEvent struct{}
	channelDown    struct{ err error }
	mediaConnected struct{ gen uint64 }
	mediaFailed    struct {
		gen uint64
		err error
	}
	localCandidate struct {
		gen       uint64
		candidate json.RawMessage
	}
	setupTimeout  struct{ gen uint64 }
	snapshotEvent struct{ done chan Snapshot }
)

// Snapshot is a point-in-time view of the driver, taken on its own goroutine.
type Snapshot struct {
	State  State
	Peer   domain.Identity
	Role   domain.Role
	Online bool
}

// Driver runs the endpoint's call state machine. All state is owned by the
// goroutine executing Run; public methods only post events.
type Driver struct {
	id          domain.Identity
	signaler    Signaler
	media       MediaFactory
	capture     CaptureSource
	notify      func(Notification)
	callTimeout time.Duration
	logger      zerolog.Logger

	events chan event
	done   chan struct{}

	// Owned by the Run goroutine.
	ctx    context.Context
	state  State
	call   *CallSession
	online bool
	gen    uint64
}

func NewDriver(opts Options) *Driver {
	notify := opts.Notify
	if notify == nil {
		notify = func(Notification) {}
	}
	return &Driver{
		id:          opts.Identity,
		signaler:    opts.Signaler,
		media:       opts.Media,
		capture:     opts.Capture,
		notify:      notify,
		callTimeout: opts.CallTimeout,
		logger:      log.With().Str("module", "client.driver").Str("identity", string(opts.Identity)).Logger(),
		events:      make(chan event, 64),
		done:        make(chan struct{}),
	}
}

func (d *Driver) Identity() domain.Identity { return d.id }

// Run processes events until ctx is cancelled. Any call in progress is torn
// down on exit.
func (d *Driver) Run(ctx context.Context) {
	d.ctx = ctx
	defer close(d.done)
	defer func() {
		if d.call != nil {
			d.hangupLocal("driver stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.dispatch(ev)
		}
	}
}

func (d *Driver) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *Driver) request(ctx context.Context, ev event, done chan error) error {
	select {
	case d.events <- ev:
	case <-d.done:
		return ErrDriverStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-d.done:
		return ErrDriverStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call starts a new call attempt to recipient.
func (d *Driver) Call(ctx context.Context, recipient domain.Identity) error {
	if recipient.Validate() != nil || recipient == d.id {
		return ErrInvalidRecipient
	}
	done := make(chan error, 1)
	return d.request(ctx, callEvent{recipient: recipient, done: done}, done)
}

func (d *Driver) Accept(ctx context.Context) error {
	done := make(chan error, 1)
	return d.request(ctx, acceptEvent{done: done}, done)
}

func (d *Driver) Reject(ctx context.Context) error {
	done := make(chan error, 1)
	return d.request(ctx, rejectEvent{done: done}, done)
}

func (d *Driver) Hangup(ctx context.Context) error {
	done := make(chan error, 1)
	return d.request(ctx, hangupEvent{done: done}, done)
}

func (d *Driver) Snapshot(ctx context.Context) (Snapshot, error) {
	done := make(chan Snapshot, 1)
	select {
	case d.events <- snapshotEvent{done: done}:
	case <-d.done:
		return Snapshot{}, ErrDriverStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-done:
		return s, nil
	case <-d.done:
		return Snapshot{}, ErrDriverStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// HandleEnvelope feeds one inbound relay message to the state machine.
func (d *Driver) HandleEnvelope(env *core.Envelope) { d.post(inboundEvent{env: env}) }

func (d *Driver) ChannelUp() { d.post(channelUpEvent{}) }

func (d *Driver) ChannelDown(err error) { d.post(channelDown{err: err}) }

func (d *Driver) dispatch(ev event) {
	switch ev := ev.(type) {
	case callEvent:
		ev.done <- d.startCall(ev.recipient)
	case acceptEvent:
		ev.done <- d.accept()
	case rejectEvent:
		ev.done <- d.reject()
	case hangupEvent:
		ev.done <- d.hangup()
	case inboundEvent:
		d.handleInbound(ev.env)
	case snapshotEvent:
		snap := Snapshot{State: d.state, Online: d.online}
		if d.call != nil {
			snap.Peer, snap.Role = d.call.Peer, d.call.Role
		}
		ev.done <- snap
	case channelUpEvent:
		d.online = true
		d.notify(Notification{Kind: KindConnection, Online: true, State: d.state, Message: "Ready to call."})
	case channelDown:
		d.online = false
		if d.call != nil {
			d.terminate(KindError, "signaling channel lost, call abandoned")
		}
		msg := "Signaling channel disconnected."
		if ev.err != nil {
			msg = fmt.Sprintf("Signaling channel disconnected: %v", ev.err)
		}
		d.notify(Notification{Kind: KindConnection, Online: false, State: d.state, Message: msg})
	case mediaConnected:
		if d.current(ev.gen) && d.state == StateNegotiating {
			d.call.stopTimer()
			d.setState(StateEstablished)
		}
	case mediaFailed:
		if d.current(ev.gen) {
			d.logger.Warn().Err(ev.err).Msg("media transport failed")
			d.hangupLocal(ev.err.Error())
		}
	case localCandidate:
		if d.current(ev.gen) {
			d.send(core.Envelope{Type: core.TypeICECandidate, RecipientID: d.call.Peer, Candidate: ev.candidate})
		}
	case setupTimeout:
		if d.current(ev.gen) && d.state != StateEstablished {
			d.logger.Info().Str("peer", string(d.call.Peer)).Msg("call setup timed out")
			if d.state == StateRingingReceived {
				d.send(core.Envelope{Type: core.TypeRejectCall, RecipientID: d.call.Peer})
				d.terminate(KindCallEnded, ErrCallTimeout.Error())
				return
			}
			d.hangupLocal(ErrCallTimeout.Error())
		}
	}
}

func (d *Driver) current(gen uint64) bool {
	return d.call != nil && d.call.gen == gen
}

func (d *Driver) setState(s State) {
	if d.state == s {
		return
	}
	d.logger.Info().Str("from", d.state.String()).Str("to", s.String()).Msg("state")
	d.state = s
	n := Notification{Kind: KindState, State: s}
	if d.call != nil {
		n.Peer = d.call.Peer
	}
	d.notify(n)
}

func (d *Driver) send(env core.Envelope) {
	if err := d.signaler.Send(env); err != nil {
		d.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("send failed")
	}
}

func (d *Driver) newCall(peer domain.Identity, role domain.Role) *CallSession {
	d.gen++
	call := newCallSession(d.gen, peer, role, time.Now())
	if d.callTimeout > 0 {
		gen := d.gen
		call.timer = time.AfterFunc(d.callTimeout, func() { d.post(setupTimeout{gen: gen}) })
	}
	d.call = call
	return call
}

// openMedia acquires the capture device and a fresh media session for the
// current call.
func (d *Driver) openMedia() error {
	call := d.call
	capture, err := d.capture.Open(d.ctx)
	if err != nil {
		return fmt.Errorf("media device: %w", err)
	}
	call.capture = capture

	ms, err := d.media.NewSession(d.ctx, call.Peer, capture)
	if err != nil {
		return fmt.Errorf("media session: %w", err)
	}
	call.media = ms

	gen := call.gen
	ms.OnICECandidate(func(c json.RawMessage) { d.post(localCandidate{gen: gen, candidate: c}) })
	ms.OnConnected(func() { d.post(mediaConnected{gen: gen}) })
	ms.OnFailed(func(err error) { d.post(mediaFailed{gen: gen, err: err}) })
	return nil
}

func (d *Driver) startCall(recipient domain.Identity) error {
	if !d.online {
		return ErrNotConnected
	}
	if d.state.Active() {
		return ErrCallInProgress
	}
	d.newCall(recipient, domain.RoleCaller)
	d.setState(StateCalling)

	if err := d.openMedia(); err != nil {
		d.terminate(KindError, err.Error())
		return err
	}
	offer, err := d.call.media.CreateOffer(d.ctx)
	if err != nil {
		d.terminate(KindError, err.Error())
		return err
	}
	if err := d.signaler.Send(core.Envelope{Type: core.TypeOffer, RecipientID: recipient, SDP: offer}); err != nil {
		d.terminate(KindError, err.Error())
		return err
	}
	return nil
}

func (d *Driver) accept() error {
	if d.state != StateRingingReceived || d.call == nil {
		return ErrNoIncomingCall
	}
	if err := d.openMedia(); err != nil {
		d.send(core.Envelope{Type: core.TypeRejectCall, RecipientID: d.call.Peer})
		d.terminate(KindError, err.Error())
		return err
	}
	answer, err := d.call.media.AcceptOffer(d.ctx, d.call.remoteOffer)
	if err != nil {
		d.hangupLocal(err.Error())
		return err
	}
	if err := d.call.remoteApplied(); err != nil {
		d.logger.Warn().Err(err).Msg("buffered candidate rejected")
	}
	if err := d.signaler.Send(core.Envelope{Type: core.TypeAnswer, RecipientID: d.call.Peer, SDP: answer}); err != nil {
		d.terminate(KindError, err.Error())
		return err
	}
	d.setState(StateNegotiating)
	return nil
}

func (d *Driver) reject() error {
	if d.state != StateRingingReceived || d.call == nil {
		return ErrNoIncomingCall
	}
	d.send(core.Envelope{Type: core.TypeRejectCall, RecipientID: d.call.Peer})
	d.terminate(KindCallEnded, "Call declined.")
	return nil
}

func (d *Driver) hangup() error {
	if d.call == nil {
		return ErrNoActiveCall
	}
	if d.state == StateRingingReceived {
		return d.reject()
	}
	d.hangupLocal("Call ended.")
	return nil
}

// hangupLocal notifies the peer and tears the call down.
func (d *Driver) hangupLocal(reason string) {
	if d.online {
		d.send(core.Envelope{Type: core.TypeHangup, RecipientID: d.call.Peer})
	}
	d.terminate(KindCallEnded, reason)
}

// terminate releases every resource of the current call, reports why, and
// settles in Idle so a new attempt can start.
func (d *Driver) terminate(kind NotificationKind, reason string) {
	call := d.call
	if call == nil {
		return
	}
	call.release()
	d.setState(StateTerminated)
	d.notify(Notification{Kind: kind, State: StateTerminated, Peer: call.Peer, Message: reason})
	d.call = nil
	d.setState(StateIdle)
}

func (d *Driver) handleInbound(env *core.Envelope) {
	logger := d.logger.With().Str("type", string(env.Type)).Str("sender", string(env.SenderID)).Logger()

	switch env.Type {
	case core.TypeOffer:
		if env.SenderID == "" {
			logger.Warn().Msg("offer without sender")
			return
		}
		if d.state.Active() {
			logger.Warn().Str("state", d.state.String()).Msg("offer while busy, ignored")
			return
		}
		call := d.newCall(env.SenderID, domain.RoleCallee)
		call.remoteOffer = env.SDP
		d.setState(StateRingingReceived)
		d.notify(Notification{Kind: KindIncomingCall, State: d.state, Peer: env.SenderID,
			Message: fmt.Sprintf("Incoming call from %s.", env.SenderID)})

	case core.TypeAnswer:
		if d.call == nil || d.state != StateCalling || env.SenderID != d.call.Peer {
			logger.Debug().Msg("stale answer ignored")
			return
		}
		if err := d.call.media.ApplyAnswer(env.SDP); err != nil {
			logger.Warn().Err(err).Msg("apply answer")
			d.hangupLocal(err.Error())
			return
		}
		if err := d.call.remoteApplied(); err != nil {
			logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
		d.setState(StateNegotiating)

	case core.TypeICECandidate:
		if d.call == nil || env.SenderID != d.call.Peer {
			logger.Debug().Msg("candidate for no current call, discarded")
			return
		}
		if err := d.call.addCandidate(env.Candidate); err != nil {
			logger.Warn().Err(err).Msg("add candidate")
		}

	case core.TypeCallRejected:
		if d.call == nil || d.call.Role != domain.RoleCaller {
			return
		}
		if env.RecipientID != "" && env.RecipientID != d.call.Peer {
			return
		}
		d.terminate(KindCallRejected, fmt.Sprintf("Call to %s was rejected.", d.call.Peer))

	case core.TypeRejectCall:
		if d.call == nil || env.SenderID != d.call.Peer {
			return
		}
		d.terminate(KindCallRejected, fmt.Sprintf("Call to %s was rejected.", d.call.Peer))

	case core.TypeHangup, core.TypeCallEnded:
		if d.call == nil || (env.SenderID != "" && env.SenderID != d.call.Peer) {
			return
		}
		d.terminate(KindCallEnded, "Call ended by the other party.")

	case core.TypeError:
		logger.Warn().Str("message", env.Message).Msg("relay error")
		d.notify(Notification{Kind: KindError, State: d.state, Message: env.Message})

	default:
		logger.Debug().Msg("unhandled message type")
	}
}
