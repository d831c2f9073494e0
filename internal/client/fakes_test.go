package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

type recordSignaler struct {
	mu   sync.Mutex
	sent []core.Envelope
	err  error
}

func (s *recordSignaler) Send(env core.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordSignaler) envelopes() []core.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Envelope(nil), s.sent...)
}

func (s *recordSignaler) ofType(t core.MessageType) []core.Envelope {
	var out []core.Envelope
	for _, e := range s.envelopes() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeMedia struct {
	mu          sync.Mutex
	peer        domain.Identity
	offerIn     json.RawMessage
	answerIn    json.RawMessage
	candidates  []json.RawMessage
	closed      int
	onICE       func(json.RawMessage)
	onConnected func()
	onFailed    func(error)
	failOffer   bool
}

func (m *fakeMedia) CreateOffer(context.Context) (json.RawMessage, error) {
	if m.failOffer {
		return nil, errors.New("offer failed")
	}
	return json.RawMessage(`{"type":"offer","sdp":"fake-offer"}`), nil
}

func (m *fakeMedia) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerIn = offer
	return json.RawMessage(`{"type":"answer","sdp":"fake-answer"}`), nil
}

func (m *fakeMedia) ApplyAnswer(answer json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerIn = answer
	return nil
}

func (m *fakeMedia) AddICECandidate(c json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *fakeMedia) OnICECandidate(fn func(json.RawMessage)) { m.mu.Lock(); m.onICE = fn; m.mu.Unlock() }
func (m *fakeMedia) OnConnected(fn func())                  { m.mu.Lock(); m.onConnected = fn; m.mu.Unlock() }
func (m *fakeMedia) OnFailed(fn func(error))                { m.mu.Lock(); m.onFailed = fn; m.mu.Unlock() }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *fakeMedia) closedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) appliedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.candidates))
	for _, c := range m.candidates {
		out = append(out, string(c))
	}
	return out
}

func (m *fakeMedia) connect() {
	m.mu.Lock()
	fn := m.onConnected
	m.mu.Unlock()
	fn()
}

func (m *fakeMedia) gather(c string) {
	m.mu.Lock()
	fn := m.onICE
	m.mu.Unlock()
	fn(json.RawMessage(c))
}

func (m *fakeMedia) fail(err error) {
	m.mu.Lock()
	fn := m.onFailed
	m.mu.Unlock()
	fn(err)
}

type fakeFactory struct {
	mu        sync.Mutex
	sessions  []*fakeMedia
	failOffer bool
}

func (f *fakeFactory) NewSession(_ context.Context, peer domain.Identity, _ core.MediaCapture) (core.MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMedia{peer: peer, failOffer: f.failOffer}
	f.sessions = append(f.sessions, m)
	return m, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type fakeCapture struct {
	mu      sync.Mutex
	stopped int
}

func (c *fakeCapture) Track() webrtc.TrackLocal { return nil }

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

func (c *fakeCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeSource struct {
	mu       sync.Mutex
	captures []*fakeCapture
	err      error
}

func (s *fakeSource) Open(context.Context) (core.MediaCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c := &fakeCapture{}
	s.captures = append(s.captures, c)
	return c, nil
}

func (s *fakeSource) last() *fakeCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures[len(s.captures)-1]
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

type notifications struct {
	mu  sync.Mutex
	all []Notification
}

func (n *notifications) add(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, x)
}

func (n *notifications) has(kind NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, x := range n.all {
		if x.Kind == kind {
			return true
		}
	}
	return false
}

func (n *notifications) states() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []State
	for _, x := range n.all {
		if x.Kind == KindState {
			out = append(out, x.State)
		}
	}
	return out
}
