package client

import (
	"encoding/json"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
)

// CallSession is one call attempt as seen from this endpoint. Nothing is
// carried over between attempts.
type CallSession struct {
	Peer    domain.Identity
	Role    domain.Role
	Started time.Time

	gen     uint64
	media   core.MediaSession
	capture core.MediaCapture
	timer   *time.Timer

	remoteOffer json.RawMessage
	remoteSet   bool
	// Candidates that arrived before the remote description was applied.
	pending  []json.RawMessage
	released bool
}

func newCallSession(gen uint64, peer domain.Identity, role domain.Role, now time.Time) *CallSession {
	return &CallSession{Peer: peer, Role: role, Started: now, gen: gen}
}

// addCandidate applies a remote candidate or buffers it until the remote
// description is in place.
func (s *CallSession) addCandidate(c json.RawMessage) error {
	if s.media == nil || !s.remoteSet {
		s.pending = append(s.pending, c)
		return nil
	}
	return s.media.AddICECandidate(c)
}

// remoteApplied marks the remote description as set and flushes buffered
// candidates. It returns the first error but applies every candidate.
func (s *CallSession) remoteApplied() error {
	s.remoteSet = true
	var first error
	for _, c := range s.pending {
		if err := s.media.AddICECandidate(c); err != nil && first == nil {
			first = err
		}
	}
	s.pending = nil
	return first
}

func (s *CallSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// release frees the media session and the capture device exactly once.
func (s *CallSession) release() {
	if s.released {
		return
	}
	s.released = true
	s.stopTimer()
	if s.media != nil {
		s.media.Close()
	}
	if s.capture != nil {
		s.capture.Stop()
	}
	s.pending = nil
}
