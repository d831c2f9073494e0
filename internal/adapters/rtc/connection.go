package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/callrelay/internal/config"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrTransportFailed = errors.New("media transport failed")

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// WebRTCConfig maps configured STUN/TURN servers onto a pion configuration.
func WebRTCConfig(servers []config.ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, srv)
	}
	return cfg
}

// Factory creates one peer connection per call attempt.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(servers []config.ICEServer) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(zerolog.WarnLevel)}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
	return &Factory{api: api, cfg: WebRTCConfig(servers)}, nil
}

func (f *Factory) NewSession(_ context.Context, peer domain.Identity, capture core.MediaCapture) (core.MediaSession, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	wc := newWebRTCConnection(pc, peer)
	if capture != nil {
		sender, err := pc.AddTrack(capture.Track())
		if err != nil {
			wc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	}
	return wc, nil
}

// WebRTCConnection implements core.MediaSession over a pion PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	peer   domain.Identity
	logger zerolog.Logger

	mu          sync.Mutex
	onICE       func(json.RawMessage)
	onConnected func()
	onFailed    func(error)
	closed      bool
	connected   bool
}

func newWebRTCConnection(pc *webrtc.PeerConnection, peer domain.Identity) *WebRTCConnection {
	c := &WebRTCConnection{
		pc:     pc,
		peer:   peer,
		logger: log.With().Str("module", "webrtc").Str("peer", string(peer)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			fire := !c.connected && !c.closed
			c.connected = true
			fn := c.onConnected
			c.mu.Unlock()
			if fire && fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.mu.Lock()
			fire := !c.closed
			fn := c.onFailed
			c.mu.Unlock()
			if fire && fn != nil {
				fn(fmt.Errorf("%w: %s", ErrTransportFailed, s))
			}
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("encode local candidate")
			return
		}
		fn(b)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go drainTrack(track)
	})

	return c
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (c *WebRTCConnection) AcceptOffer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (c *WebRTCConnection) ApplyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddICECandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

func (c *WebRTCConnection) OnFailed(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

// Close tears the peer connection down. Callbacks do not fire afterwards.
func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack consumes remote media; playback belongs to the presentation side.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
