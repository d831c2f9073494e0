package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource stands in for a microphone on headless endpoints.
type SilenceSource struct{}

func (SilenceSource) Open(ctx context.Context) (core.MediaCapture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "callrelay",
	)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &SilenceCapture{track: track, cancel: cancel, done: make(chan struct{})}
	go c.loop(ctx)
	return c, nil
}

// SilenceCapture feeds Opus silence into its track until stopped.
type SilenceCapture struct {
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (c *SilenceCapture) Track() webrtc.TrackLocal { return c.track }

func (c *SilenceCapture) Stop() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		log.Debug().Str("module", "webrtc").Msg("capture stopped")
	})
}

func (c *SilenceCapture) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Trace().Err(err).Str("module", "webrtc").Msg("write silence")
			}
		}
	}
}
