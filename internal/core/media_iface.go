package core

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// MediaCapture is an exclusively owned local capture device.
type MediaCapture interface {
	Track() webrtc.TrackLocal
	// Stop releases the device. Safe to call more than once.
	Stop()
}

// MediaSession is one endpoint-side media transport session.
// Descriptions and candidates are exchanged as opaque JSON.
type MediaSession interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(json.RawMessage))
	// OnConnected fires once when media starts flowing.
	OnConnected(func())
	// OnFailed fires when the transport fails or is closed remotely.
	OnFailed(func(error))
	// Close should stop all underlying media resources.
	Close()
}
