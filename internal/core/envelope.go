package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/callrelay/internal/domain"
)

type MessageType string

const (
	TypeRegister     MessageType = "register"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "iceCandidate"
	TypeHangup       MessageType = "hangup"
	TypeRejectCall   MessageType = "rejectCall"
	TypeIncomingCall MessageType = "incomingCall"
	TypeCallRejected MessageType = "callRejected"
	TypeCallEnded    MessageType = "callEnded"
	TypeError        MessageType = "error"
)

// Routable reports whether the relay forwards this type to a recipient.
func (t MessageType) Routable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup, TypeRejectCall:
		return true
	}
	return false
}

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrMissingType = errors.New("missing message type")
)

// Envelope is one signaling message. SDP and Candidate are opaque to the relay.
type Envelope struct {
	Type        MessageType     `json:"type"`
	UserID      domain.Identity `json:"userId,omitempty"`
	SenderID    domain.Identity `json:"senderId,omitempty"`
	RecipientID domain.Identity `json:"recipientId,omitempty"`
	CallerID    domain.Identity `json:"callerId,omitempty"`
	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	Message     string          `json:"message,omitempty"`

	// raw keeps every field as received so forwarding does not drop
	// anything the relay does not model.
	raw map[string]json.RawMessage
}

// Decode parses one inbound text frame.
func Decode(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.raw = raw
	return &env, nil
}

// Forwarded re-encodes the envelope as received, with senderId replaced by
// the identity the relay verified for the originating channel.
func (e *Envelope) Forwarded(sender domain.Identity) (Frame, error) {
	if e.raw == nil {
		out := *e
		out.SenderID = sender
		return Encode(out)
	}
	fields := make(map[string]json.RawMessage, len(e.raw)+1)
	for k, v := range e.raw {
		fields[k] = v
	}
	id, err := json.Marshal(sender)
	if err != nil {
		return nil, err
	}
	fields["senderId"] = id
	return json.Marshal(fields)
}

func Encode(e Envelope) (Frame, error) {
	return json.Marshal(e)
}

func NewError(msg string) Envelope {
	return Envelope{Type: TypeError, Message: msg}
}

func NewCallRejected(recipient domain.Identity) Envelope {
	return Envelope{Type: TypeCallRejected, RecipientID: recipient}
}
