package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"offer","recipientId":42}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"recipientId":"bob"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestForwardedInjectsSenderAndKeepsFields(t *testing.T) {
	in := `{"type":"offer","recipientId":"bob","senderId":"mallory","sdp":{"type":"offer","sdp":"v=0"},"extra":[1,2]}`
	env, err := Decode([]byte(in))
	require.NoError(t, err)

	out, err := env.Forwarded("alice")
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &got))
	assert.JSONEq(t, `"alice"`, string(got["senderId"]))
	assert.JSONEq(t, `"bob"`, string(got["recipientId"]))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got["sdp"]))
	assert.JSONEq(t, `[1,2]`, string(got["extra"]))
	assert.JSONEq(t, `"offer"`, string(got["type"]))
}

func TestRoutable(t *testing.T) {
	for _, typ := range []MessageType{TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup, TypeRejectCall} {
		assert.True(t, typ.Routable(), typ)
	}
	for _, typ := range []MessageType{TypeRegister, TypeCallEnded, TypeIncomingCall, TypeError, "bogus"} {
		assert.False(t, typ.Routable(), typ)
	}
}

func TestSyntheticEnvelopes(t *testing.T) {
	b, err := Encode(NewCallRejected("carol"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"callRejected","recipientId":"carol"}`, string(b))

	b, err = Encode(NewError("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"boom"}`, string(b))
}
