package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/config"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	reg *app.Registry
	url string
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:           "test",
		WSPath:         "/ws",
		ReadLimit:      32768,
		PingPeriod:     time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		SendBuffer:     16,
		RateLimit:      100,
		RateInterval:   time.Second,
		AllowedOrigins: []string{"*"},
	}
}

func startRelay(t *testing.T, cfg *config.Config) *relay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := app.NewRegistry()
	ctl := NewSignalWSController(app.NewRouter(reg), cfg)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &relay{reg: reg, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func (rl *relay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(rl.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (rl *relay) join(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	c := rl.dial(t)
	require.NoError(t, c.WriteJSON(map[string]any{"type": "register", "userId": id}))
	require.Eventually(t, func() bool {
		_, ok := rl.reg.Lookup(domain.Identity(id))
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, data, err := c.ReadMessage()
	require.Error(t, err, "unexpected message %s", data)
	var netErr interface{ Timeout() bool }
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}

func TestOfferReachesRegisteredRecipient(t *testing.T) {
	rl := startRelay(t, testConfig())
	alice := rl.join(t, "alice")
	bob := rl.join(t, "bob")

	sdp := map[string]any{"type": "offer", "sdp": "v=0 X"}
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "offer", "recipientId": "bob", "sdp": sdp}))

	got := readEnvelope(t, bob)
	assert.Equal(t, map[string]any{
		"type":        "offer",
		"senderId":    "alice",
		"recipientId": "bob",
		"sdp":         sdp,
	}, got)
}

func TestOfferToUnknownRecipientIsRejected(t *testing.T) {
	rl := startRelay(t, testConfig())
	alice := rl.join(t, "alice")

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "offer", "recipientId": "carol"}))

	got := readEnvelope(t, alice)
	assert.Equal(t, map[string]any{"type": "callRejected", "recipientId": "carol"}, got)
}

func TestCandidateAfterRecipientLeftIsDropped(t *testing.T) {
	rl := startRelay(t, testConfig())
	alice := rl.join(t, "alice")
	bob := rl.join(t, "bob")

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = bob.Close()
	require.Eventually(t, func() bool {
		_, ok := rl.reg.Lookup("bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":        "iceCandidate",
		"recipientId": "bob",
		"candidate":   map[string]any{"candidate": "Y"},
	}))
	expectSilence(t, alice)
	assert.Equal(t, 1, rl.reg.Len())
}

func TestMalformedFrameKeepsChannelOpen(t *testing.T) {
	rl := startRelay(t, testConfig())
	alice := rl.join(t, "alice")
	bob := rl.join(t, "bob")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{garbage")))
	got := readEnvelope(t, alice)
	assert.Equal(t, "error", got["type"])
	assert.NotEmpty(t, got["message"])

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "hangup", "recipientId": "bob"}))
	got = readEnvelope(t, bob)
	assert.Equal(t, "hangup", got["type"])
	assert.Equal(t, "alice", got["senderId"])
}

func TestRateLimitAnswersWithError(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateInterval = time.Hour
	rl := startRelay(t, cfg)
	alice := rl.join(t, "alice")

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "offer", "recipientId": "carol"}))
	got := readEnvelope(t, alice)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "rate limit exceeded", got["message"])
}

func TestCloseReleasesIdentity(t *testing.T) {
	rl := startRelay(t, testConfig())
	alice := rl.join(t, "alice")
	_ = alice.Close()

	require.Eventually(t, func() bool { return rl.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
