package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if yaml != "" {
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := decode(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 3*time.Second, cfg.Client.ReconnectInterval)
	require.Len(t, cfg.Client.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Client.ICEServers[0].URLs)
}

func TestYAMLOverrides(t *testing.T) {
	cfg, err := decode(newViper(t, `
mode: debug
port: 9000
allowed_origins: ["https://call.example"]
client:
  relay_url: wss://call.example/ws
  call_timeout: 0s
  ice_servers:
    - urls: ["turn:turn.example:3478"]
      username: u
      credential: p
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Duration(0), cfg.Client.CallTimeout)
	require.Len(t, cfg.Client.ICEServers, 1)
	assert.Equal(t, "u", cfg.Client.ICEServers[0].Username)
	assert.True(t, cfg.OriginAllowed("https://call.example"))
	assert.False(t, cfg.OriginAllowed("https://evil.example"))
	assert.True(t, cfg.OriginAllowed(""))
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"port":      "port: 0",
		"mode":      "mode: chaos",
		"pong_wait": "ping_period: 10s\npong_wait: 5s",
		"relay_url": "client:\n  relay_url: not a url",
		"ice_urls":  "client:\n  ice_servers:\n    - username: x",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(newViper(t, yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("CALLRELAY_PORT", "9191")
	t.Setenv("CALLRELAY_CLIENT_RELAY_URL", "ws://relay.test/ws")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "ws://relay.test/ws", cfg.Client.RelayURL)
}
