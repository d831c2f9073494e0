package rtc

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFactoryFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	l := NewLoggerFactory(zerolog.WarnLevel).NewLogger("ice")
	l.Debug("noise")
	l.Infof("more %s", "noise")
	l.Warnf("candidate %d dropped", 3)

	out := buf.String()
	assert.NotContains(t, out, "noise")
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, `"module":"pion"`)
	assert.Contains(t, out, "candidate 3 dropped")
}
