package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/logging"
)

func TestJSONLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriter(&buf, logging.Config{Level: "warn", JSON: true})
	log.Info().Msg("dropped")
	log.Warn().Str("dirname", "flux").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte{'\n'})
	require.Len(t, lines, 1)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "kept", rec["message"])
	assert.Equal(t, "flux", rec["dirname"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriter(&buf, logging.Config{Level: "chatty", JSON: true})
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
