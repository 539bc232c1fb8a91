package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, DEBUG)

	log.Info(ComponentRelay, CategoryStream, "req_1", "token relayed", map[string]interface{}{"sequence": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token relayed", entry["message"])
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, "stream", entry["category"])
	assert.Equal(t, "req_1", entry["request_id"])
	assert.Equal(t, "chat-relay", entry["service"])
	assert.EqualValues(t, 3, entry["sequence"])
	assert.Contains(t, entry, "timestamp")
}

func TestObservabilityLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, WARN)

	log.Info(ComponentRelay, CategoryStream, "", "dropped", nil)
	assert.Zero(t, buf.Len())

	log.Warn(ComponentRelay, CategoryWarning, "", "kept", nil)
	assert.Contains(t, buf.String(), "kept")
}

func TestObservabilityLoggerFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewObservabilityLogger(dir, INFO)
	require.NoError(t, err)

	log.CircuitBreakerEvent("http://up", "circuit opened", nil)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(filepath.Join(dir, "chat-relay.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"endpoint":"http://up"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
	assert.Equal(t, "WARN", WARN.String())
}
