package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	t.Cleanup(func() { InitWithWriter(&buf, "INFO", "text") })

	Info("hidden")
	Debug("hidden too")
	Warn("shown", KeySourcePort, 5000)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "source_port=5000")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json")
	t.Cleanup(func() { InitWithWriter(&buf, "INFO", "text") })

	Debug("session released", KeyReason, "idle")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "session released", rec["msg"])
	assert.Equal(t, "idle", rec["reason"])
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	SetLevel("ERROR")
	SetLevel("verbose")
	assert.Equal(t, LevelError, GetLevel())
	SetLevel("INFO")
}
