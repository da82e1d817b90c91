package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologAdapter_WithField(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, "debug")

	l.WithField("session", "abc").Info("stage completed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "abc", line["session"])
	assert.Equal(t, "stage completed", line["message"])
}

func TestZerologAdapter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, "warn")

	l.Info("dropped")
	assert.Empty(t, buf.String())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNullLogger(t *testing.T) {
	l := NewNullLogger()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").Error("nothing")
	})
}
