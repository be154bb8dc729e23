package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("json", "debug", &buf)
	log.Debug("relay_failed", Err(errors.New("boom")), slog.String("session_id", "abc"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"relay_failed"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"service":"support-service"`)
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New("text", "warn", &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
}
