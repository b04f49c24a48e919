package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":   log.DebugLevel,
		"INFO":    log.InfoLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.WarnLevel,
		"chatty":  log.WarnLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestParseFormatter(t *testing.T) {
	assert.Equal(t, log.JSONFormatter, ParseFormatter("json"))
	assert.Equal(t, log.LogfmtFormatter, ParseFormatter("logfmt"))
	assert.Equal(t, log.TextFormatter, ParseFormatter("pretty"))
}

func TestNewFromConfigFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFromConfig(&buf, "warn", "logfmt")

	logger.Info("hidden")
	logger.Warn("request failed", "path", "/tasks")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "request failed")
	assert.Contains(t, out, "path=/tasks")
}

func TestOpenFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "muchtodo.log")
	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	logger := New(f, DefaultOptions())
	logger.Error("boom")
	require.NoError(t, f.Sync())
	assert.FileExists(t, path)
}
