package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": LevelTrace,
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupLoggerSplitsStreams(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, closers, err := setupLogger("debug", "", &stdout, &stderr)
	require.NoError(t, err)
	assert.Empty(t, closers)

	logger.Debug("polling status")
	logger.Error("link failed")

	assert.Contains(t, stdout.String(), "polling status")
	assert.NotContains(t, stdout.String(), "link failed")
	assert.Contains(t, stderr.String(), "link failed")
	assert.NotContains(t, stderr.String(), "polling status")
}

func TestSetupLoggerFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "viipmi.log")
	logger, closers, err := setupLogger("info", path, &stdout, &stderr)
	require.NoError(t, err)
	require.Len(t, closers, 1)
	defer closers[0].Close()

	logger.Info("attached", "id", 0)
	logger.Debug("hidden")
	assert.Contains(t, stderr.String(), "attached")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Empty(t, stdout.String())

	_, _, err = setupLogger("info", filepath.Join(t.TempDir(), "missing", "x.log"), &stdout, &stderr)
	assert.Error(t, err)
}

func TestRawLogger(t *testing.T) {
	var buf bytes.Buffer
	r := NewRaw(&buf)
	r.Log(true, []byte{0x01, 0xa0})
	r.Log(false, nil)
	r.Log(false, []byte{0xff, 0x01, 0xa1})

	out := buf.String()
	assert.Contains(t, out, "BMC->VM chunk: 2 bytes, hex: 01 a0")
	assert.Contains(t, out, "VM->BMC chunk: 3 bytes, hex: ff 01 a1")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	NewRaw(nil).Log(true, []byte{0x01})
}
