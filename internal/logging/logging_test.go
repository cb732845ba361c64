package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, LevelFromString(tt.input))
		})
	}
}

func TestSetup_NoFileWritesJSONToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(Config{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("import_completed", slog.String("index", "cities"))
	logger.Warn("import_completed_with_errors", slog.String("index", "cities"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "import_completed_with_errors", entry["msg"])
	assert.Equal(t, "cities", entry["index"])
}

func TestSetup_FileWithStderrMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "indexsync.log")
	var stderr bytes.Buffer

	logger, cleanup, err := setup(Config{
		Level:         "debug",
		FilePath:      path,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: true,
	}, &stderr)
	require.NoError(t, err)

	logger.Debug("journal_cleaned", slog.Int("deleted", 3))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"journal_cleaned"`)
	assert.Contains(t, string(data), `"deleted":3`)
	assert.Equal(t, string(data), stderr.String())
}

func TestSetup_FileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexsync.log")
	var stderr bytes.Buffer

	logger, cleanup, err := setup(Config{FilePath: path}, &stderr)
	require.NoError(t, err)
	logger.Info("worker_started")
	cleanup()

	assert.Empty(t, stderr.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker_started")
}
