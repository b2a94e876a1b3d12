package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestNewLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	require.NoError(t, err)

	logger.Debug("debug message", "key", "value")
	logger.Info("info message")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	data, err := os.ReadFile(filepath.Join(dir, "conductor.log"))
	require.NoError(t, err)

	recs := decodeLines(t, data)
	require.Len(t, recs, 2)
	assert.Equal(t, "debug message", recs[0]["msg"])
	assert.Equal(t, "value", recs[0]["key"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	recs := decodeLines(t, buf.Bytes())
	assert.Len(t, recs, 2)
}

func TestLogger_ChildAttributes(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelInfo)

	child := root.WithSession("s-1").WithStage("lookup").WithPhase("running_stage")
	child.Info("stage started", "attempt", 1)
	root.Info("root record")

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 2)
	assert.Equal(t, "s-1", recs[0]["session_id"])
	assert.Equal(t, "lookup", recs[0]["stage"])
	assert.Equal(t, "running_stage", recs[0]["phase"])
	assert.EqualValues(t, 1, recs[0]["attempt"])
	assert.NotContains(t, recs[1], "session_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("Warn"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Len(t, ValidLevels(), 4)
}
