package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scnai-plant-server/src/configs"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&configs.LogConfig{LogDir: dir, LogFile: "test.log", LogLevel: "INFO"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("不应写入")
	logger.Info("识别完成", map[string]interface{}{"record_id": 7})
	logger.WithTag("chat").Warn("会话超时")

	entries := readEntries(t, filepath.Join(dir, "test.log"))
	require.Len(t, entries, 2)

	assert.Equal(t, InfoLevel, entries[0].Level)
	assert.Equal(t, "识别完成", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"record_id": float64(7)}, entries[0].Fields)

	assert.Equal(t, WarnLevel, entries[1].Level)
	assert.Equal(t, "chat", entries[1].Tag)
}

func TestLoggerDebugLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&configs.LogConfig{LogDir: dir, LogFile: "debug.log", LogLevel: "debug"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("调试信息")

	entries := readEntries(t, filepath.Join(dir, "debug.log"))
	require.Len(t, entries, 1)
	assert.Equal(t, DebugLevel, entries[0].Level)
}

func TestNopLoggerIsSilent(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("丢弃")
	logger.WithTag("x").Info("丢弃")
	assert.NoError(t, logger.Close())
}
