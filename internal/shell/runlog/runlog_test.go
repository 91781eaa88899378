package runlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestNew_CreatesTimestampedLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, slog.LevelInfo)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, dir, filepath.Dir(l.FilePath))
	base := filepath.Base(l.FilePath)
	assert.True(t, strings.HasPrefix(base, "deploy_"), base)
	assert.True(t, strings.HasSuffix(base, ".log"), base)
	assert.NotEmpty(t, l.RunID)
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	l, err := New(dir, slog.LevelInfo)
	require.NoError(t, err)
	defer l.Close()
	assert.DirExists(t, dir)
}

func TestLogger_FileRecordsCarryRunID(t *testing.T) {
	l, err := New(t.TempDir(), slog.LevelInfo)
	require.NoError(t, err)

	l.Info("syncing project", "local_dir", "/tmp/app")
	require.NoError(t, l.Close())

	records := readRecords(t, l.FilePath)
	require.Len(t, records, 1)
	assert.Equal(t, l.RunID, records[0]["run_id"])
	assert.Equal(t, "syncing project", records[0]["msg"])
	assert.Equal(t, "/tmp/app", records[0]["local_dir"])
}

func TestLogger_FileCapturesDebugRegardlessOfStderrLevel(t *testing.T) {
	l, err := New(t.TempDir(), slog.LevelWarn)
	require.NoError(t, err)

	l.Debug("rsync invocation", "args", "-az --stats")
	require.NoError(t, l.Close())

	records := readRecords(t, l.FilePath)
	require.Len(t, records, 1)
	assert.Equal(t, "DEBUG", records[0]["level"])
}

func TestSuccess_RendersCustomLevelName(t *testing.T) {
	l, err := New(t.TempDir(), slog.LevelInfo)
	require.NoError(t, err)

	Success(l.Logger, "deployment complete", "access_url", "http://203.0.113.7/")
	require.NoError(t, l.Close())

	records := readRecords(t, l.FilePath)
	require.Len(t, records, 1)
	assert.Equal(t, "SUCCESS", records[0]["level"])
	assert.Equal(t, "deployment complete", records[0]["msg"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestFanout_RespectsPerSinkLevels(t *testing.T) {
	var quiet, verbose bytes.Buffer
	handler := newFanout(
		newTextHandler(&quiet, slog.LevelWarn),
		newJSONHandler(&verbose, slog.LevelDebug),
	)
	logger := slog.New(handler)

	logger.Debug("fine detail")
	logger.Warn("something odd")

	assert.NotContains(t, quiet.String(), "fine detail")
	assert.Contains(t, quiet.String(), "something odd")
	assert.Contains(t, verbose.String(), "fine detail")
	assert.Contains(t, verbose.String(), "something odd")
}

func TestFanout_EnabledWhenAnySinkEnabled(t *testing.T) {
	handler := newFanout(
		newTextHandler(&bytes.Buffer{}, slog.LevelError),
		newJSONHandler(&bytes.Buffer{}, slog.LevelInfo),
	)
	assert.True(t, handler.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, handler.Enabled(context.Background(), slog.LevelDebug))
}
