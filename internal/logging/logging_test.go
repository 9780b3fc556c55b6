package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath_UnderBlackiaDir(t *testing.T) {
	path := DefaultLogPath()

	assert.Contains(t, path, ".blackia")
	assert.Equal(t, "blackia-rag.log", filepath.Base(path))
}

func TestStdioServerConfig_NeverWritesStderr(t *testing.T) {
	cfg := StdioServerConfig("debug")

	assert.False(t, cfg.WriteToStderr)
	assert.Equal(t, "debug", cfg.Level)
	assert.NotEmpty(t, cfg.FilePath)
}

func TestSetup_WritesJSONRecords(t *testing.T) {
	// Given: a file-only logger at info level
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path})
	require.NoError(t, err)

	// When: logging at debug and info
	logger.Debug("hidden")
	logger.Info("chunked", slog.String("attachment_id", "doc-1"), slog.Int("chunks", 3))
	cleanup()

	// Then: only the info record is present, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "hidden")
	assert.Contains(t, content, `"msg":"chunked"`)
	assert.Contains(t, content, `"attachment_id":"doc-1"`)
	assert.Contains(t, content, `"chunks":3`)
}

func TestSetup_NoFileFallsBackToStderr(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "warn"})
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, LevelFromString(in))
		})
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer with a tiny max size
	path := filepath.Join(t.TempDir(), "r.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 32
	defer func() { _ = w.Close() }()

	// When: writing past the limit several times
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(strings.Repeat("x", 20) + "\n"))
		require.NoError(t, err)
	}

	// Then: rotated files exist and none beyond maxFiles
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")

	// And: the live file holds only the last write
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 21, len(data))
}

func TestRotatingWriter_ReopensAfterClose(t *testing.T) {
	// Given: a closed writer
	path := filepath.Join(t.TempDir(), "re.log")
	w, err := NewRotatingWriter(path, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// When: writing again
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Then: both lines are appended to the same file
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = fmt.Fprintf(w, "line %d\n", i)
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, strings.Count(string(data), "\n"))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}
