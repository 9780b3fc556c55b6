package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

func TestSession_WritesRequestedProfiles(t *testing.T) {
	// Given: all three profiles requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: running some work between Start and Stop
	s, err := Start(opts, logging.Discard())
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum
	require.NoError(t, s.Stop())

	// Then: every file has content
	for _, path := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}

	// And: stopping twice is harmless
	assert.NoError(t, s.Stop())
}

func TestSession_HeapOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	s, err := Start(Options{Heap: path}, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	require.NoError(t, s.Stop())
	assert.FileExists(t, path)
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")}, nil)
	assert.Error(t, err)
}

func TestOptions_Disabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	var s *Session
	assert.NoError(t, s.Stop())
}
