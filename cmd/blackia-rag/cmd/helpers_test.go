package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// testEnv is an isolated project root with offline embedders.
type testEnv struct {
	root    string
	logFile string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	// Keep the user's configuration out of the test.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	return &testEnv{
		root:    t.TempDir(),
		logFile: filepath.Join(t.TempDir(), "test.log"),
	}
}

// run executes the CLI with the environment's global flags and returns
// what it wrote to stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--root", e.root, "--offline", "--no-color", "--log-file", e.logFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

// writeFile creates name under dir with content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// insertOrphan writes a chunk for attachment "stray" straight into the
// store, bypassing the lifecycle manager.
func insertOrphan(t *testing.T, root string) {
	t.Helper()
	st, err := store.OpenStore(context.Background(), store.Options{
		DataDir: filepath.Join(root, ".blackia"),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	vec := make([]float32, 8)
	vec[0] = 1
	require.NoError(t, st.Text.ReplaceAttachment(context.Background(), "stray", []store.TextChunk{{
		ID:           store.ChunkID("stray", 0),
		AttachmentID: "stray",
		Text:         "stray chunk",
		Vector:       vec,
	}}))
}
