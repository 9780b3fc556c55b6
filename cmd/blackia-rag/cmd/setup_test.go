package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/preflight"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func TestConfigInit_Project(t *testing.T) {
	// Given: a project without configuration
	env := newTestEnv(t)
	path := filepath.Join(env.root, ".blackia.yaml")

	// When: initialising twice, the second time with --force
	out := env.mustRun(t, "config", "init")
	assert.Contains(t, out, "[ok] Created "+path)
	require.FileExists(t, path)

	out = env.mustRun(t, "config", "init")
	assert.Contains(t, out, "already exists")

	out = env.mustRun(t, "config", "init", "--force")

	// Then: the old file is backed up
	assert.Contains(t, out, "Backup:")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	// And: path reports the project file
	assert.Equal(t, path+"\n", env.mustRun(t, "config", "path"))
}

func TestConfigInit_User(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun(t, "config", "init", "--user")

	assert.FileExists(t, config.GetUserConfigPath())
	assert.Equal(t, config.GetUserConfigPath()+"\n", env.mustRun(t, "config", "path", "--user"))
}

func TestConfigShow(t *testing.T) {
	// Given: a project file overriding top_k
	env := newTestEnv(t)
	writeFile(t, env.root, ".blackia.yaml", "search:\n  top_k: 3\n")

	// When: showing the merged configuration as JSON
	var merged config.Config
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "config", "show", "--json")), &merged))

	// Then: the override and --offline both apply
	assert.Equal(t, 3, merged.Search.TopK)
	assert.Equal(t, "static", merged.Embeddings.Provider)

	// And: defaults ignore the project file
	var defaults config.Config
	require.NoError(t, yaml.Unmarshal([]byte(env.mustRun(t, "config", "show", "--source", "defaults")), &defaults))
	assert.Equal(t, 10, defaults.Search.TopK)

	// And: a missing user file is reported, not an error
	assert.Contains(t, env.mustRun(t, "config", "show", "--source", "user"), "No user configuration")

	_, err := env.run(t, "config", "show", "--source", "nowhere")
	require.Error(t, err)
}

func TestDoctor_JSON(t *testing.T) {
	// Given: offline backends
	env := newTestEnv(t)

	// When: running the checks
	out, err := env.run(t, "doctor", "--json")

	// Then: every check is reported
	var report struct {
		Status string                  `json:"status"`
		Checks []preflight.CheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Len(t, report.Checks, 6)
	for _, c := range report.Checks {
		if c.Name == "text_embedder" || c.Name == "vision_embedder" || c.Name == "data_dir" {
			assert.Equal(t, preflight.StatusPass, c.Status, c.Name)
		}
	}

	// And: a clean run leaves the marker serve looks for
	dataDir := filepath.Join(env.root, ".blackia")
	if err == nil {
		m, err := preflight.ReadMarker(dataDir)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(m.Embedder, "static/"), m.Embedder)
		assert.False(t, preflight.NeedsCheck(dataDir, m.Embedder))
	} else {
		assert.Equal(t, "failed", report.Status)
	}
}

func TestProfilingFlags(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	env.mustRun(t, "--profile-cpu", cpu, "--profile-mem", heap, "version", "--short")

	for _, p := range []string{cpu, heap} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestModels_StatusAndPull(t *testing.T) {
	// Given: an ollama endpoint without the configured model
	var pulled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			if pulled.Load() {
				_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/pull":
			_, _ = w.Write([]byte(`{"status":"success"}` + "\n"))
			pulled.Store(true)
		}
	}))
	defer srv.Close()
	env := newTestEnv(t)
	t.Setenv("BLACKIA_EMBEDDINGS_PROVIDER", "ollama")
	t.Setenv("BLACKIA_EMBEDDINGS_MODEL", "nomic-embed-text")
	t.Setenv("BLACKIA_OLLAMA_HOST", srv.URL)

	// When: the status is shown
	out := env.mustRun(t, "models", "status")

	// Then: the service runs and the model is missing
	assert.Contains(t, out, "Running at "+srv.URL)
	assert.Contains(t, out, "Model nomic-embed-text is not pulled")

	// When: the model is pulled
	out = env.mustRun(t, "models", "pull")
	assert.Contains(t, out, "nomic-embed-text is ready")

	// Then: the JSON status reports it
	out = env.mustRun(t, "models", "status", "--json")
	var st struct {
		Running  bool `json:"running"`
		HasModel bool `json:"has_model"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Running)
	assert.True(t, st.HasModel)
}

func TestModels_OtherProvider(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("BLACKIA_EMBEDDINGS_PROVIDER", "static")
	out := env.mustRun(t, "models", "status")
	assert.Contains(t, out, "do not use ollama")
}

func TestValidate(t *testing.T) {
	// Given: two indexed documents and a query set with one tier 1 query per document
	env := newTestEnv(t)
	docs := t.TempDir()
	env.mustRun(t, "index", writeFile(t, docs, "lease.txt", "the lease renews every january"))
	env.mustRun(t, "index", writeFile(t, docs, "invoice.txt", "invoice for the roof repair"))
	queries := writeFile(t, t.TempDir(), "queries.yaml", `tier1:
  - id: T1
    name: any lease
    query: lease renewal
    mode: text
    expected: [lease, invoice]
negative:
  - id: N1
    name: blank
    query: " "
`)

	// When: the set is validated
	out := env.mustRun(t, "validate", queries)

	// Then: every query passes and the summary is printed
	assert.Contains(t, out, "[ok] T1 any lease")
	assert.Contains(t, out, "[ok] N1 blank")
	assert.Contains(t, out, "tier1: 1/1")

	// When: a tier 1 query expects a document that does not exist
	missing := writeFile(t, t.TempDir(), "missing.yaml", `tier1:
  - id: T2
    name: ghost
    query: lease
    mode: text
    expected: [ghost]
`)
	out, err := env.run(t, "validate", missing, "--json")

	// Then: the run fails and the JSON names the miss
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 tier 1 queries missed")
	var res struct {
		Results []struct {
			Passed    bool `json:"passed"`
			MatchedAt int  `json:"matched_at"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Passed)
	assert.Equal(t, -1, res.Results[0].MatchedAt)
}

func TestSnapshot_SaveListRestore(t *testing.T) {
	// Given: an index with one document, saved as "before"
	env := newTestEnv(t)
	storage := t.TempDir()
	docs := t.TempDir()
	env.mustRun(t, "index", writeFile(t, docs, "lease.txt", "the lease renews every january"))
	out := env.mustRun(t, "snapshot", "save", "before", "--storage", storage)
	assert.Contains(t, out, "Saved snapshot before (1 documents)")

	// When: a second document is indexed and the snapshot restored
	env.mustRun(t, "index", writeFile(t, docs, "invoice.txt", "invoice for the roof repair"))
	out = env.mustRun(t, "snapshot", "list", "--storage", storage)
	assert.Contains(t, out, "before")
	out = env.mustRun(t, "snapshot", "restore", "before", "--storage", storage)
	assert.Contains(t, out, "Restored snapshot before")

	// Then: the index holds the saved document only
	var info ui.StatsInfo
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "stats", "--json")), &info))
	assert.Equal(t, 1, info.DistinctAttachments)

	// And: saving under a taken name needs --force, and deletion empties the list
	_, err := env.run(t, "snapshot", "save", "before", "--storage", storage)
	require.Error(t, err)
	env.mustRun(t, "snapshot", "save", "before", "--storage", storage, "--force")
	env.mustRun(t, "snapshot", "delete", "before", "--storage", storage)
	assert.Contains(t, env.mustRun(t, "snapshot", "list", "--storage", storage), "No snapshots.")
}

func TestSnapshot_RestoreOtherProjectNeedsForce(t *testing.T) {
	// Given: a snapshot of another project
	storage := t.TempDir()
	other := newTestEnv(t)
	other.mustRun(t, "index", writeFile(t, t.TempDir(), "a.txt", "alpha"))
	other.mustRun(t, "snapshot", "save", "theirs", "--storage", storage)

	// When: restoring it into a different project
	env := newTestEnv(t)
	_, err := env.run(t, "snapshot", "restore", "theirs", "--storage", storage)

	// Then: it is refused without --force
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was taken from")
	env.mustRun(t, "snapshot", "restore", "theirs", "--storage", storage, "--force")
}
