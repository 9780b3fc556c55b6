// Package lifecycle manages the local Ollama service that serves text
// embeddings: detection, startup and model pulls.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// StartupTimeout bounds the wait for a started service.
	StartupTimeout = 30 * time.Second

	// ReadyPollInterval is the first WaitForReady poll interval; it doubles
	// up to MaxReadyPollInterval.
	ReadyPollInterval    = 100 * time.Millisecond
	MaxReadyPollInterval = 2 * time.Second
)

var (
	// ErrNotInstalled means no ollama binary or app was found.
	ErrNotInstalled = errors.New("ollama is not installed")
	// ErrNotRunning means the API did not answer.
	ErrNotRunning = errors.New("ollama is not running")
)

// ModelNotFoundError reports a model missing from the local registry.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s is not pulled", e.Model)
}

// OllamaManager inspects and drives a local Ollama installation.
type OllamaManager struct {
	host   string
	client *http.Client

	execCommand func(name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
	fileExists  func(path string) bool
}

// Status is a point-in-time view of the service.
type Status struct {
	Host          string   `json:"host"`
	Installed     bool     `json:"installed"`
	InstalledPath string   `json:"installed_path,omitempty"`
	Running       bool     `json:"running"`
	Models        []string `json:"models,omitempty"`
	TargetModel   string   `json:"target_model"`
	HasModel      bool     `json:"has_model"`
}

// PullProgress is one update of a streaming model pull.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// EnsureOpts configures EnsureReady.
type EnsureOpts struct {
	AutoStart bool
	AutoPull  bool
	// Progress receives pull updates.
	Progress func(PullProgress)
	// Out receives step messages. Nil discards them.
	Out io.Writer
}

// NewOllamaManager returns a manager for host, DefaultHost when empty.
func NewOllamaManager(host string) *OllamaManager {
	if host == "" {
		host = DefaultHost
	}
	return &OllamaManager{
		host:        strings.TrimRight(host, "/"),
		client:      &http.Client{Timeout: 5 * time.Second},
		execCommand: exec.Command,
		lookPath:    exec.LookPath,
		fileExists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
}

// Host returns the API endpoint.
func (m *OllamaManager) Host() string {
	return m.host
}

// IsRemoteHost reports whether the endpoint is not on this machine; a
// remote service cannot be started locally.
func (m *OllamaManager) IsRemoteHost() bool {
	return !strings.Contains(m.host, "localhost") && !strings.Contains(m.host, "127.0.0.1")
}

// IsInstalled looks for the ollama CLI on PATH, then for the usual install
// locations of the platform.
func (m *OllamaManager) IsInstalled() (bool, string) {
	if path, err := m.lookPath("ollama"); err == nil {
		return true, path
	}
	home := os.Getenv("HOME")
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"/Applications/Ollama.app", filepath.Join(home, "Applications", "Ollama.app")}
	case "linux":
		candidates = []string{"/usr/local/bin/ollama", "/usr/bin/ollama", filepath.Join(home, ".local", "bin", "ollama")}
	}
	for _, p := range candidates {
		if m.fileExists(p) {
			return true, p
		}
	}
	return false, ""
}

// IsRunning reports whether the API answers.
func (m *OllamaManager) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of the pulled models.
func (m *OllamaManager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	models := make([]string, len(result.Models))
	for i, md := range result.Models {
		models[i] = md.Name
	}
	return models, nil
}

// HasModel reports whether model is pulled. A name without a tag matches
// any tag of that model.
func (m *OllamaManager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, model), nil
}

func containsModel(models []string, model string) bool {
	want := strings.ToLower(model)
	wantBase, wantTag, tagged := strings.Cut(want, ":")
	for _, available := range models {
		name := strings.ToLower(available)
		base, tag, _ := strings.Cut(name, ":")
		if name == want || (base == wantBase && (!tagged || tag == wantTag)) {
			return true
		}
	}
	return false
}

// Status gathers installation, liveness and model availability.
func (m *OllamaManager) Status(ctx context.Context, targetModel string) (*Status, error) {
	st := &Status{Host: m.host, TargetModel: targetModel}
	st.Installed, st.InstalledPath = m.IsInstalled()
	st.Running = m.IsRunning(ctx)
	if !st.Running {
		return st, nil
	}
	models, err := m.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	st.Models = models
	st.HasModel = containsModel(models, targetModel)
	return st, nil
}

// Start launches the service if it is installed and not already running.
func (m *OllamaManager) Start(ctx context.Context) error {
	installed, path := m.IsInstalled()
	if !installed {
		return ErrNotInstalled
	}
	if m.IsRunning(ctx) {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		if strings.HasSuffix(path, ".app") || m.fileExists("/Applications/Ollama.app") {
			if err := m.execCommand("open", "-a", "Ollama").Start(); err != nil {
				return fmt.Errorf("failed to open Ollama.app: %w", err)
			}
			return nil
		}
		return m.serve(path)
	case "linux":
		// A systemd unit owns the service when one is installed.
		if m.execCommand("systemctl", "cat", "ollama").Run() == nil {
			if m.execCommand("systemctl", "start", "ollama").Run() == nil {
				return nil
			}
			if m.execCommand("systemctl", "--user", "start", "ollama").Run() == nil {
				return nil
			}
		}
		return m.serve(path)
	default:
		return fmt.Errorf("cannot start ollama on %s", runtime.GOOS)
	}
}

func (m *OllamaManager) serve(path string) error {
	cmd := m.execCommand(path, "serve")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ollama serve: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// WaitForReady polls with exponential backoff until the API answers or
// timeout passes.
func (m *OllamaManager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = StartupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := ReadyPollInterval
	for {
		if m.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for ollama: %w", ctx.Err())
		case <-time.After(interval):
		}
		interval = min(interval*2, MaxReadyPollInterval)
	}
}

// PullModel downloads model through the streaming pull API. It returns at
// once when the model is already present.
func (m *OllamaManager) PullModel(ctx context.Context, model string, progress func(PullProgress)) error {
	has, err := m.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := json.Marshal(struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{Name: model, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to encode pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls stream for minutes; only ctx bounds them.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var line struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("pull %s: %s", model, line.Error)
		}
		if progress != nil {
			p := PullProgress{Status: line.Status, Digest: line.Digest, Total: line.Total, Completed: line.Completed}
			if line.Total > 0 {
				p.Percent = float64(line.Completed) / float64(line.Total) * 100
			}
			progress(p)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}
	return nil
}

// EnsureReady brings the service up and pulls model as opts allow.
func (m *OllamaManager) EnsureReady(ctx context.Context, model string, opts EnsureOpts) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	if !m.IsRunning(ctx) {
		if m.IsRemoteHost() {
			return raerrors.New(raerrors.ErrCodeBackendUnavailable,
				fmt.Sprintf("ollama at %s is not reachable", m.host), ErrNotRunning).
				WithSuggestion("Start the remote service, or point embeddings.ollama_host at a local one.")
		}
		if installed, _ := m.IsInstalled(); !installed {
			return raerrors.New(raerrors.ErrCodeBackendUnavailable, "ollama is not installed", ErrNotInstalled).
				WithSuggestion(InstallInstructions())
		}
		if !opts.AutoStart {
			return raerrors.New(raerrors.ErrCodeBackendUnavailable, "ollama is not running", ErrNotRunning).
				WithSuggestion("Run 'ollama serve', or pass --start.")
		}
		_, _ = fmt.Fprintln(out, "Starting ollama...")
		if err := m.Start(ctx); err != nil {
			return err
		}
		if err := m.WaitForReady(ctx, StartupTimeout); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "Ollama is running.")
	}

	has, err := m.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if !opts.AutoPull {
		return &ModelNotFoundError{Model: model}
	}
	_, _ = fmt.Fprintf(out, "Pulling %s...\n", model)
	if err := m.PullModel(ctx, model, opts.Progress); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Model %s ready.\n", model)
	return nil
}

// InstallInstructions returns how to install ollama on this platform.
func InstallInstructions() string {
	switch runtime.GOOS {
	case "darwin":
		return "Download it from https://ollama.com/download or run 'brew install ollama'."
	case "linux":
		return "Run 'curl -fsSL https://ollama.com/install.sh | sh'."
	default:
		return "Download it from https://ollama.com/download."
	}
}
