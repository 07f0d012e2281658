// Package lifecycle manages the Ollama backend: detecting the
// installation, starting the server, and pulling missing models.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ragkb/ragkb/internal/model"
)

const (
	// StartupTimeout bounds waiting for a freshly started server.
	StartupTimeout = 30 * time.Second

	readyPollInterval    = 100 * time.Millisecond
	maxReadyPollInterval = 2 * time.Second
)

// PullProgress is one progress update from a streaming model pull.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
	Percent   float64
}

// Manager drives the Ollama process and model inventory.
type Manager struct {
	baseURL string
	client  *http.Client

	// Test seams.
	execCommand func(name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
	fileExists  func(path string) bool
}

// NewManager creates a manager for the given Ollama base URL.
func NewManager(baseURL string) *Manager {
	return &Manager{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 5 * time.Second},
		execCommand: exec.Command,
		lookPath:    exec.LookPath,
		fileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Installed reports whether the ollama binary is present, and where.
func (m *Manager) Installed() (string, bool) {
	if path, err := m.lookPath("ollama"); err == nil {
		return path, true
	}
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Ollama.app",
			filepath.Join(os.Getenv("HOME"), "Applications", "Ollama.app"),
		}
	case "linux":
		candidates = []string{
			"/usr/local/bin/ollama",
			"/usr/bin/ollama",
			filepath.Join(os.Getenv("HOME"), ".local", "bin", "ollama"),
		}
	}
	for _, p := range candidates {
		if m.fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// Running reports whether the Ollama API answers.
func (m *Manager) Running(ctx context.Context) bool {
	return model.Reachable(ctx, m.baseURL)
}

// HasModel reports whether the named model is installed, matching with or
// without the ":tag" suffix.
func (m *Manager) HasModel(ctx context.Context, name string) (bool, error) {
	infos, err := model.ListModels(ctx, m.baseURL)
	if err != nil {
		return false, err
	}
	base := strings.SplitN(strings.ToLower(name), ":", 2)[0]
	for _, info := range infos {
		lower := strings.ToLower(info.Name)
		if lower == strings.ToLower(name) || strings.SplitN(lower, ":", 2)[0] == base {
			return true, nil
		}
	}
	return false, nil
}

// StartServer launches the Ollama server in the background. On Linux it
// prefers the systemd unit when one exists.
func (m *Manager) StartServer(ctx context.Context) error {
	path, ok := m.Installed()
	if !ok {
		return &NotInstalledError{}
	}
	if m.Running(ctx) {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		if strings.HasSuffix(path, ".app") {
			return m.execCommand("open", "-a", "Ollama").Start()
		}
		return m.serveDetached(path)
	case "linux":
		if err := m.execCommand("systemctl", "start", "ollama").Run(); err == nil {
			return nil
		}
		return m.serveDetached(path)
	default:
		return fmt.Errorf("cannot start ollama automatically on %s", runtime.GOOS)
	}
}

func (m *Manager) serveDetached(path string) error {
	cmd := m.execCommand(path, "serve")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ollama serve: %w", err)
	}
	// Reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()
	return nil
}

// WaitForReady polls the API with backoff until it answers or the timeout
// elapses.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = StartupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := readyPollInterval
	for {
		if m.Running(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for ollama at %s: %w", m.baseURL, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxReadyPollInterval {
			interval = maxReadyPollInterval
		}
	}
}

// PullModel downloads a model via the streaming pull API. progress may be
// nil. A model that is already installed is a no-op.
func (m *Manager) PullModel(ctx context.Context, name string, progress func(PullProgress)) error {
	has, err := m.HasModel(ctx, name)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// No client timeout: the stream runs as long as the download does.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var update struct {
			Status    string `json:"status"`
			Error     string `json:"error"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
		}
		if json.Unmarshal(scanner.Bytes(), &update) != nil {
			continue
		}
		if update.Error != "" {
			return fmt.Errorf("pull failed: %s", update.Error)
		}
		if progress != nil {
			pct := 0.0
			if update.Total > 0 {
				pct = float64(update.Completed) / float64(update.Total) * 100
			}
			progress(PullProgress{
				Status:    update.Status,
				Total:     update.Total,
				Completed: update.Completed,
				Percent:   pct,
			})
		}
	}
	return scanner.Err()
}

// EnsureReady brings the backend up and pulls any missing models.
func (m *Manager) EnsureReady(ctx context.Context, models []string, progress func(PullProgress)) error {
	if !m.Running(ctx) {
		if err := m.StartServer(ctx); err != nil {
			return err
		}
		if err := m.WaitForReady(ctx, StartupTimeout); err != nil {
			return err
		}
	}
	for _, name := range models {
		if err := m.PullModel(ctx, name, progress); err != nil {
			return fmt.Errorf("failed to pull %s: %w", name, err)
		}
	}
	return nil
}

// NotInstalledError indicates no Ollama installation was found.
type NotInstalledError struct{}

func (e *NotInstalledError) Error() string {
	return "ollama is not installed"
}

// InstallInstructions returns platform-specific install guidance.
func InstallInstructions() string {
	switch runtime.GOOS {
	case "darwin":
		return "install Ollama from https://ollama.com/download or 'brew install ollama'"
	case "linux":
		return "install Ollama with 'curl -fsSL https://ollama.com/install.sh | sh'"
	default:
		return "install Ollama from https://ollama.com/download"
	}
}
