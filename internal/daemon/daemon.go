package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Controller starts and stops the detached service process.
type Controller struct {
	pidFile *PIDFile
}

// NewController creates a controller over the given pidfile path.
func NewController(pidPath string) *Controller {
	return &Controller{pidFile: NewPIDFile(pidPath)}
}

// PIDFile returns the underlying pidfile.
func (c *Controller) PIDFile() *PIDFile {
	return c.pidFile
}

// Status returns the recorded pid and whether that process is alive.
func (c *Controller) Status() (int, bool) {
	pid, err := c.pidFile.Read()
	if err != nil {
		return 0, false
	}
	return pid, processExists(pid)
}

// Start spawns the current binary with the given arguments as a detached
// process, redirecting output to logPath, and records its pid.
func (c *Controller) Start(args []string, logPath string) (int, error) {
	if _, running := c.Status(); running {
		return 0, fmt.Errorf("service already running")
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve executable: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// New session so the child survives the parent's terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start service: %w", err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(c.pidFile.Path(), []byte(fmt.Sprintf("%d", pid)), 0o644); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("failed to record pid: %w", err)
	}

	// The child owns its own lifetime now.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop terminates the recorded process: SIGTERM, then SIGKILL after the
// timeout. Removes the pidfile once the process is gone.
func (c *Controller) Stop(timeout time.Duration) error {
	pid, err := c.pidFile.Read()
	if err != nil {
		return err
	}
	if !processExists(pid) {
		return c.pidFile.Remove()
	}

	if err := c.pidFile.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return c.pidFile.Remove()
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = c.pidFile.Signal(syscall.SIGKILL)
	time.Sleep(200 * time.Millisecond)
	return c.pidFile.Remove()
}
