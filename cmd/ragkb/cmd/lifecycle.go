package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/daemon"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the service in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the background service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctrl := daemon.NewController(cfg.PIDFilePath())
			if _, running := ctrl.Status(); running {
				if err := ctrl.Stop(10 * time.Second); err != nil {
					return err
				}
			}
			return runStart(cmd.Context())
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStart(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}
	p := newPrinter()

	ctrl := daemon.NewController(cfg.PIDFilePath())
	if pid, running := ctrl.Status(); running {
		p.Warning("service already running (pid %d)", pid)
		p.Emit(map[string]any{"running": true, "pid": pid})
		return nil
	}

	args := []string{"serve", "--config", configPath}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}

	pid, err := ctrl.Start(args, serviceLogPath(cfg))
	if err != nil {
		return err
	}

	if err := waitHealthy(ctx, cfg, 10*time.Second); err != nil {
		p.Warning("service spawned (pid %d) but not answering yet: %v", pid, err)
		p.Emit(map[string]any{"running": true, "pid": pid, "healthy": false})
		return nil
	}

	p.Success("service started (pid %d) on %s", pid, cfg.Server.Addr)
	p.Emit(map[string]any{"running": true, "pid": pid, "healthy": true, "addr": cfg.Server.Addr})
	return nil
}

func runStop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := newPrinter()

	ctrl := daemon.NewController(cfg.PIDFilePath())
	pid, running := ctrl.Status()
	if !running {
		p.Warning("service is not running")
		p.Emit(map[string]any{"running": false})
		return nil
	}

	if err := ctrl.Stop(10 * time.Second); err != nil {
		return err
	}
	p.Success("service stopped (pid %d)", pid)
	p.Emit(map[string]any{"running": false, "stopped_pid": pid})
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := newPrinter()

	ctrl := daemon.NewController(cfg.PIDFilePath())
	pid, running := ctrl.Status()
	if !running {
		p.Line("service: not running")
		p.Emit(map[string]any{"running": false})
		return nil
	}

	var health struct {
		Status          string            `json:"status"`
		Models          map[string]string `json:"models"`
		OllamaReachable bool              `json:"ollama_reachable"`
	}
	if err := newAPIClient(cfg).get(ctx, "/health", &health); err != nil {
		p.Warning("service process alive (pid %d) but not answering: %v", pid, err)
		p.Emit(map[string]any{"running": true, "pid": pid, "healthy": false})
		return nil
	}

	p.Header("ragkb service")
	p.Field("Status", "running (pid %d)", pid)
	p.Field("Address", "%s", cfg.Server.Addr)
	p.Field("Chat model", "%s", health.Models["chat"])
	p.Field("Embed model", "%s", health.Models["embed"])
	if health.OllamaReachable {
		p.Field("Ollama", "reachable")
	} else {
		p.Field("Ollama", "unreachable")
	}
	p.Emit(map[string]any{
		"running":          true,
		"pid":              pid,
		"addr":             cfg.Server.Addr,
		"models":           health.Models,
		"ollama_reachable": health.OllamaReachable,
	})
	return nil
}

// waitHealthy polls /health until the service answers or the timeout hits.
func waitHealthy(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	client := newAPIClient(cfg)
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		var out map[string]any
		if lastErr = client.get(ctx, "/health", &out); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("service did not become healthy within %s: %w", timeout, lastErr)
}
