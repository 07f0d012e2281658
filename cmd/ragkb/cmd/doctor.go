package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/lifecycle"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/ui"
	"github.com/ragkb/ragkb/internal/vector"
)

// checkResult is one doctor finding.
type checkResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail"`
	Warning bool   `json:"warning,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local installation",
		Long: `Check the data directory, database, Ollama backend, installed
models, and vector index consistency. Run this when ingestion or
queries misbehave.

With --fix, doctor also starts Ollama if it is installed but not
running, and pulls the configured models if they are missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cfg, fix)
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Start Ollama and pull missing models")

	return cmd
}

func runDoctor(ctx context.Context, cfg *config.Config, fix bool) error {
	p := newPrinter()

	if fix {
		fixBackend(ctx, cfg, p)
	}

	results := []checkResult{
		checkDataDir(cfg),
		checkDatabase(cfg),
	}
	results = append(results, checkOllama(ctx, cfg)...)
	results = append(results, checkIndexDimension(ctx, cfg))

	failed := renderChecks(p, results)
	if failed {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

// fixBackend brings Ollama up and pulls the configured models, best-effort.
func fixBackend(ctx context.Context, cfg *config.Config, p *ui.Printer) {
	manager := lifecycle.NewManager(cfg.Ollama.BaseURL)

	var lastStatus string
	err := manager.EnsureReady(ctx,
		[]string{cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel},
		func(prog lifecycle.PullProgress) {
			if prog.Status != lastStatus {
				lastStatus = prog.Status
				p.Line("  %s", prog.Status)
			}
		})
	if err != nil {
		var notInstalled *lifecycle.NotInstalledError
		if errors.As(err, &notInstalled) {
			p.Warning("cannot fix: %v; %s", err, lifecycle.InstallInstructions())
		} else {
			p.Warning("fix failed: %v", err)
		}
	}
}

func renderChecks(p *ui.Printer, results []checkResult) (failed bool) {
	for _, r := range results {
		if !r.OK && !r.Warning {
			failed = true
		}
	}
	if p.Emit(results) {
		return failed
	}

	p.Header("ragkb doctor")
	for _, r := range results {
		switch {
		case r.OK:
			p.Success("%s: %s", r.Name, r.Detail)
		case r.Warning:
			p.Warning("%s: %s", r.Name, r.Detail)
		default:
			p.Error("%s: %s", r.Name, r.Detail)
		}
	}
	return failed
}

func checkDataDir(cfg *config.Config) checkResult {
	r := checkResult{Name: "data directory"}
	if err := cfg.EnsureDataDirs(); err != nil {
		r.Detail = err.Error()
		return r
	}
	probe := filepath.Join(cfg.DataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		r.Detail = fmt.Sprintf("not writable: %v", err)
		return r
	}
	_ = os.Remove(probe)
	r.OK = true
	r.Detail = cfg.DataDir
	return r
}

func checkDatabase(cfg *config.Config) checkResult {
	r := checkResult{Name: "database"}
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		r.OK = true
		r.Warning = true
		r.Detail = "not created yet (ingest something first)"
		return r
	}
	st, err := store.Open(path)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	defer st.Close()

	counts, err := st.Counts(context.Background())
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	r.OK = true
	r.Detail = fmt.Sprintf("%d documents, %d chunks", counts.Documents, counts.Chunks)
	return r
}

func checkOllama(ctx context.Context, cfg *config.Config) []checkResult {
	reach := checkResult{Name: "ollama"}
	if !model.Reachable(ctx, cfg.Ollama.BaseURL) {
		reach.Detail = fmt.Sprintf("%s unreachable (start it with 'ollama serve')", cfg.Ollama.BaseURL)
		return []checkResult{reach}
	}
	reach.OK = true
	reach.Detail = cfg.Ollama.BaseURL

	installed := checkResult{Name: "models"}
	infos, err := model.ListModels(ctx, cfg.Ollama.BaseURL)
	if err != nil {
		installed.Detail = err.Error()
		return []checkResult{reach, installed}
	}

	var missing []string
	for _, want := range []string{cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel} {
		if !modelInstalled(infos, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		installed.Detail = fmt.Sprintf("missing %s (run 'ollama pull %s')",
			strings.Join(missing, ", "), missing[0])
		return []checkResult{reach, installed}
	}
	installed.OK = true
	installed.Detail = fmt.Sprintf("%s, %s", cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
	return []checkResult{reach, installed}
}

// modelInstalled matches names with or without the ":tag" suffix.
func modelInstalled(infos []model.ModelInfo, want string) bool {
	base := strings.SplitN(want, ":", 2)[0]
	for _, info := range infos {
		if info.Name == want || strings.SplitN(info.Name, ":", 2)[0] == base {
			return true
		}
	}
	return false
}

func checkIndexDimension(ctx context.Context, cfg *config.Config) checkResult {
	r := checkResult{Name: "vector index"}

	indexDim, err := vector.ReadIndexDim(cfg.VectorIndexPath())
	if err != nil {
		r.OK = true
		r.Warning = true
		r.Detail = "not built yet"
		return r
	}

	if !model.Reachable(ctx, cfg.Ollama.BaseURL) {
		r.OK = true
		r.Warning = true
		r.Detail = fmt.Sprintf("dim %d (embedder dim unknown, Ollama unreachable)", indexDim)
		return r
	}

	factories := model.OllamaFactories(cfg.Ollama.BaseURL, cfg.Ollama.NumPredict, cfg.Ollama.EmbedBatchSize)
	embedder := factories.NewEmbedder(cfg.Ollama.EmbedModel)
	defer embedder.Close()

	embedDim, err := embedder.Dimensions(ctx)
	if err != nil {
		r.OK = true
		r.Warning = true
		r.Detail = fmt.Sprintf("dim %d (embedder probe failed: %v)", indexDim, err)
		return r
	}

	if embedDim != indexDim {
		r.Detail = fmt.Sprintf("index dim %d != embedder dim %d; re-ingest to rebuild", indexDim, embedDim)
		return r
	}
	r.OK = true
	r.Detail = fmt.Sprintf("dim %d matches embedder", indexDim)
	return r
}
