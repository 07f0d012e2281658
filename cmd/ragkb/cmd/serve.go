package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/daemon"
	"github.com/ragkb/ragkb/internal/ingest"
	"github.com/ragkb/ragkb/internal/logging"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/server"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/telemetry"
	"github.com/ragkb/ragkb/internal/vector"
	"github.com/ragkb/ragkb/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the service in the foreground",
		Long: `Run the ragkb HTTP service in the foreground.

Use 'ragkb start' to run it detached in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.LogLevel
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCleanup()

	lock, err := daemon.AcquireLock(cfg.LockFilePath())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	pidFile := daemon.NewPIDFile(cfg.PIDFilePath())
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() { _ = pidFile.Remove() }()

	logger.Info("starting",
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("addr", cfg.Server.Addr))

	deps, closeDeps, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	srv := server.New(deps)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// buildDeps opens storage and wires the retrieval pipeline.
func buildDeps(cfg *config.Config) (server.Deps, func(), error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return server.Deps{}, nil, err
	}

	vectors := vector.NewManager(cfg.VectorIndexPath(), vector.DefaultConfig())

	registry := model.NewRegistry(
		model.OllamaFactories(cfg.Ollama.BaseURL, cfg.Ollama.NumPredict, cfg.Ollama.EmbedBatchSize),
		cfg.ModelConfigPath(),
		cfg.VectorIndexPath(),
		cfg.Ollama.ChatModel,
		cfg.Ollama.EmbedModel,
	)

	matcher := store.NewMatchBuilder(cfg.Retrieval.MaxQueryTerms, cfg.Retrieval.ExtraStopwords)
	splitter := ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	pipeline := ingest.NewPipeline(st, vectors, registry, splitter, cfg.RawDir())

	retriever := search.NewRetriever(st, vectors, registry, matcher, search.Options{
		KLex:   cfg.Retrieval.LexicalK,
		KVec:   cfg.Retrieval.VectorK,
		FinalK: cfg.Retrieval.FinalK,
		Mode:   store.QueryMode(cfg.Retrieval.QueryMode),
		Weights: search.Weights{
			Lexical: cfg.Retrieval.LexicalWeight,
			Vector:  cfg.Retrieval.VectorWeight,
		},
		RRFK: cfg.Retrieval.RRFConstant,
	})

	cleaner := answer.NewCleaner(cfg.Answer.ExtraCleanupPatterns)
	assembler := answer.NewAssembler(st, retriever, registry, cleaner, answer.Settings{
		MemoryK:             cfg.Answer.MemoryK,
		MinUnique:           cfg.Answer.MinUniqueCitations,
		RequirePerParagraph: cfg.Answer.RequireCitationPerParagraph,
		RewriteOnFail:       cfg.Answer.RewriteOnFail,
	})
	metrics := telemetry.NewQueryMetrics()

	closeAll := func() {
		_ = registry.Close()
		_ = vectors.Close()
		_ = st.Close()
	}

	return server.Deps{
		Config:    cfg,
		Store:     st,
		Vectors:   vectors,
		Registry:  registry,
		Pipeline:  pipeline,
		Retriever: retriever,
		Assembler: assembler,
		Metrics:   metrics,
	}, closeAll, nil
}

// serviceLogPath is where a detached service writes its stdout/stderr.
func serviceLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogDir(), "ragkb.out")
}
