// Package cmd provides the CLI commands for ragkb.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/profiling"
	"github.com/ragkb/ragkb/internal/ui"
	"github.com/ragkb/ragkb/pkg/version"
)

// Global flags, bound on the root command.
var (
	configPath string
	dataDir    string
	jsonOutput bool
)

// profile collects runtime profiles when any --profile-* flag is set.
var profile profiling.Session

// NewRootCmd creates the root command for the ragkb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragkb",
		Short: "Local retrieval-augmented QA over your documents",
		Long: `ragkb ingests documents into a hybrid lexical + vector index and
answers questions about them with cited sources, using a local
Ollama backend for embeddings and generation.

Run 'ragkb start' to launch the service, 'ragkb ingest <files>' to
add documents, and 'ragkb query "..."' to ask questions.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("ragkb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "ragkb.yaml", "Path to the config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable JSON output")

	cmd.PersistentFlags().StringVar(&profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profile.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profile.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return profile.Start()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return profile.Stop()
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newRestartCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newChunkCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newDebugCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the effective configuration from the config file,
// environment, and global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// newPrinter builds the output printer honoring the global --json flag.
func newPrinter() *ui.Printer {
	return ui.NewPrinter(ui.WithJSON(jsonOutput))
}
