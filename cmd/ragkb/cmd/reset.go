package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/daemon"
)

func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ingested data and indexes",
		Long: `Remove the entire data directory: documents, chunks, the vector
index, chat history, and the persisted model selection. The service
must be stopped first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := newPrinter()

			if pid, running := daemon.NewController(cfg.PIDFilePath()).Status(); running {
				return fmt.Errorf("service is running (pid %d); stop it first with 'ragkb stop'", pid)
			}

			if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
				p.Warning("nothing to reset: %s does not exist", cfg.DataDir)
				p.Emit(map[string]any{"reset": false})
				return nil
			}

			if !force {
				fmt.Fprintf(cmd.OutOrStdout(),
					"This will permanently delete all data in %s.\nType 'yes' to continue: ", cfg.DataDir)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
					p.Line("aborted")
					return nil
				}
			}

			if err := os.RemoveAll(cfg.DataDir); err != nil {
				return fmt.Errorf("failed to delete %s: %w", cfg.DataDir, err)
			}
			p.Success("deleted %s", cfg.DataDir)
			p.Emit(map[string]any{"reset": true, "data_dir": cfg.DataDir})
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	return cmd
}
