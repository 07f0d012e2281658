package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/model"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and switch the active models",
	}
	cmd.AddCommand(newModelListCmd())
	cmd.AddCommand(newModelSetCmd())
	return cmd
}

func newModelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed Ollama models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var out struct {
				Models []struct {
					Name        string  `json:"name"`
					SizeGB      float64 `json:"size_gb"`
					IsEmbedding bool    `json:"is_embedding"`
				} `json:"models"`
				Active map[string]string `json:"active"`
			}
			if err := newAPIClient(cfg).get(cmd.Context(), "/models", &out); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(out) {
				return nil
			}

			p.Header("Installed models")
			for _, m := range out.Models {
				kind := "chat"
				if m.IsEmbedding {
					kind = "embed"
				}
				marker := " "
				if m.Name == out.Active["chat"] || m.Name == out.Active["embed"] {
					marker = "*"
				}
				p.Line("%s %-40s %6.1f GB  %s", marker, m.Name, m.SizeGB, kind)
			}
			p.Line("")
			p.Field("Active chat", "%s", out.Active["chat"])
			p.Field("Active embed", "%s", out.Active["embed"])
			return nil
		},
	}
}

func newModelSetCmd() *cobra.Command {
	var chatModel string
	var embedModel string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Switch the active chat and/or embedding model",
		Long: `Switch models on the running service without a restart. Switching
the embedding model does not re-embed existing vectors; if the new
model's dimension differs from the index, re-ingest to rebuild it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatModel == "" && embedModel == "" {
				return fmt.Errorf("nothing to change: pass --chat and/or --embed")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var result model.SwapResult
			err = newAPIClient(cfg).postJSON(cmd.Context(), "/models", model.SwapRequest{
				ChatModel:  chatModel,
				EmbedModel: embedModel,
			}, &result)

			var status errStatus
			if err != nil && !errors.As(err, &status) {
				return err
			}

			p := newPrinter()
			if p.Emit(result) {
				if len(result.Errors) > 0 {
					return fmt.Errorf("model swap rejected")
				}
				return nil
			}

			for _, msg := range result.Errors {
				p.Error("%s", msg)
			}
			for role, change := range result.Changes {
				p.Success("%s: %s -> %s", role, change.From, change.To)
			}
			if result.DimensionWarning != "" {
				p.Warning("%s", result.DimensionWarning)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("model swap rejected")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chatModel, "chat", "", "New chat model name")
	cmd.Flags().StringVar(&embedModel, "embed", "", "New embedding model name")

	return cmd
}
