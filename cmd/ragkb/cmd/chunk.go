package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newChunkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunk <id>",
		Short: "Show one stored chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid chunk id %q", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var chunk struct {
				ChunkID    int64  `json:"chunk_id"`
				DocumentID int64  `json:"document_id"`
				Filename   string `json:"filename"`
				ChunkIndex int    `json:"chunk_index"`
				Text       string `json:"text"`
			}
			if err := newAPIClient(cfg).get(cmd.Context(), "/chunks/"+args[0], &chunk); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(chunk) {
				return nil
			}
			p.Field("Chunk", "%d", chunk.ChunkID)
			p.Field("Document", "%d (%s)", chunk.DocumentID, chunk.Filename)
			p.Field("Index", "%d", chunk.ChunkIndex)
			p.Line("")
			p.Line("%s", chunk.Text)
			return nil
		},
	}
}
