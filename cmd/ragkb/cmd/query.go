package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/ui"
)

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	BM25K     int    `json:"bm25_k,omitempty"`
	VecK      int    `json:"vec_k,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
	MemoryK   *int   `json:"memory_k,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func newQueryCmd() *cobra.Command {
	var sessionID string
	var bm25K, vecK, topK, memoryK int
	var mode string

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a one-shot question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req := queryRequest{
				Query:     args[0],
				SessionID: sessionID,
				BM25K:     bm25K,
				VecK:      vecK,
				TopK:      topK,
				Mode:      mode,
			}
			if cmd.Flags().Changed("memory-k") {
				req.MemoryK = &memoryK
			}
			return runQuery(cmd, cfg, req)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for conversation memory")
	cmd.Flags().IntVar(&bm25K, "bm25-k", 0, "Lexical candidate depth")
	cmd.Flags().IntVar(&vecK, "vec-k", 0, "Vector candidate depth")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks handed to the model")
	cmd.Flags().IntVar(&memoryK, "memory-k", 0, "Prior messages replayed from the session")
	cmd.Flags().StringVar(&mode, "mode", "", "Lexical query mode (heuristic or raw)")

	return cmd
}

func runQuery(cmd *cobra.Command, cfg *config.Config, req queryRequest) error {
	var resp answer.Response
	if err := newAPIClient(cfg).postJSON(cmd.Context(), "/query", req, &resp); err != nil {
		return err
	}

	p := newPrinter()
	if p.Emit(resp) {
		return nil
	}
	printAnswer(p, &resp)
	return nil
}

func printAnswer(p *ui.Printer, resp *answer.Response) {
	p.Line("%s", resp.Answer)
	if len(resp.Sources) > 0 {
		p.Line("")
		p.Header("Sources")
		for _, src := range resp.Sources {
			p.Field(src.Filename, "chunk %d, cid:%d (score %.4f)", src.ChunkIndex, src.ChunkID, src.FusedScore)
		}
	}
	if !resp.Debug.CitationOK && resp.Debug.CitationReport != nil {
		p.Warning("citations: %s", resp.Debug.CitationReport.Reason)
	}
}
