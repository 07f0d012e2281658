package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/ui"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect retrieval and citation internals",
	}
	cmd.AddCommand(newDebugRetrievalCmd())
	cmd.AddCommand(newDebugCitationsCmd())
	return cmd
}

// debugRetrievalPayload mirrors the service's /debug/retrieval response.
type debugRetrievalPayload struct {
	Query struct {
		Question  string   `json:"question"`
		MatchExpr string   `json:"match_expr"`
		Mode      string   `json:"mode"`
		Terms     []string `json:"terms"`
	} `json:"query"`
	Result  *search.Result `json:"result"`
	Overlap struct {
		InBoth      int `json:"in_both"`
		LexicalOnly int `json:"lexical_only"`
		VectorOnly  int `json:"vector_only"`
	} `json:"overlap"`
	RRF struct {
		K             int     `json:"k"`
		LexicalWeight float64 `json:"lexical_weight"`
		VectorWeight  float64 `json:"vector_weight"`
		FinalK        int     `json:"final_k"`
	} `json:"rrf"`
	Counts struct {
		Documents  int `json:"documents"`
		Chunks     int `json:"chunks"`
		FTSEntries int `json:"fts_entries"`
	} `json:"store_counts"`
}

func newDebugRetrievalCmd() *cobra.Command {
	var bm25K, vecK, finalK, maxTerms, rrfK int
	var wLex, wVec float64
	var mode, expr string

	cmd := &cobra.Command{
		Use:   "retrieval <question>",
		Short: "Trace both retrieval legs and the fusion for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			body := map[string]any{"query": args[0]}
			if bm25K > 0 {
				body["bm25_k"] = bm25K
			}
			if vecK > 0 {
				body["vec_k"] = vecK
			}
			if finalK > 0 {
				body["final_k"] = finalK
			}
			if mode != "" {
				body["mode"] = mode
			}
			if expr != "" {
				body["explicit_expr"] = expr
			}
			if maxTerms > 0 {
				body["max_terms"] = maxTerms
			}
			if rrfK > 0 {
				body["rrf_k"] = rrfK
			}
			if wLex > 0 || wVec > 0 {
				body["w_lex"] = wLex
				body["w_vec"] = wVec
			}

			var payload debugRetrievalPayload
			if err := newAPIClient(cfg).postJSON(cmd.Context(), "/debug/retrieval", body, &payload); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(payload) {
				return nil
			}
			printRetrievalTrace(p, &payload)
			return nil
		},
	}

	cmd.Flags().IntVar(&bm25K, "bm25-k", 0, "Lexical candidate depth")
	cmd.Flags().IntVar(&vecK, "vec-k", 0, "Vector candidate depth")
	cmd.Flags().IntVar(&finalK, "final-k", 0, "Fused result count")
	cmd.Flags().StringVar(&mode, "mode", "", "Lexical query mode (heuristic or raw)")
	cmd.Flags().StringVar(&expr, "expr", "", "Explicit FTS5 match expression, bypassing preprocessing")
	cmd.Flags().IntVar(&maxTerms, "max-terms", 0, "Cap on heuristic match expression terms")
	cmd.Flags().IntVar(&rrfK, "rrf-k", 0, "RRF rank smoothing constant")
	cmd.Flags().Float64Var(&wLex, "w-lex", 0, "Lexical leg fusion weight")
	cmd.Flags().Float64Var(&wVec, "w-vec", 0, "Vector leg fusion weight")

	return cmd
}

func printRetrievalTrace(p *ui.Printer, payload *debugRetrievalPayload) {
	p.Header("Query")
	p.Field("Question", "%s", payload.Query.Question)
	p.Field("Match expr", "%q", payload.Query.MatchExpr)
	p.Field("Mode", "%s", payload.Query.Mode)

	res := payload.Result
	if res == nil {
		return
	}

	p.Header("Legs")
	p.Field("Lexical", "%d hits", len(res.Lexical))
	if res.VectorError != "" {
		p.Field("Vector", "degraded: %s", res.VectorError)
	} else {
		p.Field("Vector", "%d hits (index ntotal %d)", len(res.Vector), res.IndexCount)
	}
	if res.DimensionMismatch {
		p.Warning("dimension mismatch: embedder %d vs index %d", res.EmbedderDim, res.IndexDim)
	}
	p.Field("Overlap", "%d both, %d lexical-only, %d vector-only",
		payload.Overlap.InBoth, payload.Overlap.LexicalOnly, payload.Overlap.VectorOnly)

	p.Header(fmt.Sprintf("Fused (rrf k=%d, weights %.1f/%.1f)",
		payload.RRF.K, payload.RRF.LexicalWeight, payload.RRF.VectorWeight))
	for i, f := range res.Fused {
		legs := ""
		if f.LexRank > 0 {
			legs += fmt.Sprintf(" lex#%d", f.LexRank)
		}
		if f.VecRank > 0 {
			legs += fmt.Sprintf(" vec#%d", f.VecRank)
		}
		p.Line("  %2d. cid:%-6d score %.6f%s", i+1, f.ChunkID, f.Score, legs)
	}

	p.Header("Timings")
	p.Field("Lexical", "%.1f ms", res.Timings.LexicalMS)
	p.Field("Embed", "%.1f ms", res.Timings.EmbedMS)
	p.Field("Vector", "%.1f ms", res.Timings.VectorMS)
	p.Field("Fuse", "%.1f ms", res.Timings.FuseMS)
	p.Field("Total", "%.1f ms", res.Timings.TotalMS)
}

// debugCitationsPayload mirrors the service's /debug/citations response.
type debugCitationsPayload struct {
	Answer         string          `json:"answer"`
	Sources        []answer.Source `json:"sources"`
	CitationOK     bool            `json:"citation_ok"`
	CitationReport *answer.Report  `json:"citation_report"`
}

func newDebugCitationsCmd() *cobra.Command {
	var allowedIDs []int64
	var validate bool
	var sessionID string
	var topK, minUnique int
	var noPerParagraph, noRewrite bool

	cmd := &cobra.Command{
		Use:   "citations <question>",
		Short: "Run the answer path and report its citation validation",
		Long: `Run a question through the full answer path and print the generated
answer with its citation report. With --validate, the argument is
treated as answer text and checked directly against --allowed ids.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			body := map[string]any{}
			if validate {
				body["answer"] = args[0]
				body["allowed_ids"] = allowedIDs
			} else {
				body["query"] = args[0]
				if sessionID != "" {
					body["session_id"] = sessionID
				}
				if topK > 0 {
					body["top_k"] = topK
				}
			}
			if minUnique > 0 {
				body["min_unique_citations"] = minUnique
			}
			if noPerParagraph {
				body["require_citation_per_paragraph"] = false
			}
			if noRewrite {
				body["rewrite_on_fail"] = false
			}

			var payload debugCitationsPayload
			if err := newAPIClient(cfg).postJSON(cmd.Context(), "/debug/citations", body, &payload); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(payload) {
				return nil
			}
			if !validate {
				p.Line("%s", payload.Answer)
				p.Line("")
			}
			report := payload.CitationReport
			if report == nil {
				return nil
			}
			if report.Valid {
				p.Success("citations valid")
			} else {
				p.Error("citations invalid: %s", report.Reason)
			}
			p.Field("Paragraphs", "%d", report.ParagraphCount)
			p.Field("Unique cids", "%d", report.UniqueCitationsCount)
			if len(report.InvalidIDs) > 0 {
				p.Field("Invalid ids", "%v", report.InvalidIDs)
			}
			if len(report.MissingParagraphs) > 0 {
				p.Field("Uncited", "paragraphs %v", report.MissingParagraphs)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "Treat the argument as answer text and validate it")
	cmd.Flags().Int64SliceVar(&allowedIDs, "allowed", nil, "Allowed chunk ids with --validate (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for the answer path")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks handed to the model")
	cmd.Flags().IntVar(&minUnique, "min-unique", 0, "Minimum distinct citations required")
	cmd.Flags().BoolVar(&noPerParagraph, "no-per-paragraph", false, "Drop the citation-per-paragraph requirement")
	cmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "Report failures without repairing the answer")

	return cmd
}
