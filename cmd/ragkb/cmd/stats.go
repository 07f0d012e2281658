package cmd

import (
	"github.com/spf13/cobra"
)

// statsPayload mirrors the service's /stats response.
type statsPayload struct {
	ChunkStore struct {
		Documents  int `json:"documents"`
		Chunks     int `json:"chunks"`
		FTSEntries int `json:"fts_entries"`
	} `json:"chunk_store"`
	VectorIndex struct {
		Exists        bool   `json:"exists"`
		NTotal        int    `json:"ntotal"`
		Dim           int    `json:"dim"`
		IndexType     string `json:"index_type"`
		FileSizeBytes int64  `json:"file_size_bytes"`
	} `json:"vector_index"`
	Runtime struct {
		BaseURL      string `json:"base_url"`
		ChatModel    string `json:"chat_model"`
		EmbedModel   string `json:"embed_model"`
		NumPredict   int    `json:"num_predict"`
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
		RRFConstant  int    `json:"rrf_k"`
		FinalK       int    `json:"final_k"`
	} `json:"runtime"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index and runtime statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var stats statsPayload
			if err := newAPIClient(cfg).get(cmd.Context(), "/stats", &stats); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(stats) {
				return nil
			}

			p.Header("Chunk store")
			p.Field("Documents", "%d", stats.ChunkStore.Documents)
			p.Field("Chunks", "%d", stats.ChunkStore.Chunks)
			p.Field("FTS entries", "%d", stats.ChunkStore.FTSEntries)

			p.Header("Vector index")
			if stats.VectorIndex.Exists {
				p.Field("Vectors", "%d", stats.VectorIndex.NTotal)
				p.Field("Dimension", "%d", stats.VectorIndex.Dim)
				p.Field("Type", "%s", stats.VectorIndex.IndexType)
				p.Field("Size", "%d bytes", stats.VectorIndex.FileSizeBytes)
			} else {
				p.Field("Status", "not built")
			}

			p.Header("Runtime")
			p.Field("Ollama", "%s", stats.Runtime.BaseURL)
			p.Field("Chat model", "%s", stats.Runtime.ChatModel)
			p.Field("Embed model", "%s", stats.Runtime.EmbedModel)
			p.Field("Chunking", "%d / %d overlap", stats.Runtime.ChunkSize, stats.Runtime.ChunkOverlap)
			p.Field("RRF k", "%d", stats.Runtime.RRFConstant)
			p.Field("Final k", "%d", stats.Runtime.FinalK)
			return nil
		},
	}
}
