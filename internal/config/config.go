// Package config loads and validates the ragkb configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. built-in defaults (NewConfig)
//  2. YAML config file (ragkb.yaml)
//  3. RAGKB_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ragkb configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Ollama    OllamaConfig    `yaml:"ollama" json:"ollama"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Answer    AnswerConfig    `yaml:"answer" json:"answer"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address for the HTTP API.
	Addr string `yaml:"addr" json:"addr"`
	// WriteTimeoutSec bounds a single response write. Generation against a
	// cold local model can take minutes, so this defaults high.
	WriteTimeoutSec int `yaml:"write_timeout_sec" json:"write_timeout_sec"`
}

// OllamaConfig configures the model backend.
type OllamaConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	ChatModel  string `yaml:"chat_model" json:"chat_model"`
	EmbedModel string `yaml:"embed_model" json:"embed_model"`
	// NumPredict caps generated tokens per answer.
	NumPredict int `yaml:"num_predict" json:"num_predict"`
	// EmbedBatchSize is the number of texts per /api/embed request.
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`
}

// IngestConfig configures document splitting.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// RetrievalConfig configures hybrid retrieval and RRF fusion.
type RetrievalConfig struct {
	// LexicalK and VectorK are the per-leg candidate depths.
	LexicalK int `yaml:"lexical_k" json:"lexical_k"`
	VectorK  int `yaml:"vector_k" json:"vector_k"`
	// FinalK is the fused result count handed to the assembler.
	FinalK int `yaml:"final_k" json:"final_k"`
	// RRFConstant is the rank smoothing parameter (k) in w/(k+rank).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// LexicalWeight and VectorWeight scale each leg's RRF contribution.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	// QueryMode selects lexical query preprocessing: "heuristic" or "raw".
	QueryMode string `yaml:"query_mode" json:"query_mode"`
	// MaxQueryTerms caps the FTS5 match expression length.
	MaxQueryTerms int `yaml:"max_query_terms" json:"max_query_terms"`
	// ExtraStopwords extends the built-in lexical stopword list.
	ExtraStopwords []string `yaml:"extra_stopwords" json:"extra_stopwords"`
}

// AnswerConfig configures answer assembly and citation enforcement.
type AnswerConfig struct {
	// MemoryK is how many prior chat messages are replayed per session.
	MemoryK int `yaml:"memory_k" json:"memory_k"`
	// MinUniqueCitations is the minimum distinct citation ids per answer.
	MinUniqueCitations int `yaml:"min_unique_citations" json:"min_unique_citations"`
	// RequireCitationPerParagraph demands a citation in every paragraph.
	RequireCitationPerParagraph bool `yaml:"require_citation_per_paragraph" json:"require_citation_per_paragraph"`
	// RewriteOnFail enables deterministic citation repair after validation.
	RewriteOnFail bool `yaml:"rewrite_on_fail" json:"rewrite_on_fail"`
	// ExtraCleanupPatterns extends the built-in answer cleanup regexes.
	ExtraCleanupPatterns []string `yaml:"extra_cleanup_patterns" json:"extra_cleanup_patterns"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: "./data",
		Server: ServerConfig{
			Addr:            "127.0.0.1:8000",
			WriteTimeoutSec: 300,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			ChatModel:      "gemma3:1b",
			EmbedModel:     "mxbai-embed-large",
			NumPredict:     512,
			EmbedBatchSize: 32,
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 150,
		},
		Retrieval: RetrievalConfig{
			LexicalK:      20,
			VectorK:       20,
			FinalK:        8,
			RRFConstant:   60,
			LexicalWeight: 1.0,
			VectorWeight:  1.0,
			QueryMode:     "heuristic",
			MaxQueryTerms: 10,
		},
		Answer: AnswerConfig{
			MemoryK:                     6,
			MinUniqueCitations:          1,
			RequireCitationPerParagraph: true,
			RewriteOnFail:               true,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path, merged over defaults.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the common knobs from RAGKB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RAGKB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RAGKB_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RAGKB_OLLAMA_BASE_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("RAGKB_CHAT_MODEL"); v != "" {
		c.Ollama.ChatModel = v
	}
	if v := os.Getenv("RAGKB_EMBED_MODEL"); v != "" {
		c.Ollama.EmbedModel = v
	}
	if v := os.Getenv("RAGKB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RAGKB_FINAL_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.FinalK = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if c.Retrieval.FinalK <= 0 {
		return fmt.Errorf("retrieval.final_k must be positive, got %d", c.Retrieval.FinalK)
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	switch c.Retrieval.QueryMode {
	case "heuristic", "raw":
	default:
		return fmt.Errorf("retrieval.query_mode must be %q or %q, got %q", "heuristic", "raw", c.Retrieval.QueryMode)
	}
	if c.Answer.MemoryK < 0 {
		return fmt.Errorf("answer.memory_k must be non-negative, got %d", c.Answer.MemoryK)
	}
	if c.Answer.MinUniqueCitations < 0 {
		return fmt.Errorf("answer.min_unique_citations must be non-negative, got %d", c.Answer.MinUniqueCitations)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Paths derived from the data directory. Everything the service persists
// lives under DataDir so reset can wipe one tree.

// RawDir returns the blob directory for ingested originals.
func (c *Config) RawDir() string { return filepath.Join(c.DataDir, "raw") }

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "db", "ragkb.db") }

// VectorIndexPath returns the vector index checkpoint path.
func (c *Config) VectorIndexPath() string { return filepath.Join(c.DataDir, "index", "vectors.hnsw") }

// ModelConfigPath returns the persisted model selection path.
func (c *Config) ModelConfigPath() string { return filepath.Join(c.DataDir, "model_config.json") }

// PIDFilePath returns the daemon pidfile path.
func (c *Config) PIDFilePath() string { return filepath.Join(c.DataDir, "ragkb.pid") }

// LockFilePath returns the daemon flock path.
func (c *Config) LockFilePath() string { return filepath.Join(c.DataDir, "ragkb.lock") }

// LogDir returns the log directory.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// EnsureDataDirs creates the on-disk layout.
func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{
		c.DataDir,
		c.RawDir(),
		filepath.Dir(c.DatabasePath()),
		filepath.Dir(c.VectorIndexPath()),
		c.LogDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
