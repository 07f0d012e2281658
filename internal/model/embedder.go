package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// DefaultEmbedBatchSize is the number of texts per /api/embed request.
const DefaultEmbedBatchSize = 32

// queryCacheSize bounds the per-embedder query embedding cache.
const queryCacheSize = 512

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions probes and caches the embedding dimension.
	Dimensions(ctx context.Context) (int, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the backend is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// EmbedderConfig configures an OllamaEmbedder.
type EmbedderConfig struct {
	BaseURL   string
	Model     string
	BatchSize int
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings via Ollama's /api/embed.
// All returned vectors are unit-L2 normalized. Single-text embeddings are
// cached in a small LRU keyed by model+text; query texts repeat often in
// chat sessions.
type OllamaEmbedder struct {
	client *client
	config EmbedderConfig
	cache  *lru.Cache[string, []float32]

	mu       sync.RWMutex
	dims     int
	lastCall time.Time
	closed   bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder. No network call is made here;
// the dimension probe happens lazily so the service can start while
// Ollama is still coming up.
func NewOllamaEmbedder(cfg EmbedderConfig) *OllamaEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	cache, _ := lru.New[string, []float32](queryCacheSize)
	return &OllamaEmbedder{
		client: newClient(cfg.BaseURL),
		config: cfg,
		cache:  cache,
	}
}

// Embed generates the embedding for a single text. Empty input yields a
// zero vector of the model dimension without calling the backend.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}

	if strings.TrimSpace(text) == "" {
		dims, err := e.Dimensions(ctx)
		if err != nil {
			return nil, err
		}
		return make([]float32, dims), nil
	}

	cacheKey := e.config.Model + "\x00" + text
	if cached, ok := e.cache.Get(cacheKey); ok {
		out := make([]float32, len(cached))
		copy(out, cached)
		return out, nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed, "no embedding returned", nil)
	}

	e.cache.Add(cacheKey, embeddings[0])
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, batching requests.
// Empty texts become zero vectors; output order matches input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, indexedText{i, text})
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}

		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(embeddings)), nil)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	// Fill zero vectors for empty inputs once the dimension is known.
	dims, err := e.Dimensions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}

	return results, nil
}

// Dimensions probes the embedding dimension with a one-word input and
// caches the result.
func (e *OllamaEmbedder) Dimensions(ctx context.Context) (int, error) {
	e.mu.RLock()
	dims := e.dims
	e.mu.RUnlock()
	if dims > 0 {
		return dims, nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, ragerr.New(ragerr.ErrCodeEmbeddingFailed, "empty embedding returned during dimension probe", nil)
	}

	e.mu.Lock()
	e.dims = len(embeddings[0])
	e.mu.Unlock()
	return len(embeddings[0]), nil
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks that Ollama is up and the model is installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	models, err := e.client.listModels(ctx)
	if err != nil {
		return false
	}
	want := strings.ToLower(e.config.Model)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == strings.Split(want, ":")[0] {
			return true
		}
	}
	return false
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.close()
	return nil
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// timeout picks the cold budget for the first call or after the model has
// likely been unloaded, the warm budget otherwise.
func (e *OllamaEmbedder) timeout() time.Duration {
	e.mu.RLock()
	last := e.lastCall
	e.mu.RUnlock()

	if last.IsZero() || time.Since(last) > modelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *OllamaEmbedder) markCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// embedWithRetry retries transient failures with exponential backoff.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout())
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			e.markCall()
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		// Model-not-found never fixes itself by retrying.
		if IsUnknownModelErr(err) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding with %s failed: %v", e.config.Model, lastErr), lastErr)
}

// doEmbed performs one /api/embed request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	var result embedResponse
	if err := e.client.postJSON(ctx, "/api/embed", embedRequest{Model: e.config.Model, Input: input}, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

// normalize scales a vector to unit length in place.
func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
