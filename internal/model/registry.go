package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/vector"
)

// Factories builds model handles. Tests inject fakes here.
type Factories struct {
	NewChat     func(model string) ChatClient
	NewEmbedder func(model string) Embedder
}

// OllamaFactories returns factories backed by the Ollama API.
func OllamaFactories(baseURL string, numPredict, embedBatchSize int) Factories {
	return Factories{
		NewChat: func(model string) ChatClient {
			return NewOllamaChat(ChatConfig{BaseURL: baseURL, Model: model, NumPredict: numPredict})
		},
		NewEmbedder: func(model string) Embedder {
			return NewOllamaEmbedder(EmbedderConfig{BaseURL: baseURL, Model: model, BatchSize: embedBatchSize})
		},
	}
}

// SwapRequest asks to change the active chat and/or embedding model.
// Empty fields are left unchanged.
type SwapRequest struct {
	ChatModel  string `json:"chat_model"`
	EmbedModel string `json:"embed_model"`
}

// SwapChange records one applied model change.
type SwapChange struct {
	From           string `json:"from"`
	To             string `json:"to"`
	NewDimension   int    `json:"new_dimension,omitempty"`
	IndexDimension int    `json:"index_dimension,omitempty"`
}

// SwapResult reports what a Swap call did.
type SwapResult struct {
	Changes          map[string]SwapChange `json:"changes"`
	DimensionWarning string                `json:"dimension_warning,omitempty"`
	Errors           []string              `json:"errors,omitempty"`
}

// persistedModels is the model_config.json schema.
type persistedModels struct {
	ChatModel  string `json:"chat_model"`
	EmbedModel string `json:"embed_model"`
	UpdatedAt  string `json:"updated_at"`
}

// Registry holds the active chat and embedding handles and swaps them
// atomically. The selection is persisted to model_config.json so it
// survives restarts; config defaults apply only when no persisted
// selection exists.
type Registry struct {
	factories  Factories
	configPath string
	indexPath  string

	mu         sync.RWMutex
	chat       ChatClient
	embedder   Embedder
	chatModel  string
	embedModel string
}

// NewRegistry builds a registry. defaultChat and defaultEmbed are used
// when model_config.json is absent or unreadable.
func NewRegistry(factories Factories, configPath, indexPath, defaultChat, defaultEmbed string) *Registry {
	chatModel, embedModel := defaultChat, defaultEmbed
	if persisted, err := loadPersistedModels(configPath); err == nil {
		if persisted.ChatModel != "" {
			chatModel = persisted.ChatModel
		}
		if persisted.EmbedModel != "" {
			embedModel = persisted.EmbedModel
		}
	}

	return &Registry{
		factories:  factories,
		configPath: configPath,
		indexPath:  indexPath,
		chat:       factories.NewChat(chatModel),
		embedder:   factories.NewEmbedder(embedModel),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// Chat returns the active chat client.
func (r *Registry) Chat() ChatClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chat
}

// Embedder returns the active embedder.
func (r *Registry) Embedder() Embedder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder
}

// Current returns the active model names.
func (r *Registry) Current() (chatModel, embedModel string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chatModel, r.embedModel
}

// Swap validates and applies the requested model changes.
//
// A chat model is probed with a tiny completion; only a model-not-found
// failure rejects the swap, anything else is treated as a cold load and
// accepted. An embedding model is probed for its dimension; when an index
// exists on disk with a different dimension the swap still applies, but
// the result carries a warning telling the operator to re-ingest or reset.
// The vector index itself is never touched here.
func (r *Registry) Swap(ctx context.Context, req SwapRequest) SwapResult {
	result := SwapResult{Changes: make(map[string]SwapChange)}

	if req.ChatModel == "" && req.EmbedModel == "" {
		result.Errors = append(result.Errors, "no model change requested")
		return result
	}

	if req.ChatModel != "" {
		r.swapChat(ctx, req.ChatModel, &result)
	}
	if req.EmbedModel != "" {
		r.swapEmbedder(ctx, req.EmbedModel, &result)
	}

	if len(result.Changes) > 0 {
		if err := r.persist(); err != nil {
			slog.Warn("model_config_persist_failed", slog.String("error", err.Error()))
		}
	}
	return result
}

func (r *Registry) swapChat(ctx context.Context, newModel string, result *SwapResult) {
	candidate := r.factories.NewChat(newModel)

	_, err := candidate.Chat(ctx, []Message{{Role: RoleUser, Content: "test"}})
	if err != nil && ragerr.GetCode(err) == ragerr.ErrCodeUnknownModel {
		_ = candidate.Close()
		result.Errors = append(result.Errors, fmt.Sprintf("model %q not found in Ollama", newModel))
		return
	}
	// Other failures usually mean the model is still loading; accept.

	r.mu.Lock()
	old := r.chatModel
	oldClient := r.chat
	r.chat = candidate
	r.chatModel = newModel
	r.mu.Unlock()

	if oldClient != nil {
		_ = oldClient.Close()
	}

	result.Changes["chat_model"] = SwapChange{From: old, To: newModel}
	slog.Info("chat_model_swapped", slog.String("from", old), slog.String("to", newModel))
}

func (r *Registry) swapEmbedder(ctx context.Context, newModel string, result *SwapResult) {
	candidate := r.factories.NewEmbedder(newModel)

	newDim, err := candidate.Dimensions(ctx)
	if err != nil {
		_ = candidate.Close()
		if IsUnknownModelErr(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("model %q not found in Ollama", newModel))
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to probe embed model %q: %v", newModel, err))
		}
		return
	}

	indexDim, err := vector.ReadIndexDim(r.indexPath)
	if err != nil {
		slog.Warn("index_dimension_read_failed", slog.String("error", err.Error()))
		indexDim = 0
	}

	if indexDim > 0 && indexDim != newDim {
		result.DimensionWarning = fmt.Sprintf(
			"vector index has dimension %d, but new model produces %d. "+
				"Run reset and re-ingest your documents, or revert to an embedding model with %d dimensions.",
			indexDim, newDim, indexDim)
	}

	r.mu.Lock()
	old := r.embedModel
	oldEmbedder := r.embedder
	r.embedder = candidate
	r.embedModel = newModel
	r.mu.Unlock()

	if oldEmbedder != nil {
		_ = oldEmbedder.Close()
	}

	result.Changes["embed_model"] = SwapChange{
		From:           old,
		To:             newModel,
		NewDimension:   newDim,
		IndexDimension: indexDim,
	}
	slog.Info("embed_model_swapped",
		slog.String("from", old),
		slog.String("to", newModel),
		slog.Int("dimension", newDim))
}

// persist writes model_config.json atomically (tmp file + rename).
func (r *Registry) persist() error {
	r.mu.RLock()
	persisted := persistedModels{
		ChatModel:  r.chatModel,
		EmbedModel: r.embedModel,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.configPath), 0o755); err != nil {
		return err
	}
	tmpPath := r.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, r.configPath)
}

// Close releases both active handles.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chat != nil {
		_ = r.chat.Close()
	}
	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	return nil
}

func loadPersistedModels(path string) (persistedModels, error) {
	var persisted persistedModels
	data, err := os.ReadFile(path)
	if err != nil {
		return persisted, err
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		return persisted, err
	}
	return persisted, nil
}
