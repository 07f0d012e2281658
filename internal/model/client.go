// Package model talks to the Ollama HTTP API: embeddings, chat
// completions, model listing, and the hot-swappable model registry.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultWarmTimeout bounds a request when the model is already loaded.
	DefaultWarmTimeout = 5 * time.Minute

	// DefaultColdTimeout bounds the first request, which may trigger a
	// model load from disk. Cold loads on small hardware take minutes;
	// callers must not be cut off in under ten.
	DefaultColdTimeout = 10 * time.Minute

	// modelUnloadThreshold is how long Ollama keeps a model warm.
	modelUnloadThreshold = 5 * time.Minute

	// defaultMaxRetries is the retry budget for transient failures.
	defaultMaxRetries = 3

	poolSize = 4
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModelInfo describes one installed Ollama model.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// SizeGB returns the model size in gigabytes, rounded to two decimals.
func (m ModelInfo) SizeGB() float64 {
	return float64(int64(float64(m.Size)/(1024*1024*1024)*100+0.5)) / 100
}

// IsEmbedding reports whether the model looks like an embedding model.
// Ollama has no category field; name matching is the convention.
func (m ModelInfo) IsEmbedding() bool {
	return strings.Contains(strings.ToLower(m.Name), "embed")
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// client is the shared HTTP plumbing for the Ollama API.
type client struct {
	baseURL string
	http    *http.Client
}

// newClient builds a pooled HTTP client. No client-level timeout is set;
// each request carries its own context deadline so cold loads and warm
// calls can use different budgets.
func newClient(baseURL string) *client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
	}
}

// listModels fetches the installed models via /api/tags.
func (c *client) listModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// reachable reports whether the Ollama endpoint answers at all.
func (c *client) reachable(ctx context.Context) bool {
	_, err := c.listModels(ctx)
	return err == nil
}

// postJSON sends a JSON body and decodes a JSON response into out.
// Non-200 responses become errors carrying the response body, which
// callers inspect for "not found" model errors.
func (c *client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// close releases idle connections.
func (c *client) close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// IsUnknownModelErr reports whether an Ollama error means the requested
// model is not installed, as opposed to a transient or cold-load failure.
func IsUnknownModelErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// ListModels lists the installed models at baseURL.
func ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	c := newClient(baseURL)
	defer c.close()
	return c.listModels(ctx)
}

// Reachable reports whether Ollama answers at baseURL.
func Reachable(ctx context.Context, baseURL string) bool {
	c := newClient(baseURL)
	defer c.close()
	return c.reachable(ctx)
}
