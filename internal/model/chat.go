package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// DefaultNumPredict caps generated tokens per answer.
const DefaultNumPredict = 512

// ChatClient produces a completion for a role-tagged conversation.
type ChatClient interface {
	// Chat returns the assistant completion for the messages.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// ChatConfig configures an OllamaChat.
type ChatConfig struct {
	BaseURL    string
	Model      string
	NumPredict int
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// OllamaChat generates completions via Ollama's /api/chat, non-streaming.
// Temperature is pinned to 0 so the same prompt over the same context
// yields the same answer.
type OllamaChat struct {
	client *client
	config ChatConfig

	mu       sync.RWMutex
	lastCall time.Time
	closed   bool
}

var _ ChatClient = (*OllamaChat)(nil)

// NewOllamaChat creates a chat client. No network call is made here.
func NewOllamaChat(cfg ChatConfig) *OllamaChat {
	if cfg.NumPredict <= 0 {
		cfg.NumPredict = DefaultNumPredict
	}
	return &OllamaChat{
		client: newClient(cfg.BaseURL),
		config: cfg,
	}
}

// Chat returns the assistant completion for the messages.
func (c *OllamaChat) Chat(ctx context.Context, messages []Message) (string, error) {
	c.mu.RLock()
	closed := c.closed
	last := c.lastCall
	c.mu.RUnlock()

	if closed {
		return "", fmt.Errorf("chat client is closed")
	}
	if len(messages) == 0 {
		return "", ragerr.New(ragerr.ErrCodeInvalidInput, "no messages to complete", nil)
	}

	// A cold model load plus generation can take minutes on small hardware.
	budget := DefaultColdTimeout
	if !last.IsZero() && time.Since(last) <= modelUnloadThreshold {
		budget = DefaultWarmTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req := chatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: 0,
			NumPredict:  c.config.NumPredict,
		},
	}

	var resp chatResponse
	if err := c.client.postJSON(timeoutCtx, "/api/chat", req, &resp); err != nil {
		if IsUnknownModelErr(err) {
			return "", ragerr.New(ragerr.ErrCodeUnknownModel,
				fmt.Sprintf("chat model %s is not installed", c.config.Model), err).
				WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", c.config.Model))
		}
		return "", ragerr.New(ragerr.ErrCodeChatFailed,
			fmt.Sprintf("chat with %s failed: %v", c.config.Model, err), err)
	}

	c.mu.Lock()
	c.lastCall = time.Now()
	c.mu.Unlock()

	return resp.Message.Content, nil
}

// ModelName returns the model identifier.
func (c *OllamaChat) ModelName() string {
	return c.config.Model
}

// Close releases resources.
func (c *OllamaChat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.close()
	return nil
}
