// Package ai asks the Anthropic Messages API for folder and title suggestions.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/config"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MaxBookmarksPerRequest bounds how many bookmarks go into one prompt
const MaxBookmarksPerRequest = 50

var (
	// ErrNoAPIKey is returned when no Claude API key is configured
	ErrNoAPIKey = errors.New("claude API key not configured")

	// ErrMalformedResponse is returned when the model output is not the requested JSON
	ErrMalformedResponse = errors.New("malformed AI response")
)

// Client talks to the Messages API
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int
	apiKey    func() (string, error)
}

// NewClient creates a client. apiKey is resolved on every request so a key
// saved after startup is picked up.
func NewClient(cfg *config.Config, apiKey func() (string, error)) *Client {
	return &Client{
		api: anthropic.NewClient(
			option.WithBaseURL(strings.TrimRight(cfg.AIBaseURL, "/")+"/"),
			option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
		model:     cfg.AIModel,
		maxTokens: cfg.AIMaxTokens,
		apiKey:    apiKey,
	}
}

// complete sends a single-turn prompt and returns the first text block
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	key, err := c.apiKey()
	if err != nil {
		return "", fmt.Errorf("failed to resolve API key: %w", err)
	}
	if key == "" {
		return "", ErrNoAPIKey
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}, option.WithAPIKey(key))
	if err != nil {
		return "", fmt.Errorf("failed to call messages API: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text content", ErrMalformedResponse)
}

// decodeJSON parses model output, tolerating a surrounding ```json fence
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
