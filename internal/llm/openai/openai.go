// Package openai provides an NLG client backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/vocalith/internal/llm"
)

// Client implements llm.Client using OpenAI chat-completion streaming.
type Client struct {
	client oai.Client
	model  string
	effort string
}

// config holds optional configuration for the client.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	effort       string
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout. The turn deadline still
// governs how long streamed tokens are consumed; this bounds the transport.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithReasoningEffort requests the given reasoning effort ("minimal", "low",
// "medium", "high") on models that support it. Voice turns want the lowest
// effort the model allows.
func WithReasoningEffort(effort string) Option {
	return func(c *config) {
		c.effort = strings.ToLower(strings.TrimSpace(effort))
	}
}

// New constructs a new OpenAI NLG client.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Client{client: client, model: model, effort: cfg.effort}, nil
}

// StreamText implements llm.Client.
func (c *Client) StreamText(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(prompt))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{Err: fmt.Errorf("openai: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams assembles the single-turn chat request for prompt.
func (c *Client) buildParams(prompt string) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}
	if c.effort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(c.effort)
	}
	return params
}

// Close implements llm.Client. The underlying HTTP client has no teardown.
func (c *Client) Close() error {
	return nil
}

// Ensure Client implements llm.Client at compile time.
var _ llm.Client = (*Client)(nil)
