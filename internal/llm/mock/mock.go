// Package mock provides a test double for the llm.Client interface.
//
// Use Client in unit tests to script deterministic token streams without a
// live model backend. All fields are safe to set before the first call;
// mutating them during a concurrent stream is the caller's responsibility.
//
// Example:
//
//	c := &mock.Client{Chunks: mock.Text("Happy to ", "help.")}
//	ch, err := c.StreamText(ctx, prompt)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/llm"
)

// StreamCall records a single invocation of StreamText.
type StreamCall struct {
	// Ctx is the context passed to StreamText.
	Ctx context.Context
	// Prompt is the prompt passed to StreamText.
	Prompt string
}

// Client is a mock implementation of llm.Client.
// A zero value streams nothing and closes the channel immediately.
type Client struct {
	mu sync.Mutex

	// --- Configurable behavior ---

	// Chunks is the sequence emitted on the channel returned by StreamText.
	// All chunks are sent before the channel is closed.
	Chunks []llm.Chunk

	// TokenDelayMS, when positive, sleeps on Clock before each chunk so
	// fake-clock tests can pace token arrival.
	TokenDelayMS int64

	// Clock paces token delivery. Required when TokenDelayMS is positive.
	Clock clock.Clock

	// StreamErr, if non-nil, is returned from StreamText without opening a
	// channel.
	StreamErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamText in order.
	StreamCalls []StreamCall

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// Text builds plain text chunks from tokens.
func Text(tokens ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, len(tokens))
	for i, tok := range tokens {
		chunks[i] = llm.Chunk{Text: tok}
	}
	return chunks
}

// StreamText records the call and returns a channel that emits Chunks.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (c *Client) StreamText(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	if c.StreamErr != nil {
		err := c.StreamErr
		c.StreamCalls = append(c.StreamCalls, StreamCall{Ctx: ctx, Prompt: prompt})
		c.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(c.Chunks))
	copy(chunks, c.Chunks)
	delay, clk := c.TokenDelayMS, c.Clock
	c.StreamCalls = append(c.StreamCalls, StreamCall{Ctx: ctx, Prompt: prompt})
	c.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			if delay > 0 && clk != nil {
				if err := clk.SleepMS(ctx, delay); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

// Close records the call and returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StreamCalls = nil
	c.CloseCount = 0
}

// Ensure Client implements llm.Client at compile time.
var _ llm.Client = (*Client)(nil)
