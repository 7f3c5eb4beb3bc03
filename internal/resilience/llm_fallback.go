package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/vocalith/internal/llm"
)

// LLMFallback implements [llm.Client] with automatic failover across multiple
// model backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Client]
}

// Compile-time interface assertion.
var _ llm.Client = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Client, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional model client as a fallback.
func (f *LLMFallback) AddFallback(name string, client llm.Client) {
	f.group.AddFallback(name, client)
}

// StreamText opens a token stream on the first healthy backend. Only the
// opening attempt participates in failover; once a stream is established,
// mid-stream errors arrive in-band as the final chunk and are the caller's
// responsibility.
func (f *LLMFallback) StreamText(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(c llm.Client) (<-chan llm.Chunk, error) {
		return c.StreamText(ctx, prompt)
	})
}

// Close releases every registered backend.
func (f *LLMFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
