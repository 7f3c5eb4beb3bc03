package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/vocalith/internal/llm"
	llmmock "github.com/MrWong99/vocalith/internal/llm/mock"
)

func drainStream(t *testing.T, ch <-chan llm.Chunk) string {
	t.Helper()
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String()
}

func TestLLMFallback_StreamText_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Client{Chunks: llmmock.Text("hello ", "from ", "primary")}
	secondary := &llmmock.Client{Chunks: llmmock.Text("hello from secondary")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamText(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainStream(t, ch); got != "hello from primary" {
		t.Fatalf("text = %q, want 'hello from primary'", got)
	}
	if len(primary.StreamCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.StreamCalls))
	}
	if len(secondary.StreamCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.StreamCalls))
	}
}

func TestLLMFallback_StreamText_Failover(t *testing.T) {
	primary := &llmmock.Client{StreamErr: errors.New("primary down")}
	secondary := &llmmock.Client{Chunks: llmmock.Text("hello from secondary")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamText(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainStream(t, ch); got != "hello from secondary" {
		t.Fatalf("text = %q, want 'hello from secondary'", got)
	}
	if len(primary.StreamCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.StreamCalls))
	}
}

func TestLLMFallback_StreamText_AllFail(t *testing.T) {
	primary := &llmmock.Client{StreamErr: errors.New("primary down")}
	secondary := &llmmock.Client{StreamErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.StreamText(context.Background(), "say hi")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_StreamText_MidStreamErrorDoesNotFailOver(t *testing.T) {
	// The stream opens fine but dies in-band. Failover only covers the open.
	primary := &llmmock.Client{Chunks: []llm.Chunk{
		{Text: "partial "},
		{Err: errors.New("connection reset")},
	}}
	secondary := &llmmock.Client{Chunks: llmmock.Text("never used")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamText(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks []llm.Chunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].Err == nil {
		t.Fatal("expected the final chunk to carry the stream error")
	}
	if len(secondary.StreamCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0 (mid-stream errors stay in-band)", len(secondary.StreamCalls))
	}
}

func TestLLMFallback_Close_ClosesAllBackends(t *testing.T) {
	primary := &llmmock.Client{}
	secondary := &llmmock.Client{}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.CloseCount != 1 {
		t.Fatalf("primary CloseCount = %d, want 1", primary.CloseCount)
	}
	if secondary.CloseCount != 1 {
		t.Fatalf("secondary CloseCount = %d, want 1", secondary.CloseCount)
	}
}
