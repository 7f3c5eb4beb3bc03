// Package llm defines the model-phrasing surface of the runtime: a streaming
// [Client] interface implemented by the provider subpackages (mock, openai,
// anyllm) plus the guard passes every model-authored string must clear before
// it reaches the caller's ear. The deterministic scripted path never touches
// this package; it only runs when NLG is switched on.
package llm

import "context"

// Chunk is one unit of streamed model output.
type Chunk struct {
	// Text is the delta to append to the utterance under construction.
	Text string

	// Err, when non-nil, terminates the stream. No further chunks follow it
	// and Text is empty.
	Err error
}

// Client streams model-phrased text for a prompt.
//
// Implementations must be safe for use from a single turn goroutine at a
// time; concurrent streams on one Client are not required to work.
type Client interface {
	// StreamText opens a completion stream for prompt. The returned channel
	// yields text deltas in order and is closed when the stream ends. Errors
	// that occur after the stream has been opened surface as a final Chunk
	// with Err set; errors opening the stream are returned directly.
	StreamText(ctx context.Context, prompt string) (<-chan Chunk, error)

	// Close releases provider resources. Safe to call more than once.
	Close() error
}
