package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "some-model"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_Gemini_WithAPIKey checks that the Gemini route constructs successfully.
func TestNew_Gemini_WithAPIKey(t *testing.T) {
	c, err := New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.model != "gemini-2.0-flash" {
		t.Errorf("expected model gemini-2.0-flash, got %q", c.model)
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	c, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}

// TestNew_ProviderNameIsCaseInsensitive checks that provider routing lowercases.
func TestNew_ProviderNameIsCaseInsensitive(t *testing.T) {
	if _, err := New("Ollama", "llama3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
