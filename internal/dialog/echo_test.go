package dialog

import "testing"

const echoOpener = "Hi, this is Cassidy with Eve. Is now a bad time for a quick question?"

func TestEchoDetector_ExactEcho(t *testing.T) {
	t.Parallel()

	d := NewEchoDetector()
	if !d.IsEcho(echoOpener, echoOpener) {
		t.Error("identical utterance not flagged as echo")
	}
}

func TestEchoDetector_NormalizesCaseAndPunctuation(t *testing.T) {
	t.Parallel()

	d := NewEchoDetector()
	if !d.IsEcho("hi this is cassidy with eve is now a bad time for a quick question", echoOpener) {
		t.Error("case/punctuation variant not flagged as echo")
	}
}

func TestEchoDetector_GarbledEcho(t *testing.T) {
	t.Parallel()

	// ASR drops and bends a couple of words; similarity should still catch it.
	d := NewEchoDetector()
	if !d.IsEcho("hi this is cassidy with eve is now bad time for a quick question", echoOpener) {
		t.Error("near-copy with a dropped word not flagged as echo")
	}
}

func TestEchoDetector_RealUtteranceIsNotAnEcho(t *testing.T) {
	t.Parallel()

	d := NewEchoDetector()
	if d.IsEcho("I want to book an appointment for my knee", echoOpener) {
		t.Error("unrelated utterance flagged as echo")
	}
}

func TestEchoDetector_EmptySidesNeverEcho(t *testing.T) {
	t.Parallel()

	d := NewEchoDetector()
	if d.IsEcho("", echoOpener) {
		t.Error("empty user text flagged as echo")
	}
	if d.IsEcho("hello", "") {
		t.Error("empty agent text flagged as echo")
	}
}

func TestEchoDetector_OptionsTightenDetection(t *testing.T) {
	t.Parallel()

	strict := NewEchoDetector(
		WithEchoSimilarityThreshold(1.01),
		WithEchoMaxEditDistance(0),
		WithEchoMinTokenOverlap(1.1),
	)
	if strict.IsEcho("hi this is cassidy with eve is now bad time for a quick question", echoOpener) {
		t.Error("strict thresholds should reject the garbled echo")
	}
	// Exact equality still short-circuits ahead of the thresholds.
	if !strict.IsEcho(echoOpener, echoOpener) {
		t.Error("exact match should pass regardless of thresholds")
	}
}

func TestTokenOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"a b c", "a b d", 2.0 / 3.0},
		{"a b", "a b c d", 1.0},
		{"x y", "a b", 0},
		{"", "a b", 0},
	}

	for _, tt := range tests {
		if got := tokenOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("tokenOverlap(%q, %q)=%f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
