package dialog

import (
	"strings"
	"testing"
)

func TestLooksLikeLowSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"...", true},
		{"???", true},
		{"--", true},
		{"got it", true},
		{"Got it.", true},
		{"okay", true},
		{"yep", true},
		{"Hey this is Cassidy got it", true},
		{"hello", false},
		{"yes", false},
		{"um", false},
		{"book an appointment", false},
		{"stop calling me", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			if got := LooksLikeLowSignal(tt.text); got != tt.want {
				t.Errorf("LooksLikeLowSignal(%q)=%v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestUserSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"", ""},
		{"Hello there", "hellothere"},
		{"Yep, got it.", "yepgotit"},
		{"...", "..."},
		{"???", "???"},
		{"?!", "?!"},
	}

	for _, tt := range tests {
		if got := UserSignature(tt.text); got != tt.want {
			t.Errorf("UserSignature(%q)=%q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestUserSignature_CapsLongInput(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ab", 80)
	if got := UserSignature(long); len(got) != 100 {
		t.Errorf("signature length=%d, want capped at 100", len(got))
	}
}

func TestUserSignature_DistinguishesPunctuationRuns(t *testing.T) {
	t.Parallel()

	// "..." and "???" must stay distinct keys or their repeat suppression
	// would collapse different caller behaviors into one.
	if UserSignature("...") == UserSignature("???") {
		t.Error("punctuation runs should produce distinct signatures")
	}
}

func TestIsRepeatedRune(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    string
		want bool
	}{
		{"", false},
		{"a", false},
		{"aa", true},
		{"...", true},
		{"??", true},
		{"?!", false},
		{"ab", false},
		{"……", true}, // two ellipsis runes
	}

	for _, tt := range tests {
		if got := isRepeatedRune(tt.s); got != tt.want {
			t.Errorf("isRepeatedRune(%q)=%v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestIsIntroNoiseLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"hey this is cassidy from eve yep got it", true},
		{"hey got it", true},
		{"this is jane calling about my appointment", false}, // intro words but no ack
		{"hey okay so this is everything about the plan we discussed yesterday afternoon with the clinic team", false}, // too long
		{"got it", false}, // no intro prefix word
		{"", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			if got := isIntroNoiseLike(tt.text); got != tt.want {
				t.Errorf("isIntroNoiseLike(%q)=%v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
