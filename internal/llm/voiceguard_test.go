package llm

import (
	"testing"

	"github.com/MrWong99/vocalith/internal/observe"
)

func TestSanitizeReasoningLeak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		want        string
		wantChanged bool
	}{
		{
			name: "clean text passes through",
			in:   "We can book you Tuesday.",
			want: "We can book you Tuesday.",
		},
		{
			name:        "deliberation phrase is stripped",
			in:          "Let me think about that.",
			want:        "about that.",
			wantChanged: true,
		},
		{
			name:        "several patterns in one utterance",
			in:          "Let me think step by step about this.",
			want:        "about this.",
			wantChanged: true,
		},
		{
			name:        "apostrophe variant",
			in:          "Here's my reasoning: it fits.",
			want:        ": it fits.",
			wantChanged: true,
		},
		{
			name:        "spelled-out variant",
			in:          "here is my reasoning and my answer.",
			want:        "and my answer.",
			wantChanged: true,
		},
		{
			name:        "fully scrubbed text becomes an ack",
			in:          "Let me think",
			want:        "Got it.",
			wantChanged: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, changed := SanitizeReasoningLeak(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeReasoningLeak(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("SanitizeReasoningLeak(%q) changed = %v, want %v", tt.in, changed, tt.wantChanged)
			}
		})
	}
}

func TestEnforcePlainLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		want        string
		wantChanged bool
	}{
		{
			name: "plain text passes through",
			in:   "We can help.",
			want: "We can help.",
		},
		{
			name:        "jargon is swapped for plain words",
			in:          "We can optimize your intake.",
			want:        "We can improve your front desk calls.",
			wantChanged: true,
		},
		{
			name:        "replacement is case-insensitive and lowercases",
			in:          "Utilize the diagnostic.",
			want:        "use the check.",
			wantChanged: true,
		},
		{
			name:        "consultation maps without touching nearby words",
			in:          "Book a consultation.",
			want:        "Book a visit.",
			wantChanged: true,
		},
		{
			name:        "sentences are capped at three clauses",
			in:          "We help with scheduling, reminders, billing, reporting.",
			want:        "We help with scheduling, reminders, billing.",
			wantChanged: true,
		},
		{
			name:        "sentences are capped at eighteen words",
			in:          "We can help your team with the new plan for the next quarter and the steps we agreed on today.",
			want:        "We can help your team with the new plan for the next quarter and the steps we agreed.",
			wantChanged: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, changed := EnforcePlainLanguage(tt.in)
			if got != tt.want {
				t.Errorf("EnforcePlainLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("EnforcePlainLanguage(%q) changed = %v, want %v", tt.in, changed, tt.wantChanged)
			}
		})
	}
}

func TestCountSyllables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		word string
		want int
	}{
		{"", 1},
		{"cat", 1},
		{"table", 1},
		{"schedule", 2},
		{"available", 3},
		{"rhythm", 1},
		{"123", 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.word, func(t *testing.T) {
			t.Parallel()
			if got := countSyllables(tt.word); got != tt.want {
				t.Errorf("countSyllables(%q) = %d, want %d", tt.word, got, tt.want)
			}
		})
	}
}

func TestReadabilityGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty text floors at one", "", 1},
		{"short ack floors at one", "Got it.", 1},
		{"two short sentences stay low", "I hear you. Let's keep it simple.", 1},
		{"longer sentence grades mid-school", "We can schedule your visit tomorrow afternoon at the clinic.", 8},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReadabilityGrade(tt.in); got != tt.want {
				t.Errorf("ReadabilityGrade(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestGuardUserText_CountsGuardHits(t *testing.T) {
	t.Parallel()

	m := observe.NewSessionMetrics()
	pol := GuardPolicy{PlainLanguage: true, NoReasoningLeak: true, JargonBlocklist: true}

	got := GuardUserText("Let me think. We will optimize your intake.", m, pol)
	if want := "We will improve your front desk calls."; got != want {
		t.Errorf("guarded text = %q, want %q", got, want)
	}
	if n := m.Get(observe.MetricReasoningLeak); n != 1 {
		t.Errorf("reasoning leak count = %d, want 1", n)
	}
	if n := m.Get(observe.MetricJargonViolation); n != 1 {
		t.Errorf("jargon violation count = %d, want 1", n)
	}
	if h := m.Hist(observe.MetricReadabilityGrade); len(h) != 1 {
		t.Errorf("readability observations = %d, want 1", len(h))
	}
}

func TestGuardUserText_DisabledGuardsLeaveTextAlone(t *testing.T) {
	t.Parallel()

	m := observe.NewSessionMetrics()

	got := GuardUserText("Let me think about  the diagnostic.", m, GuardPolicy{})
	if want := "Let me think about the diagnostic."; got != want {
		t.Errorf("unguarded text = %q, want %q", got, want)
	}
	if n := m.Get(observe.MetricReasoningLeak); n != 0 {
		t.Errorf("reasoning leak count = %d, want 0", n)
	}
	if n := m.Get(observe.MetricJargonViolation); n != 0 {
		t.Errorf("jargon violation count = %d, want 0", n)
	}
	if h := m.Hist(observe.MetricReadabilityGrade); len(h) != 1 {
		t.Errorf("readability observations = %d, want 1", len(h))
	}
}

func TestGuardUserText_JargonNeedsBothFlags(t *testing.T) {
	t.Parallel()

	m := observe.NewSessionMetrics()

	// Plain-language mode without the blocklist leaves jargon in place.
	got := GuardUserText("We can optimize it.", m, GuardPolicy{PlainLanguage: true})
	if want := "We can optimize it."; got != want {
		t.Errorf("guarded text = %q, want %q", got, want)
	}
	if n := m.Get(observe.MetricJargonViolation); n != 0 {
		t.Errorf("jargon violation count = %d, want 0", n)
	}
}
