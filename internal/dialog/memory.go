package dialog

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/vocalith/internal/retell"
)

var memoryTopicPatterns = []struct {
	name string
	pat  *regexp.Regexp
}{
	{"booking", regexp.MustCompile(`(?i)\b(book|schedule|appointment|appt)\b`)},
	{"pricing", regexp.MustCompile(`(?i)\b(price|pricing|cost|how much)\b`)},
	{"availability", regexp.MustCompile(`(?i)\b(available|availability|opening|slot)\b`)},
	{"eligibility", regexp.MustCompile(`(?i)\b(eligible|eligibility|qualify)\b`)},
	{"policy", regexp.MustCompile(`(?i)\b(policy|policies|hours|location|insurance)\b`)},
}

var memoryPrefPatterns = []struct {
	name string
	pat  *regexp.Regexp
}{
	{"afternoon", regexp.MustCompile(`(?i)\b(afternoon|after 12|after noon)\b`)},
	{"morning", regexp.MustCompile(`(?i)\b(morning|before 12|before noon)\b`)},
	{"evening", regexp.MustCompile(`(?i)\b(evening|after work)\b`)},
}

// MemoryView is one ingest's result: the bounded recent window plus the
// summary of everything compacted away.
type MemoryView struct {
	RecentTranscript  []retell.Utterance
	SummaryBlob       string
	UtterancesCurrent int
	CharsCurrent      int
	Compacted         bool
}

// CompactionContext is the operational state baked into every compaction
// summary so a later turn knows what was in flight when the window rolled.
type CompactionContext struct {
	OpenObjectives    string
	PendingFailures   string
	ActiveGuardrails  string
	LastGreenBaseline string
}

// BuildCompactionSummary renders the context as a single prompt-safe line.
func BuildCompactionSummary(ctx CompactionContext) string {
	orElse := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	parts := []string{
		"open_objectives=" + orElse(ctx.OpenObjectives, "unknown"),
		"pending_failures=" + orElse(ctx.PendingFailures, "none"),
		"active_guardrails=" + orElse(ctx.ActiveGuardrails, "default"),
		"last_green_baseline=" + orElse(ctx.LastGreenBaseline, "unknown"),
	}
	return "Compaction context: " + strings.Join(parts, "; ") + "."
}

// ConversationMemory keeps the transcript window bounded by utterance count
// and character budget. Overflow is compacted from the oldest end into a
// one-line summary of topics, preferences and captured slots, so the agent
// never forgets a phone number it already confirmed.
type ConversationMemory struct {
	maxUtterances int
	maxChars      int
	recent        []retell.Utterance
	summary       string
}

// NewConversationMemory builds a window holding at most maxUtterances
// entries and maxChars total characters; both floors at 1.
func NewConversationMemory(maxUtterances, maxChars int) *ConversationMemory {
	return &ConversationMemory{
		maxUtterances: max(1, maxUtterances),
		maxChars:      max(1, maxChars),
	}
}

// Recent returns the current bounded window.
func (m *ConversationMemory) Recent() []retell.Utterance { return m.recent }

// Summary returns the compaction summary from the latest ingest, or "" when
// nothing has been compacted.
func (m *ConversationMemory) Summary() string { return m.summary }

// IngestSnapshot replaces the window with a fresh transcript snapshot,
// compacting from the front until both bounds hold.
func (m *ConversationMemory) IngestSnapshot(transcript []retell.Utterance, state *SlotState) MemoryView {
	recent := normalizeTranscript(transcript)
	var older []retell.Utterance
	compacted := false

	if len(recent) > m.maxUtterances {
		cut := len(recent) - m.maxUtterances
		older = append(older, recent[:cut]...)
		recent = recent[cut:]
		compacted = true
	}
	for len(recent) > 0 && transcriptChars(recent) > m.maxChars {
		older = append(older, recent[0])
		recent = recent[1:]
		compacted = true
	}

	summary := ""
	if compacted {
		summary = buildMemorySummary(older, state)
	}

	m.recent = append([]retell.Utterance(nil), recent...)
	m.summary = summary
	return MemoryView{
		RecentTranscript:  append([]retell.Utterance(nil), recent...),
		SummaryBlob:       summary,
		UtterancesCurrent: len(recent),
		CharsCurrent:      transcriptChars(recent),
		Compacted:         compacted,
	}
}

func normalizeTranscript(transcript []retell.Utterance) []retell.Utterance {
	out := make([]retell.Utterance, 0, len(transcript))
	for _, u := range transcript {
		if u.Role != retell.RoleUser && u.Role != retell.RoleAgent {
			continue
		}
		out = append(out, u)
	}
	return out
}

func transcriptChars(transcript []retell.Utterance) int {
	n := 0
	for _, u := range transcript {
		n += utf8.RuneCountInString(u.Content)
	}
	return n
}

func memoryPhoneLast4(older []retell.Utterance, state *SlotState) string {
	if state != nil && state.Phone != "" {
		digits := nonDigitPat.ReplaceAllString(state.Phone, "")
		if len(digits) >= 4 {
			return digits[len(digits)-4:]
		}
	}
	for i := len(older) - 1; i >= 0; i-- {
		m := phonePat.FindStringSubmatch(older[i].Content)
		if m == nil {
			continue
		}
		digits := nonDigitPat.ReplaceAllString(m[1], "")
		if len(digits) >= 4 {
			return digits[len(digits)-4:]
		}
	}
	return ""
}

func buildMemorySummary(older []retell.Utterance, state *SlotState) string {
	texts := make([]string, 0, len(older))
	for _, u := range older {
		texts = append(texts, u.Content)
	}
	joined := strings.Join(texts, " ")

	var topics []string
	for _, tp := range memoryTopicPatterns {
		if tp.pat.MatchString(joined) {
			topics = append(topics, tp.name)
		}
	}
	slices.Sort(topics)

	var prefs []string
	for _, pp := range memoryPrefPatterns {
		if pp.pat.MatchString(joined) {
			prefs = append(prefs, pp.name)
		}
	}
	slices.Sort(prefs)

	var parts []string
	if state != nil && state.Intent != "" {
		parts = append(parts, "intent="+state.Intent)
	}
	if len(topics) > 0 {
		parts = append(parts, "topics="+strings.Join(topics, ","))
	}
	if last4 := memoryPhoneLast4(older, state); last4 != "" {
		parts = append(parts, "phone_last4="+last4)
	}
	if len(prefs) > 0 {
		parts = append(parts, "preference="+strings.Join(prefs, ","))
	}

	base := "Earlier context compacted."
	if len(parts) > 0 {
		base = "Earlier context: " + strings.Join(parts, "; ") + "."
	}

	objectives := "clarify_intent"
	if state != nil && state.Intent != "" {
		objectives = "book_or_answer"
	}
	return base + " " + BuildCompactionSummary(CompactionContext{
		OpenObjectives:    objectives,
		PendingFailures:   "none",
		ActiveGuardrails:  "tool_grounding,plain_language,no_reasoning_leak",
		LastGreenBaseline: "vic_contracts_green",
	})
}
