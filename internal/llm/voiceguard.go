package llm

import (
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/vocalith/internal/observe"
)

// reasoningPatterns match phrases that leak the model's internal deliberation
// into the spoken channel.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blet me think\b`),
	regexp.MustCompile(`(?i)\bhere('?| i)s my reasoning\b`),
	regexp.MustCompile(`(?i)\bstep by step\b`),
	regexp.MustCompile(`(?i)\bi('?| a)m analyz(?:ing|e)\b`),
	regexp.MustCompile(`(?i)\bmy thought process\b`),
	regexp.MustCompile(`(?i)\bi(?:\s+will)?\s+reason\b`),
}

// defaultJargon rewrites clinical and consulting vocabulary into words a
// caller on a phone line actually uses.
var defaultJargon = compileJargon(map[string]string{
	"eligibility":       "fit",
	"procedure":         "treatment",
	"procedures":        "treatments",
	"consult":           "visit",
	"consultation":      "visit",
	"clinician consult": "clinician visit",
	"optimize":          "improve",
	"utilize":           "use",
	"facilitate":        "help",
	"initiate":          "start",
	"escalate":          "route",
	"intake":            "front desk calls",
	"stress-test":       "quick check",
	"stress test":       "quick check",
	"capacity":          "call volume",
	"artifact":          "report",
	"diagnostic":        "check",
	"operational":       "day-to-day",
	"throughput":        "flow",
	"bandwidth":         "time",
})

type replacement struct {
	re  *regexp.Regexp
	dst string
}

func compileJargon(m map[string]string) []replacement {
	out := make([]replacement, 0, len(m))
	for _, src := range slices.Sorted(maps.Keys(m)) {
		out = append(out, replacement{
			re:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(src) + `\b`),
			dst: m[src],
		})
	}
	return out
}

var spaceRE = regexp.MustCompile(`\s+`)

func normalizeSpaces(text string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(text, " "))
}

// SanitizeReasoningLeak strips deliberation phrases from text and reports
// whether anything was removed. A text that scrubs down to nothing becomes
// "Got it." so the agent never goes silent mid-turn.
func SanitizeReasoningLeak(text string) (string, bool) {
	out := text
	changed := false
	for _, pat := range reasoningPatterns {
		next := pat.ReplaceAllLiteralString(out, "")
		if next != out {
			changed = true
			out = next
		}
	}
	out = normalizeSpaces(out)
	if out == "" {
		out = "Got it."
		changed = true
	}
	return out, changed
}

func applyWordReplacements(text string, reps []replacement) (string, bool) {
	out := text
	changed := false
	for _, r := range reps {
		next := r.re.ReplaceAllLiteralString(out, r.dst)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}

// enforceSentenceShape caps every sentence at three clauses and eighteen
// words. Longer material gets truncated rather than rephrased; the guard has
// no model of its own.
func enforceSentenceShape(text string) string {
	const (
		maxWordsPerSentence = 18
		maxClauses          = 3
	)

	var rebuilt []string
	rest := text
	for rest != "" {
		var sent, punct string
		if idx := strings.IndexAny(rest, ".!?"); idx < 0 {
			sent, rest = rest, ""
		} else {
			sent, punct, rest = rest[:idx], string(rest[idx]), rest[idx+1:]
		}
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}

		var clauses []string
		for _, c := range strings.FieldsFunc(sent, func(r rune) bool { return r == ',' || r == ';' }) {
			if c = strings.TrimSpace(c); c != "" {
				clauses = append(clauses, c)
			}
		}
		if len(clauses) > maxClauses {
			clauses = clauses[:maxClauses]
		}
		sent = strings.Join(clauses, ", ")

		words := strings.Fields(sent)
		if len(words) > maxWordsPerSentence {
			words = words[:maxWordsPerSentence]
			sent = strings.Join(words, " ")
		}
		rebuilt = append(rebuilt, strings.TrimSpace(sent+punct))
	}

	out := strings.TrimSpace(strings.Join(rebuilt, " "))
	if out == "" {
		return "Got it."
	}
	return out
}

// EnforcePlainLanguage applies the jargon map and the sentence-shape cap and
// reports whether either pass altered the text.
func EnforcePlainLanguage(text string) (string, bool) {
	out, changed := applyWordReplacements(text, defaultJargon)
	shaped := enforceSentenceShape(out)
	if shaped != out {
		changed = true
	}
	return normalizeSpaces(shaped), changed
}

var (
	nonLetterRE  = regexp.MustCompile(`[^a-z]`)
	vowelGroupRE = regexp.MustCompile(`[aeiouy]+`)
	sentenceRE   = regexp.MustCompile(`[.!?]+`)
	wordRE       = regexp.MustCompile(`\b[\w']+\b`)
)

func countSyllables(word string) int {
	w := nonLetterRE.ReplaceAllString(strings.ToLower(word), "")
	if w == "" {
		return 1
	}
	n := len(vowelGroupRE.FindAllString(w, -1))
	if n < 1 {
		n = 1
	}
	if strings.HasSuffix(w, "e") && n > 1 {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ReadabilityGrade estimates the Flesch-Kincaid grade level of text, floored
// at grade 1.
func ReadabilityGrade(text string) int {
	txt := normalizeSpaces(text)
	if txt == "" {
		return 1
	}

	sentences := 0
	for _, s := range sentenceRE.Split(txt, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences < 1 {
		sentences = 1
	}

	words := wordRE.FindAllString(txt, -1)
	if len(words) == 0 {
		return 1
	}
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wordCount := float64(len(words))
	grade := 0.39*(wordCount/float64(sentences)) + 11.8*(float64(syllables)/wordCount) - 15.59
	if grade < 1 {
		return 1
	}
	return int(math.Round(grade))
}

// GuardPolicy selects which voice guards run on model output.
type GuardPolicy struct {
	PlainLanguage   bool
	NoReasoningLeak bool
	JargonBlocklist bool
}

// GuardUserText runs the enabled guards over one piece of model-authored
// text and returns the speakable result. Guard hits are counted and the
// readability grade is always observed, guarded or not.
func GuardUserText(text string, metrics observe.Recorder, pol GuardPolicy) string {
	out := text

	if pol.NoReasoningLeak {
		var changed bool
		out, changed = SanitizeReasoningLeak(out)
		if changed {
			metrics.Inc(observe.MetricReasoningLeak, 1)
		}
	}

	if pol.PlainLanguage && pol.JargonBlocklist {
		var changed bool
		out, changed = EnforcePlainLanguage(out)
		if changed {
			metrics.Inc(observe.MetricJargonViolation, 1)
		}
	}

	metrics.Observe(observe.MetricReadabilityGrade, int64(ReadabilityGrade(out)))
	return normalizeSpaces(out)
}
