package dialog

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Noise detection for ASR artifacts. Telephony transcription produces a
// steady stream of backchannel fragments ("uh huh", "got it", "..."), echoes
// of the agent's own greeting, and stray punctuation; none of it should
// advance the dialogue or trigger a spoken reply.

var (
	noSignalCharPat  = regexp.MustCompile(`^[\W_]+$`)
	noSignalAckPat   = regexp.MustCompile(`(?i)^(?:got\s*it|gotcha|i\s+got\s+it|yep\s+got\s+it|yup\s+got\s+it|ya\s+got\s+it|understand\b|understood\b|yep\b|yup\b|ok\b|okay\b|right\b|alright\b|all\s+right)$`)
	nonAlnumSpacePat = regexp.MustCompile(`[^a-z0-9\s]`)
	nonAlnumRunPat   = regexp.MustCompile(`[^a-z0-9]+`)
	nonAlnumPat      = regexp.MustCompile(`[^a-z0-9]`)
	nonAlphaPat      = regexp.MustCompile(`[^a-z]`)
	nonAlphaSpacePat = regexp.MustCompile(`[^a-z\s]`)
)

var ackNoiseTokens = map[string]struct{}{
	"got": {}, "it": {}, "gotcha": {}, "yep": {}, "yup": {}, "ya": {},
	"understand": {}, "understood": {}, "ok": {}, "okay": {}, "right": {},
	"alright": {}, "hey": {}, "hi": {}, "hello": {}, "this": {}, "is": {},
	"from": {}, "cassidy": {}, "eve": {}, "sarah": {}, "agent": {},
	"with": {}, "the": {}, "a": {}, "an": {}, "and": {}, "to": {}, "all": {},
}

var noisePrefixTokens = map[string]struct{}{
	"hey": {}, "hi": {}, "hello": {}, "cassidy": {}, "sarah": {},
	"agent": {}, "eve": {}, "this": {}, "is": {}, "from": {}, "with": {},
}

func anyInSet(tokens []string, set map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func allInSet(tokens []string, set map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// isRepeatedRune reports whether s is a single rune repeated two or more
// times, such as "..." or "??".
func isRepeatedRune(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 || size == len(s) {
		return false
	}
	for _, r := range s[size:] {
		if r != first {
			return false
		}
	}
	return true
}

func firstRuneAlnum(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isIntroNoiseLike catches the agent's own intro leaking back through ASR,
// e.g. "Hey this is Cassidy ... got it".
func isIntroNoiseLike(text string) bool {
	words := strings.Fields(nonAlnumSpacePat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " "))
	if len(words) == 0 {
		return false
	}
	hasPrefix := anyInSet(words, noisePrefixTokens)
	hasAck := false
	for _, w := range words {
		switch w {
		case "got", "gotcha", "it", "yep", "yup", "yes", "okay", "ok":
			hasAck = true
		}
	}
	if hasPrefix && hasAck && allInSet(words, ackNoiseTokens) {
		return true
	}
	if len(words) <= 14 && hasPrefix && hasAck {
		switch words[0] {
		case "hey", "hi", "hello":
			return true
		}
	}
	return false
}

// LooksLikeLowSignal reports whether an utterance carries no conversational
// content and should not wake the agent.
func LooksLikeLowSignal(text string) bool {
	compact := multiWSPat.ReplaceAllString(text, "")
	lower := multiWSPat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	if lower == "" {
		return true
	}
	if isIntroNoiseLike(lower) {
		return true
	}
	if noSignalCharPat.MatchString(compact) {
		return true
	}
	words := strings.Fields(nonAlnumSpacePat.ReplaceAllString(lower, " "))
	if len(words) > 0 && len(words) <= 4 && noSignalAckPat.MatchString(strings.Join(words, " ")) {
		return true
	}
	if isRepeatedRune(compact) && !firstRuneAlnum(compact) {
		return true
	}
	switch strings.ToLower(compact) {
	case "??", "!!", "~~", "--", "__", "...":
		return true
	}
	return false
}

// UserSignature collapses an utterance to a stable key for detecting the
// same low-signal input arriving turn after turn. Pure punctuation runs are
// kept verbatim so "..." and "???" stay distinct.
func UserSignature(text string) string {
	compact := multiWSPat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	if compact == "" {
		return ""
	}
	alpha := nonAlnumPat.ReplaceAllString(compact, "")
	if alpha == "" {
		return compact
	}
	if isRepeatedRune(compact) && !firstRuneAlnum(compact) {
		return compact
	}
	if len(alpha) > 100 {
		alpha = alpha[:100]
	}
	return alpha
}
