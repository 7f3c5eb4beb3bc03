package dialog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultEchoSimilarityThreshold = 0.84
	defaultEchoMaxEditDistance     = 8
	defaultEchoMinTokenOverlap     = 0.6
)

// EchoOption is a functional option for configuring an [EchoDetector].
type EchoOption func(*EchoDetector)

// WithEchoSimilarityThreshold sets the minimum Jaro-Winkler score at which
// an utterance counts as an echo on similarity alone. Default: 0.84.
func WithEchoSimilarityThreshold(threshold float64) EchoOption {
	return func(d *EchoDetector) {
		d.similarityThreshold = threshold
	}
}

// WithEchoMaxEditDistance sets the Levenshtein distance below which an
// utterance with sufficient token overlap counts as an echo. Default: 8.
func WithEchoMaxEditDistance(distance int) EchoOption {
	return func(d *EchoDetector) {
		d.maxEditDistance = distance
	}
}

// WithEchoMinTokenOverlap sets the share of the shorter utterance's tokens
// that must also appear in the longer one for the edit-distance path.
// Default: 0.6.
func WithEchoMinTokenOverlap(overlap float64) EchoOption {
	return func(d *EchoDetector) {
		d.minTokenOverlap = overlap
	}
}

// EchoDetector flags "user" utterances that are really the agent's own
// speech bleeding back through the caller's speakerphone and the ASR. These
// arrive as slightly garbled near-copies of the opener, so plain equality is
// not enough: detection combines Jaro-Winkler similarity with a
// Levenshtein-plus-token-overlap fallback for longer lines.
//
// The detector is read-only after construction and safe for concurrent use.
type EchoDetector struct {
	similarityThreshold float64
	maxEditDistance     int
	minTokenOverlap     float64
}

// NewEchoDetector returns a detector configured with the supplied options.
func NewEchoDetector(opts ...EchoOption) *EchoDetector {
	d := &EchoDetector{
		similarityThreshold: defaultEchoSimilarityThreshold,
		maxEditDistance:     defaultEchoMaxEditDistance,
		minTokenOverlap:     defaultEchoMinTokenOverlap,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// IsEcho reports whether userText is an acoustic echo of agentText.
func (d *EchoDetector) IsEcho(userText, agentText string) bool {
	user := normalizeEchoText(userText)
	agent := normalizeEchoText(agentText)
	if user == "" || agent == "" {
		return false
	}
	if user == agent {
		return true
	}

	if matchr.JaroWinkler(user, agent, false) >= d.similarityThreshold {
		return true
	}

	if matchr.Levenshtein(user, agent) <= d.maxEditDistance {
		return tokenOverlap(user, agent) >= d.minTokenOverlap
	}
	return false
}

func normalizeEchoText(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	lower = nonAlnumSpacePat.ReplaceAllString(lower, " ")
	return strings.Join(strings.Fields(lower), " ")
}

// tokenOverlap is the share of the shorter string's tokens present in the
// longer one.
func tokenOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	set := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range ta {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta))
}
