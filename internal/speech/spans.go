package speech

import (
	"regexp"
	"sort"
	"strings"
)

var (
	pricePattern  = regexp.MustCompile(`(\$\s*\d+(?:\.\d+)?)`)
	phonePattern  = regexp.MustCompile(`\b(\d{3})[\s\-\)]*(\d{3})[\s\-]*(\d{4})\b`)
	timePattern   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	digitsPattern = regexp.MustCompile(`\d+`)
	nonDigits     = regexp.MustCompile(`\D+`)
)

// FindProtectedSpans locates phone numbers, prices, times, and residual
// digit runs in text. Digit runs already inside a more specific span are not
// double-marked. Spans are returned ordered by position.
func FindProtectedSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan

	for _, m := range phonePattern.FindAllStringIndex(text, -1) {
		spans = append(spans, ProtectedSpan{Kind: SpanPhone, Start: m[0], End: m[1]})
	}
	for _, m := range pricePattern.FindAllStringIndex(text, -1) {
		spans = append(spans, ProtectedSpan{Kind: SpanPrice, Start: m[0], End: m[1]})
	}
	for _, m := range timePattern.FindAllStringIndex(text, -1) {
		spans = append(spans, ProtectedSpan{Kind: SpanTime, Start: m[0], End: m[1]})
	}

	covered := make([]bool, len(text))
	for _, s := range spans {
		for i := s.Start; i < s.End && i < len(covered); i++ {
			covered[i] = true
		}
	}
	for _, m := range digitsPattern.FindAllStringIndex(text, -1) {
		overlaps := false
		for i := m[0]; i < m[1]; i++ {
			if covered[i] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		spans = append(spans, ProtectedSpan{Kind: SpanDigits, Start: m[0], End: m[1]})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	return spans
}

// slowReadSpan reports whether a span is read digit-by-digit for the given
// purpose. Phone numbers always are; bare digit runs only when confirming or
// repairing, where precision beats flow.
func slowReadSpan(kind SpanKind, purpose Purpose) bool {
	if kind == SpanPhone {
		return true
	}
	return kind == SpanDigits && (purpose == PurposeConfirm || purpose == PurposeRepair)
}

// digitPauseMS returns the extra read time added by dash-separating the
// digits of slow-read spans.
func digitPauseMS(text string, spans []ProtectedSpan, purpose Purpose, digitUnitMS int64) int64 {
	unit := digitUnitMS
	if unit < 0 {
		unit = 0
	}
	var extra int64
	for _, sp := range spans {
		if !slowReadSpan(sp.Kind, purpose) {
			continue
		}
		digits := nonDigits.ReplaceAllString(text[sp.Start:sp.End], "")
		if n := int64(len(digits)); n > 1 {
			extra += (n - 1) * unit
		}
	}
	return extra
}

// formatProtectedSpans rewrites slow-read spans as dash-separated digits,
// leaving everything else untouched.
func formatProtectedSpans(text string, spans []ProtectedSpan, purpose Purpose) string {
	if len(spans) == 0 {
		return text
	}
	var out strings.Builder
	cur := 0
	for _, sp := range spans {
		if sp.Start < cur {
			// Overlapping span already rendered by a more specific one.
			continue
		}
		out.WriteString(text[cur:sp.Start])
		chunk := text[sp.Start:sp.End]
		if slowReadSpan(sp.Kind, purpose) {
			digits := nonDigits.ReplaceAllString(chunk, "")
			if digits != "" {
				out.WriteString(joinDigits(digits))
			} else {
				out.WriteString(chunk)
			}
		} else {
			out.WriteString(chunk)
		}
		cur = sp.End
	}
	out.WriteString(text[cur:])
	return out.String()
}

// joinDigits renders "4567" as "4 - 5 - 6 - 7".
func joinDigits(digits string) string {
	parts := make([]string, 0, len(digits))
	for _, d := range digits {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, " - ")
}
