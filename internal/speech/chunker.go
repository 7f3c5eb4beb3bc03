package speech

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ChunkOptions parameterizes micro-chunking. Callers populate every field
// from session config; nothing is defaulted here.
type ChunkOptions struct {
	MaxExpectedMS        int64
	PaceMSPerChar        int64
	Purpose              Purpose
	Interruptible        bool
	RequiresToolEvidence bool
	ToolEvidenceIDs      []string
	// MaxMonologueMS inserts a check-in question between CONTENT segments
	// once uninterrupted read time would exceed it. Zero disables.
	MaxMonologueMS       int64
	Markup               MarkupMode
	DashPauseUnitMS      int64
	DigitDashPauseUnitMS int64
	PauseScope           PauseScope
	IncludeTrailingPause bool
}

type draft struct {
	purpose              Purpose
	plainText            string
	interruptible        bool
	requiresToolEvidence bool
	toolEvidenceIDs      []string
}

var (
	wsPattern = regexp.MustCompile(`\s+`)

	microCache  = newSegmentCache(1024)
	scriptCache = newSegmentCache(256)
)

func newSegmentCache(size int) *lru.Cache[string, []Segment] {
	c, err := lru.New[string, []Segment](size)
	if err != nil {
		panic(err)
	}
	return c
}

func collapseWhitespace(text string) string {
	return wsPattern.ReplaceAllString(strings.TrimSpace(text), " ")
}

// detBreakMS derives the inter-segment break for a segment index. The value
// walks [150, 400] deterministically so replays hash identically.
func detBreakMS(segmentIndex int) int64 {
	return 150 + int64((segmentIndex*77)%251)
}

// DashPause renders the platform pause primitive: one " - " per unit.
func DashPause(units int) string {
	if units <= 0 {
		return ""
	}
	return strings.Repeat(" - ", units)
}

// dashPauseUnits rounds a break to pause units, never below one unit.
func dashPauseUnits(breakMS, unitMS int64) int64 {
	if unitMS <= 0 {
		return 0
	}
	b := breakMS
	if b < 0 {
		b = 0
	}
	units := (b + unitMS/2) / unitMS
	if units < 1 {
		units = 1
	}
	return units
}

// boundaryPause returns the pause suffix and its expected duration for one
// segment boundary.
func boundaryPause(mode MarkupMode, breakMS, unitMS int64) (string, int64) {
	switch mode {
	case MarkupRawText:
		return "", 0
	case MarkupSSML:
		return fmt.Sprintf(`<break time="%dms"/>`, breakMS), breakMS
	}
	units := dashPauseUnits(breakMS, unitMS)
	return DashPause(int(units)), units * unitMS
}

func estimateExpectedMS(plain string, purpose Purpose, paceMSPerChar int64, spans []ProtectedSpan,
	mode MarkupMode, breakMS int64, includeBoundary bool, dashUnitMS, digitUnitMS int64, scope PauseScope) int64 {

	base := int64(utf8.RuneCountInString(plain)) * paceMSPerChar
	extra := digitPauseMS(plain, spans, purpose, digitUnitMS)
	var boundary int64
	if includeBoundary && (mode == MarkupSSML || (mode == MarkupDashPause && scope == PauseSegmentBoundary)) {
		_, boundary = boundaryPause(mode, breakMS, dashUnitMS)
	}
	total := base + extra + boundary
	if total < 0 {
		total = 0
	}
	return total
}

// splitClauses breaks cleaned single-spaced text into breath groups: after
// sentence punctuation (kept), at commas (consumed), and around the
// conjunctions and/but/so (consumed).
func splitClauses(cleaned string) []string {
	var rawParts []string
	start, i := 0, 0
	for i < len(cleaned) {
		if sep := clauseSeparator(cleaned, i); sep > 0 {
			rawParts = append(rawParts, cleaned[start:i])
			i += sep
			start = i
			continue
		}
		i++
	}
	rawParts = append(rawParts, cleaned[start:])

	parts := make([]string, 0, len(rawParts))
	for _, p := range rawParts {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// clauseSeparator returns the byte length of the separator starting at i, or
// zero. Alternatives are checked in fixed order so splits are stable.
func clauseSeparator(s string, i int) int {
	if s[i] == ' ' && i > 0 && isClauseEnd(s[i-1]) {
		return 1
	}
	if s[i] == ',' && i+1 < len(s) && s[i+1] == ' ' {
		return 2
	}
	if s[i] == ' ' {
		for _, conj := range [...]string{" and ", " but ", " so "} {
			if strings.HasPrefix(s[i:], conj) {
				return len(conj)
			}
		}
	}
	return 0
}

func isClauseEnd(b byte) bool {
	switch b {
	case '.', '!', '?', ';':
		return true
	}
	return false
}

// MicroChunk splits text into breath-group segments whose expected read time
// stays under opts.MaxExpectedMS, then renders pause markup and protected
// spans. The result is memoized; identical inputs return identical segments.
func MicroChunk(text string, opts ChunkOptions) []Segment {
	cleaned := collapseWhitespace(text)
	if cleaned == "" {
		return nil
	}
	key := chunkCacheKey("", "", cleaned, opts)
	if cached, ok := microCache.Get(key); ok {
		return append([]Segment(nil), cached...)
	}
	segments := chunk(cleaned, opts)
	microCache.Add(key, append([]Segment(nil), segments...))
	return segments
}

// MicroChunkCached memoizes on top of MicroChunk under a slot-state and
// intent signature, for deterministic fast paths that re-plan the same
// scripted text many times per call.
func MicroChunkCached(text, slotSignature, intentSignature string, opts ChunkOptions) []Segment {
	cleaned := collapseWhitespace(text)
	key := chunkCacheKey(slotSignature, intentSignature, cleaned, opts)
	if cached, ok := scriptCache.Get(key); ok {
		return append([]Segment(nil), cached...)
	}
	segments := MicroChunk(text, opts)
	scriptCache.Add(key, append([]Segment(nil), segments...))
	return segments
}

func chunk(cleaned string, opts ChunkOptions) []Segment {
	parts := splitClauses(cleaned)

	var drafts []draft
	var buf []string

	estCandidate := func(plain string, nextIndex int) int64 {
		spans := FindProtectedSpans(plain)
		return estimateExpectedMS(plain, opts.Purpose, opts.PaceMSPerChar, spans,
			opts.Markup, detBreakMS(nextIndex), true,
			opts.DashPauseUnitMS, opts.DigitDashPauseUnitMS, opts.PauseScope)
	}

	flushBuf := func() {
		if len(buf) == 0 {
			return
		}
		if plain := strings.TrimSpace(strings.Join(buf, " ")); plain != "" {
			drafts = append(drafts, draft{
				purpose:              opts.Purpose,
				plainText:            plain,
				interruptible:        opts.Interruptible,
				requiresToolEvidence: opts.RequiresToolEvidence,
				toolEvidenceIDs:      opts.ToolEvidenceIDs,
			})
		}
		buf = nil
	}

	addPart := func(part string) {
		part = strings.TrimSpace(part)
		if part == "" {
			return
		}
		if len(buf) == 0 {
			// A single oversized clause is split on word boundaries.
			if estCandidate(part, len(drafts)) > opts.MaxExpectedMS {
				var wbuf []string
				for _, w := range strings.Split(part, " ") {
					if w == "" {
						continue
					}
					cand := strings.TrimSpace(strings.Join(append(wbuf[:len(wbuf):len(wbuf)], w), " "))
					if len(wbuf) > 0 && estCandidate(cand, len(drafts)) > opts.MaxExpectedMS {
						buf = wbuf
						flushBuf()
						wbuf = []string{w}
					} else {
						wbuf = append(wbuf, w)
					}
				}
				if len(wbuf) > 0 {
					buf = wbuf
					flushBuf()
				}
				return
			}
			buf = append(buf, part)
			return
		}
		cand := strings.TrimSpace(strings.Join(append(buf[:len(buf):len(buf)], part), " "))
		if estCandidate(cand, len(drafts)) > opts.MaxExpectedMS {
			flushBuf()
		}
		buf = append(buf, part)
	}

	for _, part := range parts {
		addPart(part)
	}
	flushBuf()

	if opts.MaxMonologueMS > 0 && opts.Purpose == PurposeContent {
		drafts = insertCheckIns(drafts, opts.MaxMonologueMS, opts.PaceMSPerChar, opts.DigitDashPauseUnitMS)
	}

	segments := make([]Segment, 0, len(drafts))
	last := len(drafts) - 1
	for i, d := range drafts {
		spans := FindProtectedSpans(d.plainText)
		body := formatProtectedSpans(d.plainText, spans, d.purpose)
		breakMS := detBreakMS(i)

		includePause := opts.IncludeTrailingPause || i < last
		switch {
		case opts.Markup == MarkupRawText:
			includePause = false
		case opts.Markup == MarkupDashPause && opts.PauseScope != PauseSegmentBoundary:
			includePause = false
		}
		var suffix string
		var boundaryMS int64
		if includePause {
			suffix, boundaryMS = boundaryPause(opts.Markup, breakMS, opts.DashPauseUnitMS)
		}

		// The platform concatenates streamed chunks verbatim, so a word
		// boundary must survive the chunk boundary.
		outText := body + suffix
		if opts.Markup != MarkupSSML && i < last {
			outText = glueBoundary(outText, drafts[i+1].plainText)
		}

		expected := int64(utf8.RuneCountInString(d.plainText))*opts.PaceMSPerChar +
			digitPauseMS(d.plainText, spans, d.purpose, opts.DigitDashPauseUnitMS) +
			boundaryMS
		if expected < 0 {
			expected = 0
		}

		segments = append(segments, Segment{
			Index:                 i,
			Purpose:               d.purpose,
			SSML:                  outText,
			PlainText:             d.plainText,
			Interruptible:         d.interruptible,
			SafeInterruptPoint:    true,
			ExpectedDurationMS:    expected,
			ContainsProtectedSpan: len(spans) > 0,
			ProtectedSpans:        spans,
			RequiresToolEvidence:  d.requiresToolEvidence,
			ToolEvidenceIDs:       d.toolEvidenceIDs,
		})
	}
	return segments
}

// glueBoundary appends a separating space when the next segment would
// otherwise fuse with this one.
func glueBoundary(out, next string) string {
	next = strings.TrimLeftFunc(next, unicode.IsSpace)
	if out == "" || next == "" {
		return out
	}
	if last, _ := utf8.DecodeLastRuneInString(out); unicode.IsSpace(last) {
		return out
	}
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsLetter(first) || unicode.IsDigit(first) || strings.ContainsRune(`$(["'`, first) {
		return out + " "
	}
	return out
}

// insertCheckIns breaks long runs of content with a short question so the
// caller gets a word in edgewise.
func insertCheckIns(drafts []draft, maxMonologueMS, paceMSPerChar, digitUnitMS int64) []draft {
	if maxMonologueMS <= 0 {
		return drafts
	}
	out := make([]draft, 0, len(drafts))
	var sinceCheckIn int64
	for _, d := range drafts {
		spans := FindProtectedSpans(d.plainText)
		expected := int64(utf8.RuneCountInString(d.plainText))*paceMSPerChar +
			digitPauseMS(d.plainText, spans, d.purpose, digitUnitMS)
		if expected < 0 {
			expected = 0
		}
		if len(out) > 0 && sinceCheckIn+expected > maxMonologueMS {
			out = append(out, draft{
				purpose:       PurposeClarify,
				plainText:     "Want me to keep going?",
				interruptible: true,
			})
			sinceCheckIn = 0
		}
		out = append(out, d)
		sinceCheckIn += expected
	}
	return out
}

func sortedUniqueIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func chunkCacheKey(slotSignature, intentSignature, cleaned string, opts ChunkOptions) string {
	fields := []string{
		slotSignature,
		intentSignature,
		cleaned,
		strconv.FormatInt(opts.MaxExpectedMS, 10),
		strconv.FormatInt(opts.PaceMSPerChar, 10),
		string(opts.Purpose),
		strconv.FormatBool(opts.Interruptible),
		strconv.FormatBool(opts.RequiresToolEvidence),
		strings.Join(sortedUniqueIDs(opts.ToolEvidenceIDs), ","),
		strconv.FormatInt(opts.MaxMonologueMS, 10),
		string(opts.Markup),
		strconv.FormatInt(opts.DashPauseUnitMS, 10),
		strconv.FormatInt(opts.DigitDashPauseUnitMS, 10),
		string(opts.PauseScope),
		strconv.FormatBool(opts.IncludeTrailingPause),
	}
	return strings.Join(fields, "\x1f")
}
