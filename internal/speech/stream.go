package speech

import "strings"

// StreamingChunker accumulates LLM token deltas and flushes them through the
// same deterministic micro-chunking as scripted speech, so streamed and
// scripted segments are indistinguishable on the wire.
type StreamingChunker struct {
	MaxExpectedMS        int64
	PaceMSPerChar        int64
	Purpose              Purpose
	Interruptible        bool
	RequiresToolEvidence bool
	ToolEvidenceIDs      []string
	Markup               MarkupMode
	DashPauseUnitMS      int64
	DigitDashPauseUnitMS int64
	PauseScope           PauseScope

	buf string
}

// Push appends a delta and flushes when the buffer ends a sentence or its
// expected read time reaches the segment budget. A mid-stream flush keeps the
// trailing pause so playback does not slur into the next flush.
func (s *StreamingChunker) Push(delta string) []Segment {
	if delta == "" {
		return nil
	}
	s.buf += delta
	if !s.shouldFlush() {
		return nil
	}
	return s.flush(true)
}

// FlushFinal drains whatever remains after the stream ends.
func (s *StreamingChunker) FlushFinal() []Segment {
	return s.flush(false)
}

func (s *StreamingChunker) bufExpectedMS() int64 {
	plain := collapseWhitespace(s.buf)
	if plain == "" {
		return 0
	}
	spans := FindProtectedSpans(plain)
	return estimateExpectedMS(plain, s.Purpose, s.PaceMSPerChar, spans,
		s.Markup, 0, false, s.DashPauseUnitMS, s.DigitDashPauseUnitMS, s.PauseScope)
}

func (s *StreamingChunker) shouldFlush() bool {
	plain := strings.TrimSpace(s.buf)
	if plain == "" {
		return false
	}
	switch plain[len(plain)-1] {
	case '.', '!', '?', ';':
		return true
	}
	return s.bufExpectedMS() >= s.MaxExpectedMS
}

func (s *StreamingChunker) flush(includeTrailingPause bool) []Segment {
	plain := collapseWhitespace(s.buf)
	s.buf = ""
	if plain == "" {
		return nil
	}
	return MicroChunk(plain, ChunkOptions{
		MaxExpectedMS:        s.MaxExpectedMS,
		PaceMSPerChar:        s.PaceMSPerChar,
		Purpose:              s.Purpose,
		Interruptible:        s.Interruptible,
		RequiresToolEvidence: s.RequiresToolEvidence,
		ToolEvidenceIDs:      s.ToolEvidenceIDs,
		Markup:               s.Markup,
		DashPauseUnitMS:      s.DashPauseUnitMS,
		DigitDashPauseUnitMS: s.DigitDashPauseUnitMS,
		PauseScope:           s.PauseScope,
		IncludeTrailingPause: includeTrailingPause,
	})
}
