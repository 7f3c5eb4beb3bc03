// Package speech turns response text into deterministic micro-chunked
// segments sized for barge-in.
//
// Text is split on clause boundaries, greedily packed under an expected
// duration budget, and rendered with the platform's pause markup. Digit
// sequences that must be read slowly (phone numbers, confirmation digits)
// are protected spans rendered as spaced dashes. Every derived value (break
// length, pause units, plan id) is a pure function of the inputs, so a
// replayed session produces byte-identical segment text.
package speech

import "github.com/MrWong99/vocalith/internal/trace"

// MarkupMode selects how pauses are rendered into segment text.
type MarkupMode string

const (
	// MarkupDashPause renders pauses as spaced dashes, the platform's
	// native pause primitive.
	MarkupDashPause MarkupMode = "DASH_PAUSE"
	// MarkupRawText emits plain text with no pause markup.
	MarkupRawText MarkupMode = "RAW_TEXT"
	// MarkupSSML emits break tags. Experimental; most voices ignore it.
	MarkupSSML MarkupMode = "SSML"
)

// PauseScope controls where dash pauses appear in DASH_PAUSE mode.
type PauseScope string

const (
	// PauseProtectedOnly limits dashes to protected digit spans.
	PauseProtectedOnly PauseScope = "PROTECTED_ONLY"
	// PauseSegmentBoundary adds a dash pause at every segment boundary.
	PauseSegmentBoundary PauseScope = "SEGMENT_BOUNDARY"
)

// PlanReason says why a plan was produced.
type PlanReason string

const (
	ReasonAck         PlanReason = "ACK"
	ReasonFiller      PlanReason = "FILLER"
	ReasonContent     PlanReason = "CONTENT"
	ReasonBackchannel PlanReason = "BACKCHANNEL"
	ReasonClarify     PlanReason = "CLARIFY"
	ReasonConfirm     PlanReason = "CONFIRM"
	ReasonRepair      PlanReason = "REPAIR"
	ReasonError       PlanReason = "ERROR"
	ReasonClosing     PlanReason = "CLOSING"
)

// Purpose classifies a single segment.
type Purpose string

const (
	PurposeAck         Purpose = "ACK"
	PurposeFiller      Purpose = "FILLER"
	PurposeContent     Purpose = "CONTENT"
	PurposeBackchannel Purpose = "BACKCHANNEL"
	PurposeClarify     Purpose = "CLARIFY"
	PurposeConfirm     Purpose = "CONFIRM"
	PurposeRepair      Purpose = "REPAIR"
	PurposeControl     Purpose = "CONTROL"
	PurposeClosing     Purpose = "CLOSING"
)

// SpanKind classifies a protected span.
type SpanKind string

const (
	SpanPrice  SpanKind = "PRICE"
	SpanTime   SpanKind = "TIME"
	SpanDate   SpanKind = "DATE"
	SpanPhone  SpanKind = "PHONE"
	SpanDigits SpanKind = "DIGITS"
)

// ProtectedSpan marks a byte range of segment text that must never be split
// or reformatted mid-read.
type ProtectedSpan struct {
	Kind  SpanKind
	Start int
	End   int
}

// SourceRef points a plan back at what produced it: a tool result, a policy
// action, a script line.
type SourceRef struct {
	Kind string
	ID   string
}

// Segment is one speech chunk, small enough that cancelling after it sounds
// natural.
type Segment struct {
	Index                 int
	Purpose               Purpose
	SSML                  string
	PlainText             string
	Interruptible         bool
	SafeInterruptPoint    bool
	ExpectedDurationMS    int64
	ContainsProtectedSpan bool
	ProtectedSpans        []ProtectedSpan
	RequiresToolEvidence  bool
	ToolEvidenceIDs       []string
}

// Hash returns the segment's replay hash for a turn.
func (s Segment) Hash(epoch, turnID int64) string {
	return trace.HashSegment(s.SSML, string(s.Purpose), epoch, turnID)
}

// Plan is the ordered set of segments for one turn, with a content-derived
// id used to verify replay determinism.
type Plan struct {
	SessionID          string
	CallID             string
	TurnID             int64
	Epoch              int64
	PlanID             string
	Segments           []Segment
	CreatedAtMS        int64
	Reason             PlanReason
	SourceRefs         []SourceRef
	DisclosureIncluded bool
}
