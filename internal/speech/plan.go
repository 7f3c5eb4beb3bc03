package speech

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/retell"
)

// PlanInput carries everything BuildPlan needs. The plan id is derived from
// these fields, never from wall-clock state.
type PlanInput struct {
	SessionID          string
	CallID             string
	TurnID             int64
	Epoch              int64
	CreatedAtMS        int64
	Reason             PlanReason
	Segments           []Segment
	SourceRefs         []SourceRef
	DisclosureIncluded bool
}

// BuildPlan assembles a Plan with a canonical content-derived id and records
// per-turn segment metrics. Metrics may be nil.
func BuildPlan(in PlanInput, metrics observe.Recorder) Plan {
	plan := Plan{
		SessionID:          in.SessionID,
		CallID:             in.CallID,
		TurnID:             in.TurnID,
		Epoch:              in.Epoch,
		PlanID:             planID(in),
		Segments:           append([]Segment(nil), in.Segments...),
		CreatedAtMS:        in.CreatedAtMS,
		Reason:             in.Reason,
		SourceRefs:         append([]SourceRef(nil), in.SourceRefs...),
		DisclosureIncluded: in.DisclosureIncluded,
	}
	if metrics != nil {
		metrics.Observe(observe.MetricSegmentCountPerTurn, int64(len(in.Segments)))
		for _, seg := range in.Segments {
			metrics.Observe(observe.MetricSegmentExpectedDurationMS, seg.ExpectedDurationMS)
		}
	}
	return plan
}

// planID hashes the plan's identity and speakable content. Two plans with
// the same session, turn, epoch, reason and rendered segments always share
// an id, which is what replay verification compares.
func planID(in PlanInput) string {
	segs := make([]map[string]any, 0, len(in.Segments))
	for _, s := range in.Segments {
		segs = append(segs, map[string]any{
			"purpose":       string(s.Purpose),
			"ssml":          s.SSML,
			"interruptible": s.Interruptible,
		})
	}
	payload := map[string]any{
		"session_id":          in.SessionID,
		"call_id":             in.CallID,
		"turn_id":             in.TurnID,
		"epoch":               in.Epoch,
		"reason":              string(in.Reason),
		"disclosure_included": in.DisclosureIncluded,
		"segments":            segs,
	}
	blob, err := retell.CanonicalJSON(payload)
	if err != nil {
		// The payload is built from plain strings, ints and bools.
		panic(err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// EnforceToolGrounding rejects plans that state facts without tool evidence.
// A violating plan is replaced wholesale by a safe ERROR plan that asks for
// more detail instead of guessing numbers.
func EnforceToolGrounding(plan Plan, metrics observe.Recorder) Plan {
	for _, seg := range plan.Segments {
		if !seg.RequiresToolEvidence || len(seg.ToolEvidenceIDs) > 0 {
			continue
		}
		if metrics != nil {
			metrics.Inc(observe.MetricSegmentWithoutEvidence, 1)
			metrics.Inc(observe.MetricFallbackUsed, 1)
		}
		fallback := MicroChunk(
			"I can check that for you, but I don't want to guess. Could I get a little more detail?",
			ChunkOptions{
				MaxExpectedMS:        1200,
				PaceMSPerChar:        20,
				Purpose:              PurposeContent,
				Interruptible:        true,
				Markup:               MarkupDashPause,
				DashPauseUnitMS:      200,
				DigitDashPauseUnitMS: 150,
				PauseScope:           PauseProtectedOnly,
			},
		)
		return BuildPlan(PlanInput{
			SessionID:          plan.SessionID,
			CallID:             plan.CallID,
			TurnID:             plan.TurnID,
			Epoch:              plan.Epoch,
			CreatedAtMS:        plan.CreatedAtMS,
			Reason:             ReasonError,
			Segments:           fallback,
			SourceRefs:         plan.SourceRefs,
			DisclosureIncluded: plan.DisclosureIncluded,
		}, metrics)
	}
	return plan
}
