package brain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/transport"
)

// b2bStateSignature flattens every slot-state field the funnel policy reads
// into a cache discriminator.
func (o *Orchestrator) b2bStateSignature() string {
	s := o.slotState
	return strings.Join([]string{
		string(s.B2BFunnelStage),
		string(s.B2BLastStage),
		string(s.B2BLastSignal),
		strconv.Itoa(s.B2BNoSignalStreak),
		s.B2BAutonomyMode,
		strconv.Itoa(s.QuestionDepth),
		strconv.Itoa(s.ObjectionPressure),
		strconv.Itoa(s.Reprompts["b2b_close_request"]),
		strconv.Itoa(s.Reprompts["b2b_bad_time"]),
		strconv.Itoa(boolInt(o.disclosed)),
	}, "|")
}

// b2bSlotSignature is the hashed variant the micro-chunk memo cache keys on.
func (o *Orchestrator) b2bSlotSignature() string {
	s := o.slotState
	payload := strings.Join([]string{
		string(s.B2BFunnelStage),
		string(s.B2BLastStage),
		s.B2BAutonomyMode,
		strconv.Itoa(s.QuestionDepth),
		strconv.Itoa(s.ObjectionPressure),
		strconv.Itoa(s.Reprompts["b2b_close_request"]),
		strconv.Itoa(s.Reprompts["b2b_bad_time"]),
		string(s.B2BLastSignal),
		strconv.Itoa(s.B2BNoSignalStreak),
		strconv.FormatBool(s.ManagerEmail != ""),
		strconv.Itoa(boolInt(o.disclosed)),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fastPathReason(t dialog.ActionType) speech.PlanReason {
	switch t {
	case dialog.ActionAsk:
		return speech.ReasonClarify
	case dialog.ActionConfirm:
		return speech.ReasonConfirm
	case dialog.ActionRepair:
		return speech.ReasonRepair
	case dialog.ActionTransfer, dialog.ActionEscalateSafety:
		return speech.ReasonError
	}
	return speech.ReasonContent
}

// emitFastPathPlan speaks a deterministic B2B funnel reply straight from the
// actor loop, bypassing the turn handler. Intent-keyed plans are memoized so
// repeat states replay the exact same segments. Reports whether the fast
// path handled the action.
func (o *Orchestrator) emitFastPathPlan(action dialog.Action) bool {
	if o.cfg.Turn.Profile != dialog.ProfileB2B {
		return false
	}
	if action.Type == dialog.ActionNoop || len(action.ToolRequests) > 0 {
		return false
	}
	if !action.Payload.FastPath {
		return false
	}
	intentSig := action.Payload.IntentSignature
	if intentSig == "" {
		return false
	}
	msg := strings.TrimSpace(action.Payload.Message)
	if msg == "" {
		return false
	}

	stage := string(o.slotState.B2BFunnelStage)
	stateID := o.b2bStateSignature()
	slotSig := o.b2bSlotSignature()
	reason := fastPathReason(action.Type)
	cacheKey := strings.Join([]string{stage, stateID, slotSig, intentSig}, "\x1f")

	buildStart := o.now()
	o.marker("speech_plan_build_start_ms", map[string]any{
		"intent_signature": intentSig,
		"slot_signature":   slotSig,
	})

	var segments []speech.Segment
	disclosure := false
	cacheHit := false
	if entry, ok := o.fastPlans.Get(cacheKey); ok && entry.reason == reason {
		segments = entry.segments
		disclosure = entry.disclosure
		cacheHit = true
	} else {
		purpose := speech.Purpose(reason)
		if reason == speech.ReasonError {
			purpose = speech.PurposeContent
		}
		opts := o.chunkOpts(purpose)
		opts.MaxMonologueMS = o.cfg.Turn.MaxMonologueMS
		segments = speech.MicroChunkCached(msg, slotSig, intentSig, opts)
		disclosure = action.Payload.DisclosureRequired
		o.fastPlans.Add(cacheKey, fastPlanEntry{
			reason:     reason,
			segments:   segments,
			disclosure: disclosure,
		})
	}

	o.marker("speech_plan_build_ms", map[string]any{
		"purpose":          string(reason),
		"segments":         len(segments),
		"intent_signature": intentSig,
		"slot_signature":   slotSig,
		"duration_ms":      o.now() - buildStart,
		"cached":           cacheHit,
	})

	o.emitFastPathFromSegments(action, segments, reason, disclosure)
	return true
}

func (o *Orchestrator) emitFastPathFromSegments(action dialog.Action, segments []speech.Segment, reason speech.PlanReason, disclosure bool) {
	plan := speech.BuildPlan(speech.PlanInput{
		SessionID:          o.p.SessionID,
		CallID:             o.p.CallID,
		TurnID:             o.epoch,
		Epoch:              o.epoch,
		CreatedAtMS:        o.now(),
		Reason:             reason,
		Segments:           segments,
		DisclosureIncluded: disclosure,
	}, o.p.Metrics)
	o.emitSpeechPlan(plan)

	o.commitBackup(o.epoch)
	terminal := &retell.ResponseFrame{ResponseID: o.epoch, ContentComplete: true}
	if action.Type == dialog.ActionEndCall && action.Payload.EndCall {
		terminal.EndCall = retell.Bool(true)
	}
	o.enqueueOutbound(terminal, o.epoch, o.p.Gate.SpeakGen(), transport.PriorityTerminal, 0)
}
