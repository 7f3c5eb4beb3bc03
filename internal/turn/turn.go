// Package turn renders one dialog action into ordered speech plans and wire
// frames for exactly one epoch.
//
// A Handler is a cancellable worker: the orchestrator spawns one per accepted
// turn, feeds it the policy's action plus the transcript window, and consumes
// its Output queue in order. Barge-in cancels the context; a cancelled epoch
// stops without a terminal because its outputs are already stale.
package turn

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/llm"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/tools"
	"github.com/MrWong99/vocalith/internal/trace"
)

// OutputKind discriminates the entries of a turn's output stream.
type OutputKind string

const (
	// OutputSpeechPlan carries an ordered set of speakable segments.
	OutputSpeechPlan OutputKind = "speech_plan"
	// OutputOutbound carries a wire frame to forward verbatim.
	OutputOutbound OutputKind = "outbound_msg"
	// OutputTurnComplete is the terminal marker; nothing follows it.
	OutputTurnComplete OutputKind = "turn_complete"
)

// Output is one ordered emission from a running turn. Plan is set for
// OutputSpeechPlan, Outbound for OutputOutbound.
type Output struct {
	Kind     OutputKind
	Epoch    int64
	Plan     speech.Plan
	Outbound retell.Outbound
}

// Config carries the per-session rendering knobs. The orchestrator builds
// one from the session config and reuses it for every turn of the call.
type Config struct {
	Profile dialog.Profile

	// Segment shaping.
	MaxSegmentExpectedMS int64
	PaceMSPerChar        int64
	MaxMonologueMS       int64
	Markup               speech.MarkupMode
	DashPauseUnitMS      int64
	DigitDashPauseUnitMS int64
	PauseScope           speech.PauseScope

	// Tool latency masking.
	ToolTimeoutMS         int64
	ToolFillerThresholdMS int64
	MaxFillersPerTool     int

	// Voice guards applied to every speakable text.
	Guard llm.GuardPolicy

	// Model NLG. UseModelNLG streams Ask/Repair turns through the model;
	// FactPhrasingEnabled rewrites fact templates with the placeholder
	// guard. Both need a non-nil Model.
	UseModelNLG            bool
	ModelFillerThresholdMS int64
	ModelTimeoutMS         int64
	FactPhrasingEnabled    bool

	// Persona identity for the model system prompt.
	ClinicName  string
	ClinicCity  string
	ClinicState string
}

// Params wires one turn. SessionID, CallID, Action, Tools and Out come from
// the orchestrator; nil Clock, Metrics, Script and Logger get defaults.
type Params struct {
	SessionID  string
	CallID     string
	Epoch      int64
	TurnID     int64
	Action     dialog.Action
	Transcript []retell.Utterance
	Config     Config

	Clock   clock.Clock
	Metrics observe.Recorder
	Tools   *tools.Registry
	Script  *dialog.CallScript
	Out     *queue.Queue[Output]

	// Model enables the streaming NLG and fact-rewrite paths when the
	// config asks for them.
	Model llm.Client

	// Prefetched carries speculative tool results; a request matching one
	// by canonical name and arguments reuses it without re-running.
	Prefetched []tools.Record

	Trace  *trace.Sink
	Logger *slog.Logger
}

// Handler renders exactly one epoch's action. Create one per turn; the
// phrase de-duplication state is per handler so a single turn never repeats
// an ack or filler line.
type Handler struct {
	p      Params
	logger *slog.Logger
	used   map[string]struct{}
}

// New prepares a handler. The zero-value optional fields of p are filled
// with working defaults.
func New(p Params) *Handler {
	if p.Clock == nil {
		p.Clock = clock.NewReal()
	}
	if p.Metrics == nil {
		p.Metrics = observe.NewComposite()
	}
	if p.Script == nil {
		p.Script = dialog.DefaultCallScript()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{p: p, logger: logger, used: make(map[string]struct{})}
}

// Run executes the turn to completion. Every non-cancelled run ends with
// exactly one OutputTurnComplete; unexpected failures speak a deterministic
// fallback line first. A cancelled context emits nothing further.
func (h *Handler) Run(ctx context.Context) {
	err := h.runImpl(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		h.logger.Warn("turn failed, speaking fallback",
			"call_id", h.p.CallID,
			"epoch", h.p.Epoch,
			"turn_id", h.p.TurnID,
			"error", err)
		h.emitSnagPlan()
	}
	h.emitDone()
}

func (h *Handler) runImpl(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := h.p.Action.Payload
	message := strings.TrimSpace(payload.Message)

	// Ambient/noise turns keep their state transitions without speaking.
	if h.p.Action.Type == dialog.ActionNoop ||
		(payload.NoSignal && message == "") ||
		(payload.NoProgress && message == "") {
		return nil
	}

	// Quick ACK right after finalization, unless the orchestrator already
	// pre-acked this epoch or the profile opens without one.
	if !payload.SkipAck && h.p.Config.Profile != dialog.ProfileB2B &&
		!payload.NoSignal && !payload.NoProgress {
		h.emitAck(payload)
	}

	var records []tools.Record
	if len(h.p.Action.ToolRequests) > 0 {
		var err error
		records, err = h.runTools(ctx)
		if err != nil {
			return err
		}
	}

	// Model NLG covers only non-factual turns; tool-grounded responses
	// stay deterministic.
	if h.p.Config.UseModelNLG && h.p.Model != nil &&
		(h.p.Action.Type == dialog.ActionAsk || h.p.Action.Type == dialog.ActionRepair) &&
		len(h.p.Action.ToolRequests) == 0 {
		return h.streamModelContent(ctx, records)
	}

	h.marker("speech_plan_build_start_ms", map[string]any{
		"purpose":      "CONTENT",
		"tool_records": len(records),
	})
	buildStart := h.p.Clock.NowMS()
	plan := h.planFromAction(ctx, records)
	h.marker("speech_plan_build_ms", map[string]any{
		"purpose":     string(plan.Reason),
		"segments":    len(plan.Segments),
		"duration_ms": h.p.Clock.NowMS() - buildStart,
	})
	plan = speech.EnforceToolGrounding(plan, h.p.Metrics)
	h.emitPlan(plan)

	if h.p.Action.Type == dialog.ActionEndCall && payload.EndCall {
		h.emitOutbound(&retell.ResponseFrame{
			ResponseID:      h.p.Epoch,
			Content:         "",
			ContentComplete: true,
			EndCall:         retell.Bool(true),
		})
	}
	return nil
}

func (h *Handler) emitAck(payload dialog.Payload) {
	options := h.p.Script.AckStandard
	if payload.NeedsApology {
		options = h.p.Script.AckApology
		if h.p.Config.Profile == dialog.ProfileB2B {
			options = h.p.Script.AckApologyB2B
		}
	}
	text := h.pickPhrase(options, "ACK", 0)
	if payload.DisclosureRequired {
		text += " " + h.p.Script.DisclosureLine
	}
	segs := speech.MicroChunk(h.guard(text), h.chunkOpts(speech.PurposeAck))
	plan := h.buildPlan(h.p.Clock.NowMS(), speech.ReasonAck, segs, nil, payload.DisclosureRequired)
	h.marker("speech_plan_ack_ms", map[string]any{
		"purpose":       "ACK",
		"plan_segments": len(segs),
	})
	h.emitPlan(plan)
}

// emitSnagPlan is the deterministic fallback for unexpected turn failures.
func (h *Handler) emitSnagPlan() {
	segs := speech.MicroChunk(
		h.guard("Sorry-I hit a snag. Can you say that one more time?"),
		h.chunkOpts(speech.PurposeContent),
	)
	h.emitPlan(h.buildPlan(h.p.Clock.NowMS(), speech.ReasonError, segs, nil, false))
}

func (h *Handler) emitPlan(plan speech.Plan) {
	h.p.Out.Put(Output{Kind: OutputSpeechPlan, Epoch: h.p.Epoch, Plan: plan}, nil)
}

func (h *Handler) emitOutbound(msg retell.Outbound) {
	h.p.Out.Put(Output{Kind: OutputOutbound, Epoch: h.p.Epoch, Outbound: msg}, nil)
}

func (h *Handler) emitDone() {
	h.p.Out.Put(Output{Kind: OutputTurnComplete, Epoch: h.p.Epoch}, nil)
}

func (h *Handler) guard(text string) string {
	return llm.GuardUserText(text, h.p.Metrics, h.p.Config.Guard)
}

func (h *Handler) buildPlan(createdAtMS int64, reason speech.PlanReason, segs []speech.Segment, refs []speech.SourceRef, disclosure bool) speech.Plan {
	return speech.BuildPlan(speech.PlanInput{
		SessionID:          h.p.SessionID,
		CallID:             h.p.CallID,
		TurnID:             h.p.TurnID,
		Epoch:              h.p.Epoch,
		CreatedAtMS:        createdAtMS,
		Reason:             reason,
		Segments:           segs,
		SourceRefs:         refs,
		DisclosureIncluded: disclosure,
	}, h.p.Metrics)
}

func (h *Handler) chunkOpts(purpose speech.Purpose) speech.ChunkOptions {
	cfg := h.p.Config
	return speech.ChunkOptions{
		MaxExpectedMS:        cfg.MaxSegmentExpectedMS,
		PaceMSPerChar:        cfg.PaceMSPerChar,
		Purpose:              purpose,
		Interruptible:        true,
		Markup:               cfg.Markup,
		DashPauseUnitMS:      cfg.DashPauseUnitMS,
		DigitDashPauseUnitMS: cfg.DigitDashPauseUnitMS,
		PauseScope:           cfg.PauseScope,
	}
}

func (h *Handler) evidenceOpts(purpose speech.Purpose, evidenceIDs []string) speech.ChunkOptions {
	opts := h.chunkOpts(purpose)
	opts.RequiresToolEvidence = true
	opts.ToolEvidenceIDs = evidenceIDs
	opts.MaxMonologueMS = h.p.Config.MaxMonologueMS
	return opts
}

// pickPhrase selects deterministically, then walks forward past phrases the
// turn already spoke so back-to-back fillers never repeat. With every option
// used it keeps the seeded choice.
func (h *Handler) pickPhrase(options []string, segmentKind string, segmentIndex int) string {
	chosen := dialog.SelectPhrase(options, h.p.CallID, h.p.TurnID, segmentKind, segmentIndex)
	if _, used := h.used[chosen]; !used || len(options) <= 1 {
		h.used[chosen] = struct{}{}
		return chosen
	}
	start := slices.Index(options, chosen)
	for off := 1; off < len(options); off++ {
		cand := options[(start+off)%len(options)]
		if _, used := h.used[cand]; !used {
			h.used[cand] = struct{}{}
			return cand
		}
	}
	h.used[chosen] = struct{}{}
	return chosen
}

func (h *Handler) marker(phase string, extra map[string]any) {
	if h.p.Trace == nil {
		return
	}
	payload := map[string]any{"phase": phase}
	maps.Copy(payload, extra)
	h.p.Trace.Emit(trace.Event{
		TMS:       h.p.Clock.NowMS(),
		SessionID: h.p.SessionID,
		CallID:    h.p.CallID,
		TurnID:    h.p.TurnID,
		Epoch:     h.p.Epoch,
		WSState:   "LISTENING",
		ConvState: "PROCESSING",
		EventType: "timing_marker",
	}, payload)
}
