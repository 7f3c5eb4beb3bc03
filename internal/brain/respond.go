package brain

import (
	"context"
	"strings"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/outcome"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/tools"
	"github.com/MrWong99/vocalith/internal/transport"
	"github.com/MrWong99/vocalith/internal/turn"
)

// onResponseRequired runs the full turn pipeline for one finalized user
// utterance: epoch rollover, policy decision, short-circuit noops, pre-ack,
// playbook rewrites, outcome capture, then either the memoized fast path or
// a spawned turn handler.
func (o *Orchestrator) onResponseRequired(ev *retell.Inbound) {
	o.cancelSpeculation(true)

	wasSpeaking := o.convState == ConvSpeaking

	// The previous epoch's slot-state backup resolves now: a turn that got
	// audio out keeps its mutations, one cancelled mid-flight loses them.
	if o.backup != nil && o.backupEpoch != ev.ResponseID {
		if o.turnRT != nil && o.turnRT.epoch == o.backupEpoch && o.turnRT.firstSegmentMS >= 0 {
			o.commitBackup(o.backupEpoch)
		} else {
			o.rollbackBackup(o.backupEpoch)
		}
	}

	o.epoch = ev.ResponseID
	o.preAckEpoch = -1
	o.terminalEpoch = -1
	o.p.Gate.SetEpoch(o.epoch)
	o.turnRT = &turnRuntime{
		epoch:          o.epoch,
		finalizedMS:    o.now(),
		firstSegmentMS: -1,
		ackSegmentMS:   -1,
	}
	o.armBackup(o.epoch)

	if wasSpeaking {
		o.needsApology = true
	}
	o.cancelTurn("new_epoch")

	if dropped := o.p.Outbound.DropWhere(func(env transport.Envelope) bool {
		return env.Epoch != transport.Unbound && env.Epoch != o.epoch
	}); len(dropped) > 0 {
		o.p.Metrics.Inc(observe.MetricStaleSegmentDropped, int64(len(dropped)))
	}

	o.updateTranscript(ev.Transcript)

	b2b := o.cfg.Turn.Profile == dialog.ProfileB2B
	if b2b {
		// After a reconnect the platform replays the bad-time reprompt;
		// seeing it as the last agent line means the funnel restarted.
		la := strings.ToLower(retell.LastAgentText(o.transcript))
		if strings.Contains(la, "bad time") && strings.Contains(la, "quick question") &&
			o.slotState.B2BFunnelStage != dialog.StageOpen {
			o.slotState.B2BFunnelStage = dialog.StageOpen
		}
	}
	lastStage := o.slotState.B2BFunnelStage

	o.setConvState(ConvProcessing, "turn_finalized")

	lastUser := retell.LastUserText(ev.Transcript)
	normalized := dialog.UserSignature(lastUser)
	lowSignal := dialog.LooksLikeLowSignal(lastUser)

	if ev.Type == retell.InteractionReminderRequired && strings.TrimSpace(lastUser) == "" {
		o.finishNoop("reminder_no_user_silence")
		return
	}

	if b2b && lowSignal {
		o.slotState.B2BLastStage = lastStage
		o.slotState.B2BLastSignal = dialog.SignalNoSignal
		o.slotState.B2BNoSignalStreak++
		o.slotState.B2BLastUserSignature = normalized
		o.finishNoop("low_signal_noop")
		return
	}

	o.marker("policy_decision_start_ms", nil)
	decisionStart := o.now()

	safety := dialog.EvaluateUserText(lastUser, o.cfg.Turn.ClinicName, o.cfg.Turn.Profile, o.cfg.B2BOrgName)
	action := dialog.Decide(dialog.Input{
		State:        o.slotState,
		Transcript:   ev.Transcript,
		NeedsApology: o.needsApology,
		Safety:       safety,
		CallID:       o.p.CallID,
		Profile:      o.cfg.Turn.Profile,
	})

	noProgress := action.Type == dialog.ActionNoop && action.Payload.NoProgress
	stageUnchanged := b2b && o.slotState.B2BFunnelStage == lastStage
	isNoiseNoop := noProgress && action.Payload.Message == "" && action.Payload.NoSignal
	if noProgress && (isNoiseNoop || lowSignal || stageUnchanged || strings.TrimSpace(lastUser) == "") {
		o.finishNoop("no_progress_noop")
		return
	}
	if action.Type == dialog.ActionNoop {
		action.Payload.SkipAck = true
	}

	o.marker("policy_decision_ms", map[string]any{"duration_ms": o.now() - decisionStart})

	if ev.Type == retell.InteractionResponseRequired &&
		o.cfg.PreAckEnabled &&
		o.cfg.Turn.Profile == dialog.ProfileClinic &&
		action.Type != dialog.ActionNoop &&
		!action.Payload.NoProgress && !action.Payload.NoSignal &&
		strings.TrimSpace(action.Payload.Message) != "" &&
		strings.TrimSpace(lastUser) != "" &&
		o.preAckEpoch != o.epoch {
		o.enqueueOutbound(&retell.ResponseFrame{ResponseID: o.epoch},
			o.epoch, o.p.Gate.SpeakGen(), transport.PriorityPreAck, 0)
		o.marker("pre_ack_enqueued", nil)
		o.preAckEpoch = o.epoch
		action.Payload.SkipAck = true
	}

	objection := dialog.DetectObjection(lastUser)
	if objection != "" {
		o.p.Metrics.Inc(observe.MetricObjectionPattern, 1)
	}
	pb := dialog.ApplyPlaybook(action, objection, o.slotState.Reprompts["dt"], o.cfg.Turn.Profile)
	if pb.Applied {
		o.p.Metrics.Inc(observe.MetricPlaybookHit, 1)
	}
	action = pb.Action

	if o.memorySummary != "" {
		action.Payload.MemorySummary = o.memorySummary
	}

	if safety.Kind == dialog.SafetyIdentity {
		o.disclosed = true
	} else if (o.cfg.Turn.Profile == dialog.ProfileClinic || o.cfg.B2BAutoDisclosure) && !o.disclosed {
		action.Payload.DisclosureRequired = true
		o.disclosed = true
	}

	if action.Payload.RepromptCount > 1 {
		o.p.Metrics.Inc(observe.MetricReprompts, 1)
	}

	o.recordOutcome(action, objection, b2b)

	if o.emitFastPathPlan(action) {
		o.setConvState(ConvListening, "fast_path_complete")
		return
	}

	o.needsApology = false

	var prefetched []tools.Record
	if res := o.specResult; res != nil {
		if res.TranscriptKey == transcriptKey(ev.Transcript) &&
			res.ToolReqKey == toolReqKey(action.ToolRequests) {
			prefetched = res.Records
			o.p.Metrics.Inc(observe.MetricSpeculativeHits, 1)
		}
		o.specResult = nil
	}

	o.spawnTurn(action, prefetched)
}

// finishNoop closes the epoch without speaking: empty terminal, committed
// state, back to listening.
func (o *Orchestrator) finishNoop(reason string) {
	o.enqueueOutbound(&retell.ResponseFrame{
		ResponseID:            o.epoch,
		ContentComplete:       true,
		NoInterruptionAllowed: retell.Bool(false),
	}, o.epoch, o.p.Gate.SpeakGen(), transport.PriorityEmptyTerminal, 0)
	o.commitBackup(o.epoch)
	o.setConvState(ConvListening, reason)
}

func (o *Orchestrator) recordOutcome(action dialog.Action, objection dialog.ObjectionKind, b2b bool) {
	intent := o.slotState.Intent
	if intent == "" {
		intent = "unknown"
	}
	dropOff := ""
	if b2b {
		dropOff = string(o.slotState.B2BFunnelStage)
	}
	oc := outcome.CallOutcome{
		CallID:       o.p.CallID,
		TurnID:       o.epoch,
		Epoch:        o.epoch,
		Intent:       intent,
		ActionType:   string(action.Type),
		Objection:    string(objection),
		Accepted:     action.Payload.Accepted,
		Escalated:    action.Type == dialog.ActionEscalateSafety || action.Type == dialog.ActionTransfer,
		DropOffPoint: dropOff,
		TMS:          o.now(),
	}
	o.keepOutcome(oc)
	o.trace("call_outcome", oc)
	if action.Type == dialog.ActionEndCall && o.p.Outcomes != nil {
		if err := o.p.Outcomes.Record(o.ctx, oc); err != nil {
			o.logger.Warn("call outcome sink rejected record", "call_id", o.p.CallID, "error", err)
		}
	}
}

// spawnTurn hands the action to a fresh turn handler on its own queue and
// goroutine pair. The transcript window is the memory-bounded one, not the
// raw event transcript.
func (o *Orchestrator) spawnTurn(action dialog.Action, prefetched []tools.Record) {
	o.turnQ = queue.New[turn.Output](o.cfg.TurnQueueMax)
	o.turnGen++
	gen := o.turnGen

	tctx, cancel := context.WithCancel(o.ctx)
	o.cancelTurnFn = cancel

	var model = o.p.Model
	if !o.cfg.Turn.UseModelNLG {
		model = nil
	}
	handler := turn.New(turn.Params{
		SessionID:  o.p.SessionID,
		CallID:     o.p.CallID,
		Epoch:      o.epoch,
		TurnID:     o.epoch,
		Action:     action,
		Transcript: append([]retell.Utterance(nil), o.transcript...),
		Config:     o.cfg.Turn,
		Clock:      o.p.Clock,
		Metrics:    o.p.Metrics,
		Tools:      o.p.Tools,
		Script:     o.p.Script,
		Out:        o.turnQ,
		Model:      model,
		Prefetched: prefetched,
		Trace:      o.p.Trace,
		Logger:     o.logger,
	})
	go handler.Run(tctx)
	go o.pumpTurnOutputs(gen, o.turnQ)
}
