package brain

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/trace"
	"github.com/MrWong99/vocalith/internal/transport"
	"github.com/MrWong99/vocalith/internal/turn"
)

// Run executes the session to completion: handshake, main loop, teardown.
// It returns when the transport closes, the idle watchdog fires, or ctx is
// cancelled. Both session queues are closed by the time it returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.start()
	go o.pumpInbound()

	for o.convState != ConvEnded {
		select {
		case it := <-o.inboundCh:
			o.dispatch(it)

		case res := <-o.specCh:
			// Commit the worker's result before handling an inbound
			// event that raced it, so a simultaneous response request
			// still sees the prefetch. Storing the result has no other
			// effect, which makes this ordering safe to force.
			r := res
			o.specResult = &r
			select {
			case it := <-o.inboundCh:
				o.dispatch(it)
			default:
			}

		case ti := <-o.turnCh:
			// A control event that raced a turn output wins, the same
			// precedence the writer applies on its queue.
			select {
			case it := <-o.inboundCh:
				o.dispatch(it)
			default:
			}
			if o.convState == ConvEnded {
				continue
			}
			o.handleTurnOutput(ti)

		case <-o.ctx.Done():
			o.endSession("context_cancelled")
		}
	}
	return nil
}

// start performs the connect-time handshake and the speak-first opening.
func (o *Orchestrator) start() {
	o.setWSState(WSOpen, "ws_accepted")
	o.sendConfig()
	o.sendUpdateAgent()
	if o.cfg.AutoReconnect {
		pingCtx, cancel := context.WithCancel(o.ctx)
		o.cancelPingFn = cancel
		go o.pingLoop(pingCtx)
	}
	o.resetIdleWatchdog()

	if o.cfg.SpeakFirst {
		o.sendBeginGreeting()
		return
	}
	// Wait for the caller: close response_id 0 with an empty terminal.
	o.send(&retell.ResponseFrame{ResponseID: 0, ContentComplete: true})
}

// pumpInbound feeds the actor loop from the inbound queue, control items
// first. A closed queue surfaces as a transport-closed notice.
func (o *Orchestrator) pumpInbound() {
	for {
		it, err := o.p.Inbound.GetPrefer(o.ctx, transport.IsControlItem)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				select {
				case o.inboundCh <- transport.InboundItem{CloseReason: "queue_closed"}:
				case <-o.ctx.Done():
				}
			}
			return
		}
		select {
		case o.inboundCh <- it:
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) dispatch(it transport.InboundItem) {
	if it.Closed() {
		o.endSession(it.CloseReason)
		return
	}
	o.handleInboundEvent(it.Event)
}

// endSession tears the session down exactly once. Safe to call from the
// actor goroutine only.
func (o *Orchestrator) endSession(reason string) {
	if o.convState == ConvEnded {
		return
	}
	o.p.Metrics.Inc(observe.MetricWSCloseReason(sanitizeReason(reason)), 1)
	o.setConvState(ConvEnded, reason)
	o.setWSState(WSClosing, reason)

	if o.cancelTurnFn != nil {
		o.cancelTurnFn()
		o.cancelTurnFn = nil
	}
	if o.turnQ != nil {
		o.turnQ.Close()
		o.turnQ = nil
	}
	o.turnGen++

	o.cancelSpeculation(false)

	if o.cancelIdleFn != nil {
		o.cancelIdleFn()
		o.cancelIdleFn = nil
	}
	if o.cancelPingFn != nil {
		o.cancelPingFn()
		o.cancelPingFn = nil
	}

	o.p.Inbound.Close()
	o.p.Outbound.Close()
	o.shutdown = true
	o.setWSState(WSClosed, reason)
}

func sanitizeReason(reason string) string {
	var b strings.Builder
	for _, ch := range reason {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '.', ch == '_', ch == '-':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------
// FSM transitions
// ---------------------------------------------------------------------

func (o *Orchestrator) setWSState(s WSState, reason string) {
	if o.wsState == s {
		return
	}
	o.wsState = s
	o.trace("ws_state_transition", map[string]any{"new": string(s), "reason": reason})
}

func (o *Orchestrator) setConvState(s ConvState, reason string) {
	if o.convState == s {
		return
	}
	o.convState = s
	o.listening.Store(s == ConvListening)
	o.trace("conv_state_transition", map[string]any{"new": string(s), "reason": reason})
}

// ---------------------------------------------------------------------
// Inbound handling
// ---------------------------------------------------------------------

func (o *Orchestrator) handleInboundEvent(ev *retell.Inbound) {
	if o.convState == ConvEnded {
		return
	}
	o.resetIdleWatchdog()
	o.trace("inbound_event", map[string]any{
		"type":        string(ev.Type),
		"response_id": ev.ResponseID,
	})

	switch ev.Type {
	case retell.InteractionPingPong:
		if o.cfg.AutoReconnect {
			o.send(&retell.PingPongFrame{Timestamp: ev.Timestamp})
		}

	case retell.InteractionCallDetails:
		o.ingestCallDetails(ev.Call)

	case retell.InteractionClear:
		// An explicit platform interruption signal; same path as a
		// user-turn barge-in hint.
		o.bargeInCancel("clear")

	case retell.InteractionUpdateOnly:
		o.handleUpdateOnly(ev)

	case retell.InteractionResponseRequired, retell.InteractionReminderRequired:
		o.onResponseRequired(ev)
	}
}

func (o *Orchestrator) handleUpdateOnly(ev *retell.Inbound) {
	o.updateTranscript(ev.Transcript)

	if ev.Turntaking == retell.TurnAgent &&
		o.cfg.AgentTurnInterruptEnabled &&
		o.cfg.Turn.Profile == dialog.ProfileB2B &&
		o.convState == ConvListening &&
		o.preAckEpoch != o.epoch {
		o.interruptID++
		o.preAckEpoch = o.epoch
		o.enqueueOutbound(&retell.AgentInterruptFrame{
			InterruptID:           o.interruptID,
			ContentComplete:       true,
			NoInterruptionAllowed: retell.Bool(false),
		}, transport.Unbound, transport.Unbound, transport.PriorityEmptyTerminal, 0)
	}

	if ev.Turntaking == retell.TurnUser {
		// Queued speech may still be pending under writer backpressure
		// even after the FSM went back to LISTENING; a user-turn hint
		// cancels it either way.
		if o.bargeInCancel("barge_in_hint") {
			return
		}
	}

	// The classifier tracks monologue timing deterministically but its
	// output is never spoken: agent_interrupt stays reserved.
	if o.backchannel != nil && o.convState == ConvListening {
		_ = o.backchannel.Consider(
			o.now(),
			retell.LastUserText(ev.Transcript),
			ev.Turntaking == retell.TurnUser,
			o.slotState.SensitiveCapture(),
		)
	}

	if o.cfg.SpeculativeEnabled {
		o.maybeStartSpeculation(ev)
	}
}

func (o *Orchestrator) ingestCallDetails(call map[string]any) {
	if call == nil {
		return
	}
	metadata, _ := call["metadata"].(map[string]any)

	pick := func(vals ...any) string {
		for _, v := range vals {
			if s, ok := v.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			}
		}
		return ""
	}
	get := func(m map[string]any, key string) any {
		if m == nil {
			return nil
		}
		return m[key]
	}

	s := o.slotState
	s.CampaignID = pick(get(metadata, "campaign_id"), get(metadata, "campaignId"), call["campaign_id"], s.CampaignID)
	s.ClinicID = pick(get(metadata, "clinic_id"), get(metadata, "clinicId"), call["clinic_id"], s.ClinicID)
	s.ClinicName = pick(get(metadata, "clinic_name"), get(metadata, "clinicName"), call["clinic_name"], s.ClinicName)
	s.LeadID = pick(get(metadata, "lead_id"), get(metadata, "leadId"), call["lead_id"], s.LeadID)
	s.Tenant = pick(get(metadata, "tenant"), call["tenant"], s.Tenant, "synthetic_medspa")
	if to := pick(get(metadata, "to_number"), get(metadata, "clinic_phone"), call["to_number"], call["to"], get(metadata, "to")); to != "" {
		s.ToNumber = to
	}
}

func (o *Orchestrator) updateTranscript(transcript []retell.Utterance) {
	view := o.memory.IngestSnapshot(transcript, o.slotState)
	o.transcript = view.RecentTranscript
	o.memorySummary = view.SummaryBlob
	if view.Compacted {
		o.p.Metrics.Inc(observe.MetricTranscriptCompactions, 1)
	}
	o.p.Metrics.Set(observe.MetricTranscriptChars, int64(view.CharsCurrent))
	o.p.Metrics.Set(observe.MetricTranscriptUtterances, int64(view.UtterancesCurrent))
}

// ---------------------------------------------------------------------
// Slot-state backup
// ---------------------------------------------------------------------

func (o *Orchestrator) armBackup(epoch int64) {
	o.backup = o.slotState.Clone()
	o.backupEpoch = epoch
}

func (o *Orchestrator) commitBackup(epoch int64) {
	if o.backup == nil || o.backupEpoch != epoch {
		return
	}
	o.backup = nil
	o.backupEpoch = -1
}

func (o *Orchestrator) rollbackBackup(epoch int64) {
	if o.backup == nil || o.backupEpoch != epoch {
		return
	}
	o.slotState = o.backup
	o.backup = nil
	o.backupEpoch = -1
	o.p.Metrics.Inc(observe.MetricTurnRollback, 1)
}

// ---------------------------------------------------------------------
// Barge-in
// ---------------------------------------------------------------------

func (o *Orchestrator) hasPendingSpeech() bool {
	for _, env := range o.p.Outbound.Snapshot() {
		if env.Epoch != o.epoch {
			continue
		}
		if r, ok := env.Msg.(*retell.ResponseFrame); ok && !r.ContentComplete {
			return true
		}
	}
	return false
}

// bargeInCancel stops speaking immediately, closes the current epoch with an
// empty terminal chunk and rolls back slot-state mutations made for it.
// Reports whether there was anything to cancel.
func (o *Orchestrator) bargeInCancel(reason string) bool {
	if o.convState != ConvSpeaking && !o.hasPendingSpeech() {
		return false
	}
	t0 := o.now()

	newGen := o.p.Gate.BumpSpeakGen()
	dropped := o.p.Outbound.DropWhere(func(env transport.Envelope) bool {
		return env.Epoch == o.epoch &&
			env.SpeakGen != transport.Unbound &&
			env.SpeakGen != newGen
	})
	if len(dropped) > 0 {
		o.p.Metrics.Inc(observe.MetricStaleSegmentDropped, int64(len(dropped)))
	}

	o.rollbackBackup(o.epoch)
	o.cancelTurn(reason)

	o.enqueueOutbound(&retell.ResponseFrame{
		ResponseID:      o.epoch,
		ContentComplete: true,
	}, o.epoch, newGen, transport.PriorityTerminal, 0)

	o.setConvState(ConvListening, reason)
	o.needsApology = true
	o.p.Metrics.Observe(observe.MetricBargeInCancelLatencyMS, o.now()-t0)
	return true
}

// ---------------------------------------------------------------------
// Turn lifecycle
// ---------------------------------------------------------------------

// cancelTurn stops the running turn handler and drains its queue, counting
// everything still in flight as stale.
func (o *Orchestrator) cancelTurn(reason string) {
	if o.cancelTurnFn != nil {
		o.cancelTurnFn()
		o.cancelTurnFn = nil
	}
	if o.turnQ != nil {
		o.turnQ.Close()
		if dropped := o.turnQ.DropWhere(func(turn.Output) bool { return true }); len(dropped) > 0 {
			o.p.Metrics.Inc(observe.MetricStaleSegmentDropped, int64(len(dropped)))
		}
		o.turnQ = nil
	}
	o.turnGen++
	o.trace("turn_cancel", map[string]any{"reason": reason})
}

// pumpTurnOutputs forwards one turn's outputs into the actor loop, tagged
// with the turn generation so late items are recognizably stale.
func (o *Orchestrator) pumpTurnOutputs(gen int64, q *queue.Queue[turn.Output]) {
	for {
		out, err := q.Get(o.ctx)
		if err != nil {
			return
		}
		select {
		case o.turnCh <- turnItem{gen: gen, out: out}:
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleTurnOutput(ti turnItem) {
	if ti.gen != o.turnGen || ti.out.Epoch != o.epoch {
		o.p.Metrics.Inc(observe.MetricStaleSegmentDropped, 1)
		return
	}

	switch ti.out.Kind {
	case turn.OutputOutbound:
		o.send(ti.out.Outbound)
		if r, ok := ti.out.Outbound.(*retell.ResponseFrame); ok &&
			r.ContentComplete && r.ResponseID == o.epoch {
			o.terminalEpoch = o.epoch
		}

	case turn.OutputSpeechPlan:
		o.emitSpeechPlan(ti.out.Plan)

	case turn.OutputTurnComplete:
		o.commitBackup(o.epoch)
		if o.terminalEpoch != o.epoch {
			o.send(&retell.ResponseFrame{ResponseID: o.epoch, ContentComplete: true})
		}
		o.setConvState(ConvListening, "turn_complete")
	}
}

// ---------------------------------------------------------------------
// Speech emission
// ---------------------------------------------------------------------

func (o *Orchestrator) emitSpeechPlan(plan speech.Plan) {
	o.keepPlan(plan)
	o.trace("speech_plan", map[string]any{
		"plan_id":       plan.PlanID,
		"reason":        string(plan.Reason),
		"segment_count": len(plan.Segments),
	})
	for _, seg := range plan.Segments {
		o.emitSegment(seg)
	}
}

func (o *Orchestrator) emitSegment(seg speech.Segment) {
	if o.convState != ConvSpeaking {
		o.setConvState(ConvSpeaking, "first_segment")
	}

	if o.turnRT != nil && o.turnRT.epoch == o.epoch {
		if o.turnRT.firstSegmentMS < 0 {
			o.turnRT.firstSegmentMS = o.now()
			o.marker("first_response_latency_ms", map[string]any{
				"duration_ms": o.turnRT.firstSegmentMS - o.turnRT.finalizedMS,
			})
			o.p.Metrics.Observe(observe.MetricTurnFinalToFirstSegmentMS,
				o.turnRT.firstSegmentMS-o.turnRT.finalizedMS)
		}
		if seg.Purpose == speech.PurposeAck && o.turnRT.ackSegmentMS < 0 {
			o.turnRT.ackSegmentMS = o.now()
			o.p.Metrics.Observe(observe.MetricTurnFinalToAckMS,
				o.turnRT.ackSegmentMS-o.turnRT.finalizedMS)
		}
	}

	o.traceSegment(seg, o.epoch, o.epoch)

	priority := transport.PrioritySegment
	switch seg.Purpose {
	case speech.PurposeFiller:
		priority = transport.PriorityFiller
	case speech.PurposeAck:
		priority = transport.PriorityAck
	}

	o.enqueueOutbound(&retell.ResponseFrame{
		ResponseID:            o.epoch,
		Content:               seg.SSML,
		NoInterruptionAllowed: retell.Bool(!seg.Interruptible),
	}, o.epoch, o.p.Gate.SpeakGen(), priority, 0)
}

func (o *Orchestrator) traceSegment(seg speech.Segment, epoch, turnID int64) {
	if o.p.Trace == nil {
		return
	}
	o.p.Trace.Emit(trace.Event{
		TMS:         o.now(),
		SessionID:   o.p.SessionID,
		CallID:      o.p.CallID,
		TurnID:      turnID,
		Epoch:       epoch,
		WSState:     string(o.wsState),
		ConvState:   string(o.convState),
		EventType:   "speech_segment",
		SegmentHash: seg.Hash(epoch, turnID),
	}, map[string]any{
		"purpose":                string(seg.Purpose),
		"segment_index":          seg.Index,
		"interruptible":          seg.Interruptible,
		"safe_interrupt_point":   seg.SafeInterruptPoint,
		"expected_duration_ms":   seg.ExpectedDurationMS,
		"requires_tool_evidence": seg.RequiresToolEvidence,
		"tool_evidence_ids":      seg.ToolEvidenceIDs,
	})
}

// ---------------------------------------------------------------------
// Outbound helpers
// ---------------------------------------------------------------------

// send enqueues one outbound frame with the default gate inheritance:
// response frames bind to their response id, tool-weaving frames to the
// current epoch, everything else rides ungated.
func (o *Orchestrator) send(msg retell.Outbound) {
	epoch, speakGen := transport.Unbound, transport.Unbound
	switch m := msg.(type) {
	case *retell.ResponseFrame:
		epoch = m.ResponseID
		speakGen = o.p.Gate.SpeakGen()
	case *retell.ToolCallInvocationFrame, *retell.ToolCallResultFrame:
		epoch = o.epoch
		speakGen = o.p.Gate.SpeakGen()
	}
	var deadline int64
	if msg.ResponseType() == retell.ResponseTypePingPong && o.cfg.PingWriteDeadlineMS > 0 {
		deadline = o.cfg.PingWriteDeadlineMS
	}
	o.enqueueOutbound(msg, epoch, speakGen, transport.DefaultPriority(msg), deadline)
}

func (o *Orchestrator) enqueueOutbound(msg retell.Outbound, epoch, speakGen int64, priority int, deadlineMS int64) {
	if o.shutdown {
		return
	}
	startMS := o.now()
	o.marker("outbound_enqueue_start_ms", map[string]any{
		"response_type": msg.ResponseType(),
	})

	env := transport.Envelope{
		Msg:        msg,
		Epoch:      epoch,
		SpeakGen:   speakGen,
		Priority:   priority,
		Plane:      transport.PlaneFor(msg),
		EnqueuedMS: o.now(),
		DeadlineMS: deadlineMS,
	}
	accepted, _ := o.p.Outbound.Put(env, transport.EnqueueEvict(o.p.Gate, env))
	if !accepted {
		o.p.Metrics.Inc(observe.MetricOutboundQueueDropped, 1)
	}

	o.marker("outbound_enqueue_ms", map[string]any{
		"duration_ms":   o.now() - startMS,
		"response_type": msg.ResponseType(),
		"priority":      priority,
	})
}

func (o *Orchestrator) sendConfig() {
	o.send(&retell.ConfigFrame{Options: retell.ConnectionOptions{
		AutoReconnect:           o.cfg.AutoReconnect,
		CallDetails:             o.cfg.SendCallDetails,
		TranscriptWithToolCalls: o.cfg.TranscriptWithToolCalls,
	}})
}

func (o *Orchestrator) sendUpdateAgent() {
	if !o.cfg.SendUpdateAgentOnConnect {
		return
	}
	o.send(&retell.UpdateAgentFrame{AgentConfig: retell.AgentOptions{
		Responsiveness:          retell.Float(o.cfg.Responsiveness),
		InterruptionSensitivity: retell.Float(o.cfg.InterruptionSensitivity),
		ReminderTriggerMS:       retell.Int(o.cfg.ReminderTriggerMS),
		ReminderMaxCount:        retell.Int(o.cfg.ReminderMaxCount),
	}})
}

// sendBeginGreeting speaks the scripted opener as response_id 0 and closes
// it with an empty terminal.
func (o *Orchestrator) sendBeginGreeting() {
	profile := o.cfg.Turn.Profile
	placeholders := map[string]string{
		"clinic_name": o.cfg.Turn.ClinicName,
		"agent_name":  o.cfg.B2BAgentName,
		"org_name":    o.cfg.B2BOrgName,
	}
	maps.Copy(placeholders, o.cfg.OpenerPlaceholders)
	greeting := o.p.Script.Opener(profile, placeholders)

	if profile == dialog.ProfileB2B {
		o.disclosed = o.cfg.B2BAutoDisclosure
	} else {
		o.disclosed = true
	}

	opts := o.chunkOpts(speech.PurposeContent)
	opts.MaxMonologueMS = o.cfg.Turn.MaxMonologueMS
	plan := speech.BuildPlan(speech.PlanInput{
		SessionID:          o.p.SessionID,
		CallID:             o.p.CallID,
		TurnID:             0,
		Epoch:              0,
		CreatedAtMS:        o.now(),
		Reason:             speech.ReasonContent,
		Segments:           speech.MicroChunk(greeting, opts),
		DisclosureIncluded: true,
	}, o.p.Metrics)

	o.keepPlan(plan)
	o.setConvState(ConvSpeaking, "begin_greeting")
	o.trace("speech_plan", map[string]any{
		"plan_id":       plan.PlanID,
		"reason":        string(plan.Reason),
		"segment_count": len(plan.Segments),
	})
	for _, seg := range plan.Segments {
		o.traceSegment(seg, 0, 0)
		o.enqueueOutbound(&retell.ResponseFrame{
			ResponseID: 0,
			Content:    seg.SSML,
		}, 0, o.p.Gate.SpeakGen(), transport.PrioritySegment, 0)
	}
	o.enqueueOutbound(&retell.ResponseFrame{
		ResponseID:      0,
		ContentComplete: true,
	}, 0, o.p.Gate.SpeakGen(), transport.PriorityTerminal, 0)
	o.setConvState(ConvListening, "begin_complete")
}

func (o *Orchestrator) chunkOpts(purpose speech.Purpose) speech.ChunkOptions {
	cfg := o.cfg.Turn
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

// ---------------------------------------------------------------------
// Keepalive and idle watchdog
// ---------------------------------------------------------------------

// pingLoop enqueues a keepalive on every interval. It runs off the actor
// goroutine and therefore touches only concurrency-safe state.
func (o *Orchestrator) pingLoop(ctx context.Context) {
	for {
		if err := o.p.Clock.SleepMS(ctx, o.cfg.PingIntervalMS); err != nil {
			return
		}
		now := o.p.Clock.NowMS()
		env := transport.Control(&retell.PingPongFrame{Timestamp: now}, transport.PriorityPing, now)
		env.DeadlineMS = o.cfg.PingWriteDeadlineMS
		if accepted, _ := o.p.Outbound.Put(env, transport.EnqueueEvict(o.p.Gate, env)); !accepted {
			o.p.Metrics.Inc(observe.MetricOutboundQueueDropped, 1)
		}
	}
}

// resetIdleWatchdog re-arms the no-inbound-traffic timeout. The watchdog
// reports back through the inbound queue so session teardown stays on the
// actor goroutine.
func (o *Orchestrator) resetIdleWatchdog() {
	if o.cancelIdleFn != nil {
		o.cancelIdleFn()
		o.cancelIdleFn = nil
	}
	if o.cfg.IdleTimeoutMS <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.cancelIdleFn = cancel
	go func() {
		if err := o.p.Clock.SleepMS(ctx, o.cfg.IdleTimeoutMS); err != nil {
			return
		}
		o.p.Inbound.Put(
			transport.InboundItem{CloseReason: "idle_timeout"},
			func(transport.InboundItem) bool { return true },
		)
	}()
}

// ---------------------------------------------------------------------
// Trace helpers
// ---------------------------------------------------------------------

func (o *Orchestrator) now() int64 { return o.p.Clock.NowMS() }

func (o *Orchestrator) trace(eventType string, payload any) {
	if o.p.Trace == nil {
		return
	}
	o.p.Trace.Emit(trace.Event{
		TMS:       o.now(),
		SessionID: o.p.SessionID,
		CallID:    o.p.CallID,
		TurnID:    o.epoch,
		Epoch:     o.epoch,
		WSState:   string(o.wsState),
		ConvState: string(o.convState),
		EventType: eventType,
	}, payload)
}

func (o *Orchestrator) marker(phase string, extra map[string]any) {
	payload := map[string]any{"phase": phase}
	maps.Copy(payload, extra)
	o.trace("timing_marker", payload)
}
