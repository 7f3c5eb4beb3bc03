package observe

// Metric names shared across the runtime. Counters end in _total,
// histograms in _ms or a unit-free count, gauges are plain.
const (
	// Turn latency.
	MetricTurnFinalToFirstSegmentMS = "turn.final_to_first_segment_ms"
	MetricTurnFinalToAckMS          = "turn.final_to_ack_segment_ms"

	// Tool latency masking.
	MetricToolCallToFirstFillerMS = "tool.call_to_first_filler_ms"
	MetricToolCallTotalMS         = "tool.call_total_ms"
	MetricToolFailures            = "tool.failures_total"

	// Speech planning and delivery.
	MetricSegmentExpectedDurationMS = "speech.segment_expected_duration_ms"
	MetricSegmentCountPerTurn       = "speech.segment_count_per_turn"
	MetricStaleSegmentDropped       = "speech.stale_segment_dropped_total"
	MetricFallbackUsed              = "speech.fallback_used_total"
	MetricSegmentWithoutEvidence    = "grounding.segment_without_tool_evidence_total"

	// Barge-in.
	MetricBargeInCancelLatencyMS = "bargein.cancel_latency_ms"

	// Turn state backup.
	MetricTurnRollback = "turn.rollback_total"

	// Keepalive control plane.
	MetricKeepaliveQueueDelayMS   = "keepalive.ping_pong_queue_delay_ms"
	MetricKeepaliveMissedDeadline = "keepalive.ping_pong_missed_deadline_total"
	MetricKeepaliveWriteAttempt   = "keepalive.ping_pong_write_attempt_total"
	MetricKeepaliveWriteTimeout   = "keepalive.ping_pong_write_timeout_total"

	// Transport.
	MetricWSWriteTimeout       = "ws.write_timeout_total"
	MetricWSClose              = "ws.close_total"
	MetricInboundBadSchema     = "inbound.bad_schema_total"
	MetricInboundQueueDropped  = "inbound.queue_dropped_total"
	MetricInboundQueueEviction = "inbound.queue_evictions_total"
	MetricOutboundQueueDropped = "outbound.queue_dropped_total"

	// Dialogue policy.
	MetricRepairAttempts      = "dialog.repair_attempts_total"
	MetricConfirmations       = "dialog.confirmations_total"
	MetricReprompts           = "dialog.reprompts_total"
	MetricUserRequestedRepeat = "dialog.user_requested_repeat_total"
	MetricOfferedSlots        = "dialog.offered_slots_count"
	MetricPlaybookHit         = "playbook.hit_total"
	MetricObjectionPattern    = "playbook.objection_pattern_total"

	// Speculative planning.
	MetricSpeculativeResults = "speculative.results_total"
	MetricSpeculativeHits    = "speculative.hits_total"

	// NLG guards.
	MetricFactGuardFallback = "llm.fact_guard_fallback_total"
	MetricLLMTimeouts       = "llm.timeouts_total"
	MetricReasoningLeak     = "voice.reasoning_leak_total"
	MetricJargonViolation   = "voice.jargon_violation_total"
	MetricReadabilityGrade  = "voice.readability_grade"

	// Transcript window.
	MetricTranscriptCompactions = "memory.transcript_compactions_total"
	MetricTranscriptUtterances  = "memory.transcript_utterances"
	MetricTranscriptChars       = "memory.transcript_chars"

	// Replay verification.
	MetricReplayHashMismatch = "replay.hash_mismatch_total"
)

// MetricWSCloseReason returns the per-reason close counter name.
func MetricWSCloseReason(reason string) string {
	return "ws.close_reason." + reason + "_total"
}
