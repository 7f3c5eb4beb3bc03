package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/vocalith/internal/retell"
)

// The builtin tools are deterministic stand-ins for the clinic's real
// scheduling/CRM backends: same inputs, same canonical JSON out. Everything
// numeric the agent speaks must originate here (tool grounding), so the
// slot tables and prices are fixed rather than random.
func (r *Registry) registerBuiltins() {
	for name, fn := range map[string]Fn{
		"check_availability":           checkAvailability,
		"get_pricing":                  getPricing,
		"check_eligibility":            checkEligibility,
		"clinic_policies":              clinicPolicies,
		"mark_dnc_compliant":           markDNCCompliant,
		"send_evidence_package":        sendEvidencePackage,
		"log_call_outcome":             logCallOutcome,
		"set_follow_up_plan":           setFollowUpPlan,
		"send_call_recording_followup": sendCallRecordingFollowup,
	} {
		r.tools[name] = fn
	}
}

func checkAvailability(_ context.Context, args map[string]any) (string, error) {
	requested := strings.ToLower(strings.TrimSpace(argString(args, "requested_dt", "")))
	var slots []string
	switch {
	case strings.Contains(requested, "sunday"):
		slots = []string{}
	case strings.Contains(requested, "tomorrow"):
		slots = []string{
			"Tomorrow 9:00 AM",
			"Tomorrow 11:30 AM",
			"Tomorrow 3:15 PM",
			"Tomorrow 4:40 PM",
		}
	default:
		slots = []string{
			"Tuesday 9:00 AM",
			"Tuesday 11:30 AM",
			"Wednesday 2:15 PM",
			"Thursday 4:40 PM",
			"Friday 10:10 AM",
		}
	}
	return retell.CanonicalString(map[string]any{"slots": slots})
}

func getPricing(_ context.Context, args map[string]any) (string, error) {
	serviceID := argString(args, "service_id", "general")
	price := 0
	if serviceID == "general" {
		price = 120
	}
	return retell.CanonicalString(map[string]any{
		"service_id": serviceID,
		"price_usd":  price,
	})
}

func checkEligibility(context.Context, map[string]any) (string, error) {
	return retell.CanonicalString(map[string]any{"eligible": true})
}

func clinicPolicies(context.Context, map[string]any) (string, error) {
	return retell.CanonicalString(map[string]any{
		"policies": "We can help schedule appointments and answer basic questions.",
	})
}

func markDNCCompliant(_ context.Context, args map[string]any) (string, error) {
	reason := strings.ToUpper(strings.TrimSpace(argString(args, "reason", "USER_REQUEST")))
	switch reason {
	case "USER_REQUEST", "WRONG_NUMBER", "HOSTILE":
	default:
		return retell.CanonicalString(map[string]any{
			"ok":    false,
			"tool":  "mark_dnc_compliant",
			"error": "invalid_reason",
		})
	}
	return retell.CanonicalString(map[string]any{
		"ok":     true,
		"tool":   "mark_dnc_compliant",
		"reason": reason,
		"status": "dnc_recorded",
	})
}

func sendEvidencePackage(_ context.Context, args map[string]any) (string, error) {
	recipient := strings.TrimSpace(argString(args, "recipient_email", ""))
	delivery := strings.TrimSpace(argString(args, "delivery_method", "EMAIL_ONLY"))
	artifact := strings.TrimSpace(argString(args, "artifact_type", "FAILURE_LOG_PDF"))

	fail := func(code string) (string, error) {
		return retell.CanonicalString(map[string]any{
			"ok":    false,
			"tool":  "send_evidence_package",
			"error": code,
		})
	}
	if delivery != "EMAIL_ONLY" && delivery != "EMAIL_AND_SMS" {
		return fail("invalid_delivery_method")
	}
	if artifact != "AUDIO_LINK" && artifact != "FAILURE_LOG_PDF" {
		return fail("invalid_artifact_type")
	}
	if recipient == "" {
		return fail("missing_recipient_email")
	}
	return retell.CanonicalString(map[string]any{
		"ok":              true,
		"tool":            "send_evidence_package",
		"recipient_email": recipient,
		"delivery_method": delivery,
		"artifact_type":   artifact,
		"status":          "queued",
	})
}

func logCallOutcome(_ context.Context, args map[string]any) (string, error) {
	return outcomeAck("log_call_outcome", args)
}

func setFollowUpPlan(_ context.Context, args map[string]any) (string, error) {
	return outcomeAck("set_follow_up_plan", args)
}

// outcomeAck acknowledges a CRM write-through; log_call_outcome and
// set_follow_up_plan share the exact same record shape.
func outcomeAck(tool string, args map[string]any) (string, error) {
	return retell.CanonicalString(map[string]any{
		"ok":           true,
		"tool":         tool,
		"status":       "acknowledged",
		"reason":       strings.ToLower(strings.TrimSpace(argString(args, "reason", "queued"))),
		"tenant":       strings.TrimSpace(argString(args, "tenant", "synthetic_medspa")),
		"campaign_id":  strings.TrimSpace(argString(args, "campaign_id", "")),
		"clinic_id":    strings.TrimSpace(argString(args, "clinic_id", "")),
		"lead_id":      strings.TrimSpace(argString(args, "lead_id", "")),
		"call_id":      strings.TrimSpace(argString(args, "call_id", "")),
		"next_step":    orDefault(strings.TrimSpace(argString(args, "next_step", "queued")), "queued"),
		"timestamp_ms": timestampMS(args),
	})
}

func sendCallRecordingFollowup(_ context.Context, args map[string]any) (string, error) {
	recordingURL := strings.TrimSpace(argString(args, "recording_url", argString(args, "call_recording_url", "")))
	channel := strings.ToLower(strings.TrimSpace(argString(args, "channel", argString(args, "channels", ""))))
	return retell.CanonicalString(map[string]any{
		"ok":              true,
		"tool":            "send_call_recording_followup",
		"status":          "acknowledged",
		"reason":          orDefault(strings.ToLower(strings.TrimSpace(argString(args, "reason", "queued"))), "queued"),
		"tenant":          strings.TrimSpace(argString(args, "tenant", "synthetic_medspa")),
		"campaign_id":     strings.TrimSpace(argString(args, "campaign_id", "")),
		"clinic_id":       strings.TrimSpace(argString(args, "clinic_id", "")),
		"lead_id":         strings.TrimSpace(argString(args, "lead_id", "")),
		"call_id":         strings.TrimSpace(argString(args, "call_id", "")),
		"to_number":       strings.TrimSpace(argString(args, "to_number", "")),
		"recipient_phone": strings.TrimSpace(argString(args, "recipient_phone", "")),
		"recipient_email": strings.TrimSpace(argString(args, "recipient_email", "")),
		"channel":         orDefault(channel, "twilio_sms"),
		"recording_url":   recordingURL,
		"next_step":       orDefault(strings.TrimSpace(argString(args, "next_step", "queued")), "queued"),
		"timestamp_ms":    timestampMS(args),
	})
}

// argString coerces args[key] to a string, using fallback only when the key
// is absent. A present empty string stays empty.
func argString(args map[string]any, key, fallback string) string {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return fmt.Sprint(v)
}

func argInt64(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// timestampMS honours an explicit timestamp argument and otherwise stamps
// wall-clock epoch millis; callers that need replay-stable output pass the
// timestamp in.
func timestampMS(args map[string]any) int64 {
	if ts := argInt64(args, "timestamp_ms"); ts != 0 {
		return ts
	}
	return time.Now().UnixMilli()
}
