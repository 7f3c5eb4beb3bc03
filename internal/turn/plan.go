package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/llm"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/tools"
)

// planFromAction maps the policy's action and the turn's tool records to one
// content plan. Numeric facts only ever enter through fact templates whose
// placeholders come from tool output.
func (h *Handler) planFromAction(ctx context.Context, records []tools.Record) speech.Plan {
	createdAt := h.p.Clock.NowMS()
	payload := h.p.Action.Payload

	refs := make([]speech.SourceRef, 0, len(records))
	evidenceIDs := make([]string, 0, len(records))
	for _, rec := range records {
		refs = append(refs, speech.SourceRef{Kind: "tool_call", ID: rec.ToolCallID})
		if rec.OK {
			evidenceIDs = append(evidenceIDs, rec.ToolCallID)
		}
	}

	simple := func(reason speech.PlanReason, purpose speech.Purpose, msg string) speech.Plan {
		segs := speech.MicroChunk(h.guard(msg), h.chunkOpts(purpose))
		return h.buildPlan(createdAt, reason, segs, refs, false)
	}

	switch h.p.Action.Type {
	case dialog.ActionEscalateSafety:
		return simple(speech.ReasonError, speech.PurposeContent, h.withEmpathy(payload.Message))

	case dialog.ActionAsk:
		return simple(speech.ReasonClarify, speech.PurposeClarify, h.withEmpathy(payload.Message))

	case dialog.ActionRepair:
		h.p.Metrics.Inc(observe.MetricRepairAttempts, 1)
		msg := "Sorry, can you say that again?"
		if payload.Field == "name" && payload.Strategy == "spell" {
			msg = "Could you spell your name for me?"
		}
		return simple(speech.ReasonRepair, speech.PurposeRepair, h.withEmpathy(msg))

	case dialog.ActionConfirm:
		h.p.Metrics.Inc(observe.MetricConfirmations, 1)
		var msg string
		switch payload.Field {
		case "phone_last4":
			msg = fmt.Sprintf("Just to confirm, your last four are %s, right?", payload.PhoneLast4)
		case "requested_dt":
			msg = fmt.Sprintf("Just to confirm, %s, right?", payload.RequestedDT)
		default:
			msg = "Just to confirm, is that right?"
		}
		return simple(speech.ReasonConfirm, speech.PurposeConfirm, h.withEmpathy(msg))

	case dialog.ActionInform:
		switch payload.InfoType {
		case "identity":
			// The identity line is spoken verbatim and counts as the AI
			// disclosure.
			segs := speech.MicroChunk(h.guard(payload.Message), h.chunkOpts(speech.PurposeContent))
			return h.buildPlan(createdAt, speech.ReasonContent, segs, refs, true)
		case "b2b_identity":
			return simple(speech.ReasonContent, speech.PurposeContent, h.withEmpathy(payload.Message))
		case "pricing":
			return h.pricingPlan(ctx, createdAt, records, refs, evidenceIDs)
		}

	case dialog.ActionOfferSlots:
		return h.offerSlotsPlan(ctx, createdAt, records, refs, evidenceIDs)

	case dialog.ActionEndCall:
		msg := payload.Message
		if msg == "" {
			msg = "Thanks for your time. Goodbye."
		}
		return simple(speech.ReasonClosing, speech.PurposeClosing, h.withEmpathy(msg))
	}

	return simple(speech.ReasonClarify, speech.PurposeClarify, h.withEmpathy("How can I help?"))
}

func (h *Handler) pricingPlan(ctx context.Context, createdAt int64, records []tools.Record, refs []speech.SourceRef, evidenceIDs []string) speech.Plan {
	var price *int64
	for _, rec := range records {
		if rec.Name == "get_pricing" && rec.OK {
			price = parsePriceUSD(rec.Content)
		}
	}
	if price == nil {
		h.p.Metrics.Inc(observe.MetricFallbackUsed, 1)
		msg := h.withEmpathy("I can check pricing for you, but I don't want to guess. What service are you asking about?")
		segs := speech.MicroChunk(h.guard(msg), h.chunkOpts(speech.PurposeClarify))
		return h.buildPlan(createdAt, speech.ReasonError, segs, refs, false)
	}

	ft := llm.FactTemplate{
		Template:     h.withEmpathy("For a general visit, it's [[PRICE]]."),
		Placeholders: map[string]string{"PRICE": fmt.Sprintf("$%d", *price)},
	}
	msg := h.renderFact(ctx, ft)
	segs := speech.MicroChunk(h.guard(msg), h.evidenceOpts(speech.PurposeContent, evidenceIDs))
	return h.buildPlan(createdAt, speech.ReasonContent, segs, refs, false)
}

func (h *Handler) offerSlotsPlan(ctx context.Context, createdAt int64, records []tools.Record, refs []speech.SourceRef, evidenceIDs []string) speech.Plan {
	var slots []string
	for _, rec := range records {
		if rec.Name == "check_availability" && rec.OK {
			slots = parseSlots(rec.Content)
		}
	}
	if len(slots) == 0 {
		h.p.Metrics.Inc(observe.MetricFallbackUsed, 1)
		msg := h.withEmpathy("I'm not seeing openings right now. Do you want to try a different day, or should I have someone call you back?")
		segs := speech.MicroChunk(h.guard(msg), h.chunkOpts(speech.PurposeClarify))
		return h.buildPlan(createdAt, speech.ReasonError, segs, refs, false)
	}

	offer := dialog.SortSlotsByAcceptance(slots)
	if len(offer) > 3 {
		offer = offer[:3]
	}
	h.p.Metrics.Observe(observe.MetricOfferedSlots, int64(len(offer)))

	lead := ""
	if prefix := strings.TrimSpace(h.p.Action.Payload.MessagePrefix); prefix != "" {
		lead = prefix + " "
	}
	body, placeholders := offerLine(offer)
	ft := llm.FactTemplate{
		Template:     h.withEmpathy(lead + body),
		Placeholders: placeholders,
	}
	msg := h.renderFact(ctx, ft)
	segs := speech.MicroChunk(h.guard(msg), h.evidenceOpts(speech.PurposeContent, evidenceIDs))
	return h.buildPlan(createdAt, speech.ReasonContent, segs, refs, false)
}

// withEmpathy prefixes an empathy clause when the payload asks for one and
// the message doesn't already apologize.
func (h *Handler) withEmpathy(msg string) string {
	if !h.p.Action.Payload.NeedsEmpathy {
		return msg
	}
	if strings.Contains(strings.ToLower(msg), "sorry") {
		return msg
	}
	if h.p.Config.Profile == dialog.ProfileB2B {
		return "I hear you. " + msg
	}
	return "I'm sorry about that. " + msg
}

// offerLine sizes the slot list to what the scheduler actually returned so a
// short day never reads past the offer.
func offerLine(offer []string) (string, map[string]string) {
	placeholders := make(map[string]string, len(offer))
	names := make([]string, len(offer))
	for i, slot := range offer {
		key := fmt.Sprintf("SLOT_%d", i+1)
		placeholders[key] = slot
		names[i] = "[[" + key + "]]"
	}
	switch len(offer) {
	case 1:
		return fmt.Sprintf("I have %s. Does that work?", names[0]), placeholders
	case 2:
		return fmt.Sprintf("I have %s or %s. Which works best?", names[0], names[1]), placeholders
	default:
		return fmt.Sprintf("I have %s, %s, or %s. Which works best?", names[0], names[1], names[2]), placeholders
	}
}

func parsePriceUSD(content string) *int64 {
	var parsed struct {
		PriceUSD *float64 `json:"price_usd"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.PriceUSD == nil {
		return nil
	}
	v := int64(*parsed.PriceUSD)
	return &v
}

func parseSlots(content string) []string {
	var parsed struct {
		Slots []string `json:"slots"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil
	}
	return parsed.Slots
}
