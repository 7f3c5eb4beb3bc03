package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/vocalith/internal/llm"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/tools"
)

var errModelTimeout = errors.New("turn: model response timed out")

const personaTemplate = `You are Sarah, a warm front-desk coordinator for %s, %s, %s.

Primary goal: help book appointments, answer basic non-clinical questions, and route clinical questions safely.

Truthfulness:
- Never claim to be human.
- Never invent prices, appointment availability, or eligibility. Use tools for facts.

Voice style (Retell text semantics):
- Warm, slightly chatty, hospitable.
- Short breath groups; light fillers; occasional self-corrections.

Retell pacing and "read slowly":
- Pauses are represented by spaced dashes: " - " (do not output SSML by default).
- When reading phone numbers or confirmation codes, separate digits with spaced dashes:
  Example: 2 - 1 - 3 - 4`

func personaPrompt(clinicName, clinicCity, clinicState string) string {
	return fmt.Sprintf(personaTemplate, clinicName, clinicCity, clinicState)
}

// buildModelPrompt keeps the contract short: the model only phrases
// non-factual turns, so the hard constraints travel with every request.
func (h *Handler) buildModelPrompt(records []tools.Record) string {
	cfg := h.p.Config

	payloadJSON, err := retell.CanonicalString(h.p.Action.Payload)
	if err != nil {
		payloadJSON = "{}"
	}
	transcript := h.p.Transcript
	if transcript == nil {
		transcript = []retell.Utterance{}
	}
	transcriptJSON, err := retell.CanonicalString(transcript)
	if err != nil {
		transcriptJSON = "[]"
	}
	toolSummary := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		toolSummary = append(toolSummary, map[string]any{
			"name":    rec.Name,
			"ok":      rec.OK,
			"content": rec.Content,
		})
	}
	toolJSON, err := retell.CanonicalString(toolSummary)
	if err != nil {
		toolJSON = "[]"
	}

	return personaPrompt(cfg.ClinicName, cfg.ClinicCity, cfg.ClinicState) + "\n\n" +
		"Task: write the single next utterance for the clinic assistant.\n" +
		"Hard constraints:\n" +
		"- Do not claim to be human.\n" +
		"- Do not invent any numbers, prices, times, dates, or availability.\n" +
		"- Use plain words an 8th grader can understand.\n" +
		"- Never explain your internal reasoning.\n" +
		"- Keep it short (1-2 sentences).\n" +
		"- Use Retell dash pauses for pacing (spaced dashes: ' - ').\n\n" +
		"action_type=" + string(h.p.Action.Type) + "\n" +
		"action_payload=" + payloadJSON + "\n" +
		"transcript=" + transcriptJSON + "\n" +
		"tool_records=" + toolJSON + "\n\n" +
		"Return only the text to say."
}

// streamModelContent phrases the turn through the model, chunking deltas
// into plans as sentences complete. A filler covers slow first tokens, a
// hard timeout and any invented digit abort to the deterministic clarify
// line when no content made it out.
func (h *Handler) streamModelContent(ctx context.Context, records []tools.Record) error {
	cfg := h.p.Config
	prompt := h.buildModelPrompt(records)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := h.p.Model.StreamText(streamCtx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The stream never opened; speak the clarify line instead of
		// leaving the turn silent.
		h.p.Metrics.Inc(observe.MetricFallbackUsed, 1)
		h.emitClarifyFallback()
		return nil
	}

	fillerCh := make(chan error, 1)
	go func() { fillerCh <- h.p.Clock.SleepMS(streamCtx, cfg.ModelFillerThresholdMS) }()
	timeoutCh := make(chan error, 1)
	go func() { timeoutCh <- h.p.Clock.SleepMS(streamCtx, cfg.ModelTimeoutMS) }()

	chunker := &speech.StreamingChunker{
		MaxExpectedMS:        cfg.MaxSegmentExpectedMS,
		PaceMSPerChar:        cfg.PaceMSPerChar,
		Purpose:              speech.PurposeContent,
		Interruptible:        true,
		Markup:               cfg.Markup,
		DashPauseUnitMS:      cfg.DashPauseUnitMS,
		DigitDashPauseUnitMS: cfg.DigitDashPauseUnitMS,
		PauseScope:           cfg.PauseScope,
	}

	var fillerSent, contentEmitted, digitViolation, timedOut bool

	emitContent := func(segs []speech.Segment) {
		if len(segs) == 0 {
			return
		}
		contentEmitted = true
		h.emitPlan(h.buildPlan(h.p.Clock.NowMS(), speech.ReasonContent, segs, nil, false))
	}

	// consume reports whether the stream is exhausted.
	consume := func(chunk llm.Chunk, ok bool) bool {
		if !ok || chunk.Err != nil {
			return true
		}
		delta := h.guard(chunk.Text)
		if delta == "" {
			return false
		}
		if strings.ContainsAny(delta, "0123456789") {
			digitViolation = true
			return true
		}
		emitContent(chunker.Push(delta))
		return false
	}

loop:
	for {
		// The filler only fires while nothing has been said yet.
		fillerWait := fillerCh
		if fillerSent || contentEmitted {
			fillerWait = nil
		}

		// Tokens win ties against the timers.
		select {
		case chunk, ok := <-ch:
			if consume(chunk, ok) {
				break loop
			}
			continue
		default:
		}

		select {
		case chunk, ok := <-ch:
			if consume(chunk, ok) {
				break loop
			}
		case err := <-timeoutCh:
			if err != nil {
				return err
			}
			h.p.Metrics.Inc(observe.MetricFallbackUsed, 1)
			timedOut = true
			break loop
		case err := <-fillerWait:
			if err != nil {
				return err
			}
			fillerSent = true
			text := h.guard(h.pickPhrase(h.p.Script.FillerFirst, "FILLER", 0))
			segs := speech.MicroChunk(text, h.chunkOpts(speech.PurposeFiller))
			h.emitPlan(h.buildPlan(h.p.Clock.NowMS(), speech.ReasonFiller, segs, nil, false))
		}
	}

	if !digitViolation && !timedOut {
		emitContent(chunker.FlushFinal())
	}
	if (digitViolation || timedOut) && !contentEmitted {
		h.p.Metrics.Inc(observe.MetricFallbackUsed, 1)
		h.emitClarifyFallback()
	}
	return nil
}

func (h *Handler) emitClarifyFallback() {
	segs := speech.MicroChunk(
		h.guard("Sorry-one moment. Could you say that again?"),
		h.chunkOpts(speech.PurposeClarify),
	)
	h.emitPlan(h.buildPlan(h.p.Clock.NowMS(), speech.ReasonClarify, segs, nil, false))
}

// renderFact rewrites a fact template with warmer phrasing when enabled,
// falling back to the plain rendering whenever the rewrite breaks a
// placeholder, adds a digit, times out, or errors.
func (h *Handler) renderFact(ctx context.Context, ft llm.FactTemplate) string {
	cfg := h.p.Config
	if !cfg.FactPhrasingEnabled || h.p.Model == nil {
		return ft.Render()
	}

	prompt := "Rewrite this clinic assistant response with warmer phrasing.\n" +
		"Hard constraints:\n" +
		"- Keep all placeholder tokens exactly unchanged.\n" +
		"- Do not add any numbers.\n" +
		"- Keep it short (1-2 sentences).\n\n" +
		"TEXT: " + ft.Template + "\n" +
		"Return only rewritten text."

	rewritten, err := h.collectModelText(ctx, prompt, max(200, cfg.ModelTimeoutMS))
	if err == nil {
		rewritten = strings.TrimSpace(rewritten)
		if llm.ValidateRewrite(rewritten, ft.RequiredTokens()) {
			return ft.RenderText(rewritten)
		}
	}
	h.p.Metrics.Inc(observe.MetricFactGuardFallback, 1)
	return ft.Render()
}

// collectModelText drains one stream into a string, bounded by timeoutMS on
// the session clock.
func (h *Handler) collectModelText(ctx context.Context, prompt string, timeoutMS int64) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := h.p.Model.StreamText(streamCtx, prompt)
	if err != nil {
		return "", err
	}

	timeoutCh := make(chan error, 1)
	go func() { timeoutCh <- h.p.Clock.SleepMS(streamCtx, timeoutMS) }()

	var b strings.Builder
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return "", chunk.Err
			}
			b.WriteString(chunk.Text)
		case err := <-timeoutCh:
			if err != nil {
				return "", err
			}
			return "", errModelTimeout
		}
	}
}
