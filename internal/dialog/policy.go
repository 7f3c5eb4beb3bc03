package dialog

import (
	"github.com/MrWong99/vocalith/internal/retell"
)

// Input carries one turn's worth of context into Decide.
type Input struct {
	State        *SlotState
	Transcript   []retell.Utterance
	NeedsApology bool
	Safety       SafetyResult
	CallID       string
	Profile      Profile
}

// Decide is the deterministic dialogue policy. It mutates the slot state
// (captured slots, reprompt counters, funnel bookkeeping) and returns the
// next action; tools are never executed here, only requested.
func Decide(in Input) Action {
	state := in.State
	lastUser := retell.LastUserText(in.Transcript)
	needsEmpathy := negSentPat.MatchString(lastUser)

	// Every payload carries the sentiment flag regardless of branch.
	act := func(t ActionType, p Payload, reqs ...ToolRequest) Action {
		p.NeedsEmpathy = needsEmpathy
		return Action{Type: t, Payload: p, ToolRequests: reqs}
	}

	switch in.Safety.Kind {
	case SafetyUrgent:
		return act(ActionEscalateSafety, Payload{Reason: "urgent", Message: in.Safety.Message, NeedsApology: in.NeedsApology})
	case SafetyIdentity:
		return act(ActionInform, Payload{InfoType: "identity", Message: in.Safety.Message, NeedsApology: in.NeedsApology})
	case SafetyClinical:
		return act(ActionEscalateSafety, Payload{Reason: "clinical", Message: in.Safety.Message, NeedsApology: in.NeedsApology})
	}

	if closeProgressPat.MatchString(lastUser) {
		c := state.incReprompt("b2b_close_request")
		msg := "What manager email should I send this to?"
		if c > 1 {
			msg = "What is the best manager email to send this to?"
		}
		return act(ActionAsk, Payload{
			SlotsNeeded:     []string{"manager_email"},
			Message:         msg,
			FastPath:        true,
			IntentSignature: "b2b:close_progress:ask",
		})
	}

	if in.Profile == ProfileB2B {
		return decideB2B(in, state, lastUser, needsEmpathy, act)
	}
	return decideClinic(in, state, lastUser, act)
}

func decideB2B(in Input, state *SlotState, lastUser string, needsEmpathy bool, act func(ActionType, Payload, ...ToolRequest) Action) Action {
	currentSig := normalizedUserSignature(lastUser)
	stage := state.stage()
	prevStage := state.B2BLastStage
	if prevStage == "" {
		prevStage = stage
	}
	prevSignal := state.B2BLastSignal
	prevStreak := state.B2BNoSignalStreak
	prevSig := state.B2BLastUserSignature

	if isB2BNoiseOnlyInput(lastUser) {
		sig := "b2b:" + string(state.stage()) + ":noise_only"
		if isRepeatedNoProgress(stage, SignalNoSignal, prevStage, prevSignal, prevStreak, prevSig, currentSig) {
			sig = "b2b:" + string(state.stage()) + ":repeated_noise"
		}
		state.B2BLastStage = state.stage()
		state.B2BLastSignal = SignalNoSignal
		state.B2BNoSignalStreak++
		state.B2BLastUserSignature = currentSig
		return act(ActionNoop, noopSignalPayload(sig))
	}

	if email := extractEmail(lastUser); email != "" {
		state.ManagerEmail = email
		if infoEmailPat.MatchString(email) {
			if c := state.incReprompt("direct_email"); c <= 1 {
				return act(ActionAsk, Payload{
					SlotsNeeded:     []string{"direct_email"},
					Message:         "I can send there, but those inboxes often miss fast items. Do you have a direct manager email?",
					NeedsApology:    in.NeedsApology,
					RepromptCount:   c,
					FastPath:        true,
					IntentSignature: "b2b:generic_email:ask",
				})
			}
		}
		return act(ActionEndCall, Payload{
			Message:         "I can send to " + email + " now, then send a follow-up if needed.",
			EndCall:         true,
			Email:           email,
			NeedsApology:    in.NeedsApology,
			Accepted:        true,
			FastPath:        true,
			IntentSignature: "b2b:" + string(stage) + ":generic_email:accept_generic",
		})
	}

	lastAgent := retell.LastAgentText(in.Transcript)
	state.B2BLastUserSignature = currentSig
	b2bState := classifyB2BState(lastUser, stage, lastAgent)
	state.B2BLastStage = stage
	state.B2BLastSignal = b2bState

	if b2bState == SignalNoSignal || b2bState == SignalNewCall {
		state.B2BNoSignalStreak = prevStreak + 1

		if isRepeatedNoProgress(stage, b2bState, prevStage, prevSignal, prevStreak, prevSig, currentSig) {
			return act(ActionNoop, noopSignalPayload(
				b2bFastPathSignature(stage, stage, "repeated_no_signal", string(b2bState))))
		}
		if b2bState == SignalNoSignal {
			return act(ActionNoop, noopSignalPayload(
				b2bFastPathSignature(stage, stage, "no_signal", string(b2bState))))
		}
		// A first greeting in a stage is a valid opener; a greeting repeated
		// on top of a no-intent turn is not.
		if (prevSignal == SignalNoSignal || prevSignal == SignalNewCall) && prevStage == stage {
			return act(ActionNoop, noopSignalPayload(
				b2bFastPathSignature(stage, stage, "repeated_new_call", string(b2bState))))
		}
	} else {
		state.B2BNoSignalStreak = 0
	}

	if b2bState == SignalExplicitRejection {
		return act(ActionEndCall, Payload{
			Message:         "Thanks, I won't call again. Goodbye.",
			EndCall:         true,
			DNC:             true,
			FastPath:        true,
			IntentSignature: b2bFastPathSignature(stage, StageEnd, string(SignalExplicitRejection), "state"),
			NeedsApology:    in.NeedsApology,
		},
			ToolRequest{Name: "mark_dnc_compliant", Arguments: map[string]any{"reason": "USER_REQUEST"}},
			recordingFollowupRequest(state, in.CallID, "explicit_rejection"),
		)
	}

	if b2bState == SignalBadTime {
		// Bad time is not a do-not-call signal; offer one close-or-send choice.
		c := state.incReprompt("b2b_bad_time")
		if c > 1 {
			return act(ActionAsk, Payload{
				SlotsNeeded:     []string{"manager_email"},
				Message:         "What is the best manager email to send this to?",
				NeedsApology:    in.NeedsApology,
				FastPath:        true,
				IntentSignature: "b2b:" + string(stage) + ":bad_time_reprompt",
			})
		}
		return act(ActionAsk, Payload{
			SlotsNeeded:     []string{"manager_email"},
			Message:         "Do you want to close this or send one short manager email?",
			NeedsApology:    in.NeedsApology,
			FastPath:        true,
			IntentSignature: "b2b:" + string(stage) + ":bad_time_init",
		})
	}

	next, payload := advanceB2BState(state, b2bState, lastUser, needsEmpathy)

	if whoPat.MatchString(lastUser) {
		// Answer identity checks without reopening the funnel.
		return act(ActionInform, Payload{
			InfoType:        "b2b_identity",
			Message:         "Not a sales pitch. I can send a short summary to the manager.",
			FastPath:        true,
			IntentSignature: b2bFastPathSignature(stage, stage, "identity_followup", "IDENTITY"),
		})
	}

	if next == StageEnd {
		return act(ActionEndCall, Payload{
			Message:         "Thanks, I won't call again. Goodbye.",
			EndCall:         true,
			DNC:             true,
			FastPath:        true,
			IntentSignature: b2bFastPathSignature(stage, StageEnd, string(SignalExplicitRejection), "transition"),
			NeedsApology:    in.NeedsApology,
		},
			ToolRequest{Name: "mark_dnc_compliant", Arguments: map[string]any{"reason": "USER_REQUEST"}},
			recordingFollowupRequest(state, in.CallID, "journey_end"),
		)
	}

	return act(ActionAsk, payload)
}

func decideClinic(in Input, state *SlotState, lastUser string, act func(ActionType, Payload, ...ToolRequest) Action) Action {
	// Capture slots from the last user turn. A changed phone or time revokes
	// its earlier confirmation.
	if phone := extractPhoneDigits(lastUser); phone != "" {
		if state.Phone != "" && phone != state.Phone {
			state.PhoneConfirmed = false
		}
		state.Phone = phone
	}
	if name := extractName(lastUser); name != "" {
		state.PatientName = name
	}
	if dt := extractRequestedDT(lastUser); dt != "" {
		if state.RequestedDT != "" && dt != state.RequestedDT {
			state.RequestedDTConfirmed = false
		}
		state.RequestedDT = dt
	}

	wantsBooking := bookPat.MatchString(lastUser)
	asksPrice := pricePat.MatchString(lastUser)
	asksAvail := wantsBooking || availPat.MatchString(lastUser)

	if wantsBooking {
		state.Intent = "booking"
	}

	if state.Intent == "booking" {
		if state.PatientName == "" {
			c := state.incReprompt("name")
			if c > 2 {
				return act(ActionAsk, Payload{
					SlotsNeeded:   []string{"callback_name"},
					Message:       "What name should I use?",
					NeedsApology:  in.NeedsApology,
					RepromptCount: c,
				})
			}
			strategy := "ask"
			if c >= 2 {
				strategy = "spell"
			}
			return act(ActionRepair, Payload{
				Field:         "name",
				Strategy:      strategy,
				NeedsApology:  in.NeedsApology,
				RepromptCount: c,
			})
		}

		if !nameConfidenceHigh(state.PatientName) {
			c := state.incReprompt("name_confidence")
			if c > 2 {
				return act(ActionAsk, Payload{
					SlotsNeeded:   []string{"callback_name"},
					Message:       "Can you spell your name for me?",
					NeedsApology:  in.NeedsApology,
					RepromptCount: c,
				})
			}
			return act(ActionRepair, Payload{
				Field:         "name",
				Strategy:      "spell",
				NeedsApology:  in.NeedsApology,
				RepromptCount: c,
			})
		}

		if state.Phone == "" {
			c := state.incReprompt("phone")
			if c > 2 {
				return act(ActionAsk, Payload{
					SlotsNeeded:   []string{"callback_phone"},
					Message:       "What number should we call you back on?",
					NeedsApology:  in.NeedsApology,
					RepromptCount: c,
				})
			}
			return act(ActionAsk, Payload{
				SlotsNeeded:   []string{"phone"},
				Message:       "What's your phone number?",
				NeedsApology:  in.NeedsApology,
				RepromptCount: c,
			})
		}

		if !state.PhoneConfirmed {
			// Confirm the last four digits rather than reading the full
			// number back.
			state.PhoneConfirmed = true
			return act(ActionConfirm, Payload{
				Field:        "phone_last4",
				PhoneLast4:   state.Phone[len(state.Phone)-4:],
				NeedsApology: in.NeedsApology,
			})
		}

		if state.RequestedDT == "" {
			c := state.incReprompt("dt")
			return act(ActionAsk, Payload{
				SlotsNeeded:   []string{"preferred_day_time"},
				Message:       "What day works best for you?",
				NeedsApology:  in.NeedsApology,
				RepromptCount: c,
			})
		}

		if !state.RequestedDTConfirmed {
			state.RequestedDTConfirmed = true
			return act(ActionConfirm, Payload{
				Field:        "requested_dt",
				RequestedDT:  state.RequestedDT,
				NeedsApology: in.NeedsApology,
			})
		}

		return act(ActionOfferSlots, Payload{
			RequestedDT:  state.RequestedDT,
			PatientName:  state.PatientName,
			Phone:        state.Phone,
			NeedsApology: in.NeedsApology,
		}, ToolRequest{Name: "check_availability", Arguments: map[string]any{"requested_dt": state.RequestedDT}})
	}

	if asksPrice {
		return act(ActionInform,
			Payload{InfoType: "pricing", NeedsApology: in.NeedsApology},
			ToolRequest{Name: "get_pricing", Arguments: map[string]any{"service_id": "general"}})
	}

	if asksAvail {
		if state.RequestedDT == "" {
			return act(ActionAsk, Payload{
				SlotsNeeded:  []string{"preferred_day_time"},
				Message:      "Sure. What day are you aiming for?",
				NeedsApology: in.NeedsApology,
			})
		}
		return act(ActionOfferSlots,
			Payload{RequestedDT: state.RequestedDT, NeedsApology: in.NeedsApology},
			ToolRequest{Name: "check_availability", Arguments: map[string]any{"requested_dt": state.RequestedDT}})
	}

	return act(ActionAsk, Payload{
		SlotsNeeded:  []string{"request"},
		Message:      "How can I help today?",
		NeedsApology: in.NeedsApology,
	})
}
