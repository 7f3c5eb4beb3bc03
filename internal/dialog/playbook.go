package dialog

// PlaybookResult reports whether an objection rewrite was applied to the
// policy's action.
type PlaybookResult struct {
	Action         Action
	MatchedPattern ObjectionKind
	Applied        bool
}

// ApplyPlaybook rewrites the clinic action when the caller raised an
// objection: question-like actions collapse to a single acknowledging Ask,
// and a repeated slot offer gains an acknowledgment prefix. B2B objections
// are handled inside the funnel itself and pass through untouched.
func ApplyPlaybook(action Action, objection ObjectionKind, priorAttempts int, profile Profile) PlaybookResult {
	if objection == "" {
		return PlaybookResult{Action: action}
	}
	if profile == ProfileB2B {
		return PlaybookResult{Action: action, MatchedPattern: objection}
	}

	base := ObjectionResponses[objection]
	if base == "" {
		return PlaybookResult{Action: action, MatchedPattern: objection}
	}

	payload := action.Payload
	payload.PlaybookObjection = objection

	switch action.Type {
	case ActionAsk, ActionRepair, ActionConfirm:
		switch objection {
		case ObjectionPriceShock:
			payload.Message = base + " Do you want the price first, or should I help with times first?"
		case ObjectionTimingConflict:
			payload.Message = base + " Is morning or afternoon better for you?"
		case ObjectionTrustHesitation:
			payload.Message = base + " Do you want me to connect you with the front desk now?"
		default:
			payload.Message = base + " Do you want the soonest opening?"
		}
		return PlaybookResult{
			Action:         Action{Type: ActionAsk, Payload: payload, ToolRequests: action.ToolRequests},
			MatchedPattern: objection,
			Applied:        true,
		}
	case ActionOfferSlots:
		if priorAttempts >= 1 {
			payload.MessagePrefix = base
			return PlaybookResult{
				Action:         Action{Type: action.Type, Payload: payload, ToolRequests: action.ToolRequests},
				MatchedPattern: objection,
				Applied:        true,
			}
		}
	}

	return PlaybookResult{Action: action, MatchedPattern: objection}
}
