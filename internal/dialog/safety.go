package dialog

import "regexp"

// SafetyKind classifies the last user utterance before any policy runs.
type SafetyKind string

const (
	SafetyOK       SafetyKind = "ok"
	SafetyIdentity SafetyKind = "identity"
	SafetyUrgent   SafetyKind = "urgent"
	SafetyClinical SafetyKind = "clinical"
)

// SafetyResult is the outcome of screening one utterance. Message is the
// scripted response for non-ok kinds.
type SafetyResult struct {
	Kind    SafetyKind
	Message string
}

var (
	identityAreYouPat   = regexp.MustCompile(`(?i)\bare you\b`)
	identityKeywordsPat = regexp.MustCompile(`(?i)\b(ai|a\.i\.|artificial intelligence|virtual assistant|human|robot|a person|real person)\b`)
	identityDirectQPat  = regexp.MustCompile(`(?i)\b(ai|human|robot)\?\b`)
	identityRealPat     = regexp.MustCompile(`(?i)\bare you real\b`)
	urgentPat           = regexp.MustCompile(`(?i)\b(chest pain|can't breathe|cannot breathe|suicid(e|al)|stroke|heart attack)\b`)
	clinicalPat         = regexp.MustCompile(`(?i)\b(dosage|dose|mg|milligram|prescription|prescribe|side effects?` +
		`|should i take|can i take|what should i take|how much should i take` +
		`|diagnos(e|is)|treat(ment)?|symptom(s)?|medicine|medication)\b`)
)

// EvaluateUserText screens the caller's text for emergencies, identity
// questions and clinical-advice requests, in that order. Urgency always wins:
// a caller describing chest pain gets the emergency script even if the same
// utterance also asks whether the agent is human.
func EvaluateUserText(text, clinicName string, profile Profile, b2bOrgName string) SafetyResult {
	if urgentPat.MatchString(text) {
		return SafetyResult{
			Kind: SafetyUrgent,
			Message: "If this is a medical emergency, please call 911 or your local emergency number right now. " +
				"If you'd like, I can help connect you to the clinic for next steps once you're safe.",
		}
	}

	if (identityAreYouPat.MatchString(text) && identityKeywordsPat.MatchString(text)) ||
		identityDirectQPat.MatchString(text) || identityRealPat.MatchString(text) {
		msg := "I'm Sarah, the AI assistant for " + clinicName + ". I can help book visits and answer basic questions."
		if profile == ProfileB2B {
			msg = "I'm Cassidy, the AI caller for " + b2bOrgName + ". I can share the report details quickly."
		}
		return SafetyResult{Kind: SafetyIdentity, Message: msg}
	}

	if clinicalPat.MatchString(text) {
		return SafetyResult{
			Kind: SafetyClinical,
			Message: "I can't give medical advice, but I can connect you with a clinician or send a message to the clinic. " +
				"Would you like to book a visit?",
		}
	}

	return SafetyResult{Kind: SafetyOK}
}
