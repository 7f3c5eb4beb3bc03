package dialog

import (
	"fmt"
	"regexp"
	"strings"
)

// B2B cold-call funnel: OPEN -> ROUTING -> PROBLEM -> VALUE -> EMAIL, with
// END as the terminal do-not-call exit. Every user turn is classified into a
// Signal, the signal drives the stage transition, and each stage owns one
// scripted question. The whole path is deterministic so repeated calls with
// the same transcript replay identically.

var (
	dncPat        = regexp.MustCompile(`(?i)\b(stop calling|remove me|do not call|don't call|take me off)\b`)
	softRejectPat = regexp.MustCompile(`(?i)\b(not interested|too busy|we are good|we're good|not right now|no thanks)\b`)
	adminBlockPat = regexp.MustCompile(`(?i)\b(receptionist|front desk|with a patient|in a meeting|call back later|busy|manager is not in|can\s*you\s*email\s*)\b`)
	noEmailPat    = regexp.MustCompile(`(?i)\b(don't give out emails?|do not give out emails?|can't give.*email|not allowed to give.*email)\b`)
	whoPat        = regexp.MustCompile(`(?i)\b(who is this|who are you|what is this|is this sales)\b`)
	interestPat   = regexp.MustCompile(`(?i)\b(sure|yes|send it|okay send|go ahead|what's the email)\b`)
	infoEmailPat  = regexp.MustCompile(`(?i)\b(info|contact|admin|frontdesk)@`)
	badTimePat    = regexp.MustCompile(`(?i)\b(not a good time|bad time|not now|too busy|call me later|later|call back later|not right now)\b`)

	notDecisionMakerPat   = regexp.MustCompile(`(?i)\b(not the decision maker|not the right person|not my decision|who can decide|not authorized|can't authorize)\b`)
	notInterestedPat      = regexp.MustCompile(`(?i)\b(not interested|not looking|we are good|we're good|not right now)\b`)
	pricePushPat          = regexp.MustCompile(`(?i)\b(price|cost|pricing|how much|too expensive|budget)\b`)
	tooBusyPat            = regexp.MustCompile(`(?i)\b(too busy|too much going on|in a meeting|busy right now|can you call later|call me back later)\b`)
	internalAlignmentPat  = regexp.MustCompile(`(?i)\b(need approval|need to get approval|internal alignment|run it by|run this by|discuss with)\b`)
	alreadyUsingVendorPat = regexp.MustCompile(`(?i)\b(we already have|we use|already using|already have|existing vendor|current vendor)\b`)

	yesPat            = regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|go on|go ahead|okay|ok|alright|all right|fine)\b`)
	noPat             = regexp.MustCompile(`(?i)\b(no|not now|not today|not a bad time|nope|nah|pass|don't|do not)\b`)
	helloPat          = regexp.MustCompile(`(?i)\b(hello|hi|hey)\b`)
	openNotBadTimePat = regexp.MustCompile(`(?i)\bnot a bad time\b`)
	closeProgressPat  = regexp.MustCompile(`(?i)\b(call me now|close this out|close this call|close the call|hang up|hang up now|end call|end this call)\b`)

	pureGreetingPat  = regexp.MustCompile(`^(?:hello|hi|hey)[.!?]*$`)
	b2bNoiseTokenPat = regexp.MustCompile(`(?i)^(?:u{1,2}h|um{1,3}|mmm?|hmm|ah|eh|er|erm|huh|phew|meh)$`)
	b2bAckNoisePat   = regexp.MustCompile(`(?i)^(?:(?:hey|hi|hello)\s+)?(?:got\s*it|gotcha|i\s+got\s+it|yep\s+got\s+it|yup\s+got\s+it|ya\s+got\s+it|understand\b|understood\b|yep\b|yup\b|ok\b|okay\b|right\b|alright\b|all\s+right)$`)
	gotItTailPat     = regexp.MustCompile(`got\s*it$`)
)

// b2bOntology is checked in order; the first matching pattern wins, so the
// hard do-not-call signal outranks every softer objection.
var b2bOntology = []struct {
	signal Signal
	pat    *regexp.Regexp
}{
	{SignalExplicitRejection, dncPat},
	{SignalAdminBlock, noEmailPat},
	{SignalAdminBlock, adminBlockPat},
	{SignalNotDecisionMaker, notDecisionMakerPat},
	{SignalNotInterested, notInterestedPat},
	{SignalPricePush, pricePushPat},
	{SignalTooBusy, tooBusyPat},
	{SignalInternalAlignment, internalAlignmentPat},
	{SignalAlreadyUsingVendor, alreadyUsingVendorPat},
	{SignalBadTime, badTimePat},
	{SignalSoftRejection, softRejectPat},
	{SignalActiveInterest, interestPat},
}

var b2bObjectionMessages = map[Signal]string{
	SignalNotDecisionMaker:   "Who is the decision maker I should speak to?",
	SignalNotInterested:      "Who should I send this to at your place?",
	SignalPricePush:          "Want me to send one quick pricing summary to the manager?",
	SignalTooBusy:            "I can keep this under 30 seconds. Email the manager?",
	SignalInternalAlignment:  "Who else must approve this before I hand it to the manager?",
	SignalAlreadyUsingVendor: "Who owns this decision on your side?",
	SignalBadTime:            "Should we close this now or send one short manager email?",
	SignalSoftRejection:      "Should we close this now or send one short manager email?",
	SignalAdminBlock:         "Which inbox should I send that to?",
}

const b2bOpenOpener = "Is now a bad time for a quick question?"

func b2bFastPathSignature(stage, next Stage, classification, signal string) string {
	return fmt.Sprintf("b2b:%s:%s:%s:%s", stage, next, classification, signal)
}

func isShortAckNoisePhrase(text string) bool {
	phrase := multiWSPat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	if phrase == "" {
		return false
	}
	if b2bAckNoisePat.MatchString(phrase) {
		return true
	}
	tokens := strings.Fields(nonAlnumRunPat.ReplaceAllString(phrase, " "))
	if len(tokens) == 0 || len(tokens) > 10 {
		return false
	}
	if allInSet(tokens, ackNoiseTokens) {
		return true
	}
	switch tokens[0] {
	case "hey", "hi", "hello":
		switch tokens[len(tokens)-1] {
		case "got", "it", "yep", "yup", "okay", "ok", "gotcha":
			return true
		}
	}
	return false
}

func normalizeB2BNoiseTokens(text string) []string {
	phrase := strings.ToLower(strings.TrimSpace(text))
	return strings.Fields(nonAlnumSpacePat.ReplaceAllString(phrase, " "))
}

func isShortYes(text string) bool {
	t := nonAlphaSpacePat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	t = strings.TrimSpace(multiWSPat.ReplaceAllString(t, " "))
	switch t {
	case "yes", "yeah", "yep", "sure", "ok", "okay", "alright", "all right", "fine", "go ahead":
		return true
	}
	return false
}

func isShortNo(text string) bool {
	t := nonAlphaSpacePat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	t = strings.TrimSpace(multiWSPat.ReplaceAllString(t, " "))
	switch t {
	case "no", "nope", "nah":
		return true
	}
	return false
}

// classifyB2BState maps one user utterance to a funnel Signal. Noise
// suppression runs first, then stage-aware disambiguation: after the
// "bad time?" opener a short "No." grants permission to continue, and on the
// routing question a short "No." is an admin block rather than a rejection.
func classifyB2BState(text string, stage Stage, lastAgent string) Signal {
	t := strings.TrimSpace(text)
	if t == "" {
		return SignalNoSignal
	}

	if pureGreetingPat.MatchString(strings.ToLower(t)) {
		if stage == StageOpen && strings.Contains(strings.ToLower(lastAgent), "bad time") {
			return SignalActiveInterest
		}
		return SignalNewCall
	}

	compact := multiWSPat.ReplaceAllString(t, "")
	tokens := strings.Fields(strings.TrimSpace(nonAlnumSpacePat.ReplaceAllString(strings.ToLower(t), "")))
	phrase := strings.Join(tokens, " ")

	if len(tokens) > 0 && anyInSet(tokens, noisePrefixTokens) {
		for _, tok := range tokens {
			if tok == "got" || tok == "gotcha" {
				return SignalNoSignal
			}
		}
	}
	if isShortAckNoisePhrase(phrase) {
		return SignalNoSignal
	}
	if len(tokens) > 0 && len(tokens) <= 8 && allInSet(tokens, ackNoiseTokens) {
		return SignalNoSignal
	}
	if len(tokens) > 0 {
		if b2bAckNoisePat.MatchString(phrase) {
			return SignalNoSignal
		}
		if len(tokens) <= 3 && gotItTailPat.MatchString(phrase) {
			return SignalNoSignal
		}
	}
	if noSignalCharPat.MatchString(compact) {
		return SignalNoSignal
	}
	if isRepeatedRune(compact) && !firstRuneAlnum(compact) {
		return SignalNoSignal
	}
	switch strings.ToLower(compact) {
	case "??", "!!", "~~", "--", "__", "...":
		return SignalNoSignal
	}

	if helloPat.MatchString(t) {
		return SignalActiveInterest
	}

	agent := strings.ToLower(lastAgent)
	if stage == StageOpen && strings.Contains(agent, "bad time") {
		if isShortNo(t) {
			return SignalActiveInterest
		}
		if isShortYes(t) {
			return SignalBadTime
		}
		if openNotBadTimePat.MatchString(t) {
			return SignalActiveInterest
		}
	}

	if stage == StageRouting && (strings.Contains(agent, "routing") || strings.Contains(agent, "person handling")) {
		if isShortNo(t) {
			return SignalAdminBlock
		}
	}

	if extractEmail(t) != "" {
		return SignalActiveInterest
	}

	for _, entry := range b2bOntology {
		if entry.pat.MatchString(t) {
			return entry.signal
		}
	}

	if whoPat.MatchString(t) {
		return SignalSoftRejection
	}
	if yesPat.MatchString(t) {
		return SignalActiveInterest
	}
	if noPat.MatchString(t) {
		return SignalSoftRejection
	}
	return SignalNewCall
}

// isB2BNoiseOnlyInput is a stricter gate than classifyB2BState: it decides
// whether the utterance should produce no reply at all. A bare greeting is
// not noise; it restarts the opener.
func isB2BNoiseOnlyInput(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	compact := multiWSPat.ReplaceAllString(t, "")
	lower := multiWSPat.ReplaceAllString(strings.ToLower(t), " ")
	if pureGreetingPat.MatchString(lower) {
		return false
	}
	tokens := normalizeB2BNoiseTokens(lower)
	if len(tokens) > 0 && len(tokens) <= 8 && allInSet(tokens, ackNoiseTokens) {
		return true
	}
	if len(tokens) > 0 && anyInSet(tokens, noisePrefixTokens) {
		for _, tok := range tokens {
			switch tok {
			case "got", "gotcha", "it", "yep", "yup":
				return true
			}
		}
	}
	if b2bNoiseTokenPat.MatchString(lower) {
		return true
	}
	switch nonAlphaPat.ReplaceAllString(lower, "") {
	case "u", "uh", "um", "huh", "hmm", "hm", "ah":
		return true
	}
	if isShortAckNoisePhrase(lower) {
		return true
	}
	words := strings.Fields(nonAlnumSpacePat.ReplaceAllString(lower, " "))
	if len(words) > 0 && len(words) <= 4 && b2bAckNoisePat.MatchString(strings.Join(words, " ")) {
		return true
	}
	if noSignalCharPat.MatchString(compact) {
		return true
	}
	if isRepeatedRune(compact) && !firstRuneAlnum(compact) {
		return true
	}
	return false
}

// normalizedUserSignature is the policy-side twin of UserSignature with a
// shorter cap and filler-token passthrough; it feeds SlotState so the
// repeat-suppression comparison survives speculative clones.
func normalizedUserSignature(text string) string {
	compact := multiWSPat.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	if compact == "" {
		return ""
	}
	if isRepeatedRune(compact) && !firstRuneAlnum(compact) {
		return compact
	}
	alpha := nonAlnumPat.ReplaceAllString(compact, "")
	if alpha == "" {
		return compact
	}
	switch alpha {
	case "u", "uh", "um", "hmm", "hm", "ah", "uhm":
		return alpha
	}
	if len(alpha) > 80 {
		alpha = alpha[:80]
	}
	return alpha
}

// isRepeatedNoProgress reports whether a detected no-intent input repeats the
// previous turn's, in which case the stage question must not be re-asked.
func isRepeatedNoProgress(currentStage Stage, detected Signal, prevStage Stage, prevSignal Signal, prevStreak int, prevSig, currentSig string) bool {
	if prevStage != currentStage {
		return false
	}
	if detected != SignalNewCall && detected != SignalNoSignal {
		return false
	}
	if currentSig != strings.TrimSpace(prevSig) {
		return false
	}
	if prevSignal != SignalNoSignal && prevSignal != SignalNewCall {
		return false
	}
	return prevStreak > 0
}

func nextB2BStage(current Stage, classification Signal, lastUser string) Stage {
	if current == StageEmail {
		return StageEmail
	}
	if classification == SignalExplicitRejection {
		return StageEnd
	}

	switch current {
	case StageOpen:
		if classification == SignalActiveInterest || yesPat.MatchString(lastUser) {
			return StageRouting
		}
		return StageOpen
	case StageRouting:
		if classification == SignalActiveInterest || yesPat.MatchString(lastUser) {
			return StageProblem
		}
		if classification == SignalSoftRejection {
			return StageValue
		}
		if interestPat.MatchString(lastUser) {
			return StageProblem
		}
		return StageRouting
	case StageProblem:
		if yesPat.MatchString(lastUser) || softRejectPat.MatchString(lastUser) {
			return StageValue
		}
		return StageProblem
	case StageValue:
		if yesPat.MatchString(lastUser) {
			return StageEmail
		}
		if softRejectPat.MatchString(lastUser) {
			return StageValue
		}
		if classification == SignalActiveInterest {
			return StageEmail
		}
		return StageValue
	}
	return current
}

// updateB2BAdaptiveState tracks objection pressure and question depth across
// turns. Pressure selects the autonomy mode; depth decides when a follow-up
// question is appended to the stage message.
func updateB2BAdaptiveState(state *SlotState, classification Signal, lastUser string, current, next Stage) {
	pressure := state.ObjectionPressure
	switch classification {
	case SignalBadTime, SignalSoftRejection, SignalAdminBlock, SignalExplicitRejection,
		SignalNotDecisionMaker, SignalNotInterested, SignalPricePush, SignalTooBusy,
		SignalInternalAlignment, SignalAlreadyUsingVendor:
		pressure++
	case SignalActiveInterest:
		pressure = max(0, pressure-1)
	}
	if negSentPat.MatchString(lastUser) {
		pressure++
	}
	pressure = min(6, max(0, pressure))
	state.ObjectionPressure = pressure

	switch {
	case pressure >= 3:
		state.B2BAutonomyMode = "assertive"
	case pressure == 0:
		state.B2BAutonomyMode = "conservative"
	default:
		state.B2BAutonomyMode = "baseline"
	}

	depth := max(1, state.QuestionDepth)
	switch classification {
	case SignalSoftRejection, SignalAdminBlock:
		depth = min(4, depth+1)
	case SignalActiveInterest:
		depth = max(1, depth-1)
	}
	if current == StageOpen && next == StageRouting && !yesPat.MatchString(lastUser) {
		depth = min(4, max(1, depth+1))
	}
	state.QuestionDepth = max(1, depth)
}

// adaptB2BMessage appends one depth question when the conversation has
// stalled, but never stacks a second question onto a message that already
// ends with one.
func adaptB2BMessage(message string, state *SlotState, classification Signal, stage Stage) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	switch classification {
	case SignalNotDecisionMaker, SignalNotInterested, SignalPricePush, SignalTooBusy,
		SignalInternalAlignment, SignalAlreadyUsingVendor, SignalBadTime:
		return msg
	}

	if state.QuestionDepth > 2 && !strings.HasSuffix(msg, "?") {
		var followUp string
		switch stage {
		case StageOpen:
			followUp = "Want this in under 60 seconds?"
		case StageRouting:
			followUp = "Who should I route this to?"
		case StageProblem:
			followUp = "Is that common now?"
		case StageValue:
			followUp = "Want the quick report now?"
		}
		if followUp != "" {
			msg = msg + " " + followUp
		}
	}
	return msg
}

func objectionMessage(classification Signal, lastUser string, needsEmpathy bool, stage Stage) string {
	msg := b2bObjectionMessages[classification]
	if msg == "" {
		switch stage {
		case StageOpen:
			msg = "Not a pitch. Who can help confirm this for the manager?"
		case StageRouting:
			msg = "What is the best way to get this to the manager?"
		case StageProblem:
			msg = "Would a short manager email be useful now?"
		case StageValue:
			msg = "Would you like me to send a short manager summary email?"
		default:
			msg = "What is the best email for the manager?"
		}
	}
	if needsEmpathy && negSentPat.MatchString(lastUser) && !strings.HasPrefix(msg, "I hear you") {
		msg = "I hear you. " + msg
	}
	return msg
}

func noopSignalPayload(intentSignature string) Payload {
	return Payload{
		NoProgress:      true,
		NoSignal:        true,
		FastPath:        true,
		SkipAck:         true,
		IntentSignature: intentSignature,
	}
}

// advanceB2BState moves the funnel one step and produces the stage message.
// Objection classes override the stage question; the adaptive pass may then
// append a depth follow-up.
func advanceB2BState(state *SlotState, classification Signal, lastUser string, needsEmpathy bool) (Stage, Payload) {
	current := state.stage()
	next := nextB2BStage(current, classification, lastUser)
	state.B2BFunnelStage = next

	var msg string
	switch next {
	case StageOpen:
		switch {
		case classification == SignalNewCall:
			msg = b2bOpenOpener
		case classification == SignalBadTime:
			msg = "Do you want to close now or send a short manager email?"
		case badTimePat.MatchString(lastUser):
			msg = "Do you want to close now or send a short manager email?"
		case whoPat.MatchString(lastUser):
			msg = "Not a pitch. Who handles manager follow-up today?"
		case softRejectPat.MatchString(lastUser):
			msg = "Do you want to close this call or send a short manager email?"
		case adminBlockPat.MatchString(lastUser):
			msg = "Which inbox should I send this to?"
		default:
			msg = b2bOpenOpener
		}
	case StageRouting:
		if softRejectPat.MatchString(lastUser) {
			msg = "Close this call or send one short manager email?"
		} else {
			msg = "What is the best way to get a short email to the manager?"
		}
	case StageProblem:
		msg = "What happens after hours when someone calls and leaves a voicemail?"
	case StageValue:
		msg = "Would it help if new leads got a reply in under a minute, even after hours?"
	default:
		msg = "What is the best email for the manager?"
	}
	if _, ok := b2bObjectionMessages[classification]; ok {
		msg = objectionMessage(classification, lastUser, needsEmpathy, current)
	}

	updateB2BAdaptiveState(state, classification, lastUser, current, next)
	msg = adaptB2BMessage(msg, state, classification, next)

	return next, Payload{
		SlotsNeeded:     []string{"manager_email"},
		Message:         msg,
		FastPath:        true,
		IntentSignature: b2bFastPathSignature(current, next, string(classification), "fast_path"),
	}
}

// recordingFollowupRequest packages the post-call follow-up delivery with
// every routing identifier the downstream sender needs.
func recordingFollowupRequest(state *SlotState, callID, reason string) ToolRequest {
	tenant := state.Tenant
	if tenant == "" {
		tenant = "synthetic_medspa"
	}
	toNumber := state.ToNumber
	if toNumber == "" {
		toNumber = state.Phone
	}
	return ToolRequest{
		Name: "send_call_recording_followup",
		Arguments: map[string]any{
			"tenant":          strings.TrimSpace(tenant),
			"campaign_id":     strings.TrimSpace(state.CampaignID),
			"clinic_id":       strings.TrimSpace(state.ClinicID),
			"lead_id":         strings.TrimSpace(state.LeadID),
			"call_id":         strings.TrimSpace(callID),
			"to_number":       strings.TrimSpace(toNumber),
			"recipient_email": strings.TrimSpace(state.ManagerEmail),
			"recipient_phone": strings.TrimSpace(state.Phone),
			"channel":         "twilio_sms",
			"next_step":       "recording_followup",
			"reason":          reason,
		},
	}
}
