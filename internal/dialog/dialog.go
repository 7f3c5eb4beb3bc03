// Package dialog decides what the agent does next.
//
// The policy is deliberately rule-based and deterministic: given the same
// slot state and transcript it always returns the same action, which is what
// makes speculative execution and replay verification possible upstream.
// Two conversation profiles ship: a clinic booking intake and a B2B
// cold-call funnel. Safety classification runs before either.
package dialog

// Profile selects which conversation policy drives the call.
type Profile string

const (
	ProfileClinic Profile = "clinic"
	ProfileB2B    Profile = "b2b"
)

// ActionType enumerates everything the policy can ask the turn handler to do.
type ActionType string

const (
	ActionAsk            ActionType = "Ask"
	ActionInform         ActionType = "Inform"
	ActionOfferSlots     ActionType = "OfferSlots"
	ActionConfirm        ActionType = "Confirm"
	ActionRepair         ActionType = "Repair"
	ActionTransfer       ActionType = "Transfer"
	ActionEndCall        ActionType = "EndCall"
	ActionEscalateSafety ActionType = "EscalateSafety"
	ActionNoop           ActionType = "Noop"
)

// ToolRequest names a tool the turn handler should run before speaking.
type ToolRequest struct {
	Name      string
	Arguments map[string]any
}

// Payload carries the per-action details the turn handler renders from.
// Only the fields relevant to the action type are set.
type Payload struct {
	Message       string
	MessagePrefix string
	InfoType      string
	Field         string
	Strategy      string
	Reason        string
	SlotsNeeded   []string

	PhoneLast4  string
	RequestedDT string
	PatientName string
	Phone       string
	Email       string

	RepromptCount int
	NeedsEmpathy  bool
	NeedsApology  bool
	EndCall       bool
	DNC           bool
	Accepted      bool

	// FastPath marks deterministic scripted turns that skip the ACK plan;
	// IntentSignature keys the speech memo cache for them.
	FastPath        bool
	NoProgress      bool
	NoSignal        bool
	SkipAck         bool
	IntentSignature string

	// DisclosureRequired is set by the orchestrator exactly once per call,
	// on the first spoken turn; the turn handler appends the AI disclosure
	// line to that turn's ACK.
	DisclosureRequired bool

	// MemorySummary carries recap context from earlier calls with the same
	// caller, for the model NLG prompt.
	MemorySummary string

	PlaybookObjection ObjectionKind
}

// Action is one policy decision.
type Action struct {
	Type         ActionType
	Payload      Payload
	ToolRequests []ToolRequest
}

// Stage is a step of the B2B funnel.
type Stage string

const (
	StageOpen    Stage = "OPEN"
	StageRouting Stage = "ROUTING"
	StageProblem Stage = "PROBLEM"
	StageValue   Stage = "VALUE"
	StageEmail   Stage = "EMAIL"
	StageEnd     Stage = "END"
)

// Signal is the classification of one user utterance in the B2B funnel.
type Signal string

const (
	SignalNoSignal           Signal = "NO_SIGNAL"
	SignalNewCall            Signal = "NEW_CALL"
	SignalActiveInterest     Signal = "ACTIVE_INTEREST"
	SignalExplicitRejection  Signal = "EXPLICIT_REJECTION"
	SignalAdminBlock         Signal = "ADMIN_BLOCK"
	SignalNotDecisionMaker   Signal = "NOT_DECISION_MAKER"
	SignalNotInterested      Signal = "NOT_INTERESTED"
	SignalPricePush          Signal = "PRICE_PUSH"
	SignalTooBusy            Signal = "TOO_BUSY"
	SignalInternalAlignment  Signal = "INTERNAL_ALIGNMENT"
	SignalAlreadyUsingVendor Signal = "ALREADY_USING_VENDOR"
	SignalBadTime            Signal = "BAD_TIME"
	SignalSoftRejection      Signal = "SOFT_REJECTION"
)

// SlotState is the mutable per-call memory the policy reads and writes.
// The orchestrator clones it before speculative turns and rolls back by
// swapping the clone in.
type SlotState struct {
	Intent               string
	PatientName          string
	Phone                string // normalized ten digits
	PhoneConfirmed       bool
	RequestedDT          string
	RequestedDTConfirmed bool
	ManagerEmail         string

	B2BFunnelStage       Stage
	B2BLastStage         Stage
	B2BLastSignal        Signal
	B2BNoSignalStreak    int
	B2BLastUserSignature string
	B2BAutonomyMode      string
	QuestionDepth        int
	ObjectionPressure    int

	CampaignID string
	ClinicID   string
	ClinicName string
	LeadID     string
	ToNumber   string
	Tenant     string

	Reprompts map[string]int
}

// NewSlotState returns a fresh state at the start of the funnel.
func NewSlotState() *SlotState {
	return &SlotState{
		B2BFunnelStage:  StageOpen,
		B2BLastStage:    StageOpen,
		B2BAutonomyMode: "baseline",
		QuestionDepth:   1,
		Reprompts:       make(map[string]int),
	}
}

// Clone deep-copies the state for speculative execution.
func (s *SlotState) Clone() *SlotState {
	c := *s
	c.Reprompts = make(map[string]int, len(s.Reprompts))
	for k, v := range s.Reprompts {
		c.Reprompts[k] = v
	}
	return &c
}

func (s *SlotState) incReprompt(field string) int {
	if s.Reprompts == nil {
		s.Reprompts = make(map[string]int)
	}
	s.Reprompts[field]++
	return s.Reprompts[field]
}

func (s *SlotState) stage() Stage {
	if s.B2BFunnelStage == "" {
		return StageOpen
	}
	return s.B2BFunnelStage
}

// SensitiveCapture reports whether the call is mid contact-detail capture,
// during which backchannels are suppressed.
func (s *SlotState) SensitiveCapture() bool {
	if s.Intent != "booking" {
		return false
	}
	if !s.PhoneConfirmed {
		return true
	}
	return s.Reprompts["name"] > 0 || s.Reprompts["name_confidence"] > 0
}
