// Package brain drives one call session: the per-call actor that owns every
// piece of mutable conversation state.
//
// The Orchestrator is a single goroutine. It drains the inbound queue with
// control precedence, spawns one turn handler per accepted epoch, gates
// outbound speech on the shared epoch/speak-generation pair, and is the only
// code that touches SlotState, the transcript window, and the conversation
// FSMs. Workers (turn handler, speculator, keepalive, idle watchdog) are
// child goroutines that talk back exclusively through queues and channels.
package brain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/llm"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/outcome"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/tools"
	"github.com/MrWong99/vocalith/internal/trace"
	"github.com/MrWong99/vocalith/internal/transport"
	"github.com/MrWong99/vocalith/internal/turn"
)

// WSState is the transport-side lifecycle of the session.
type WSState string

const (
	WSConnecting WSState = "CONNECTING"
	WSOpen       WSState = "OPEN"
	WSClosing    WSState = "CLOSING"
	WSClosed     WSState = "CLOSED"
)

// ConvState is the conversation-side lifecycle. ENDED is terminal.
type ConvState string

const (
	ConvListening  ConvState = "LISTENING"
	ConvProcessing ConvState = "PROCESSING"
	ConvSpeaking   ConvState = "SPEAKING"
	ConvEnded      ConvState = "ENDED"
)

// Config carries the actor-level knobs. Turn holds the per-turn rendering
// configuration reused for every epoch of the call; the conversation profile
// lives there and is shared by both layers.
type Config struct {
	Turn turn.Config

	// Connect-time platform handshake.
	SpeakFirst               bool
	AutoReconnect            bool
	SendCallDetails          bool
	TranscriptWithToolCalls  bool
	SendUpdateAgentOnConnect bool
	Responsiveness           float64
	InterruptionSensitivity  float64
	ReminderTriggerMS        int64
	ReminderMaxCount         int64

	// Keepalive and liveness.
	PingIntervalMS      int64
	IdleTimeoutMS       int64
	PingWriteDeadlineMS int64

	// Capacity bounds.
	TurnQueueMax            int
	TranscriptMaxUtterances int
	TranscriptMaxChars      int

	// Opener identity. OpenerPlaceholders is merged over the built-in
	// clinic_name/agent_name/org_name set when rendering the scripted
	// greeting.
	B2BAgentName       string
	B2BOrgName         string
	B2BAutoDisclosure  bool
	OpenerPlaceholders map[string]string

	// Latency shavers, all default-off.
	PreAckEnabled             bool
	AgentTurnInterruptEnabled bool

	// Backchannel classifier; maintained but never emitted (the
	// agent_interrupt frame stays reserved).
	BackchannelEnabled       bool
	BackchannelMinIntervalMS int64
	BackchannelMaxIntervalMS int64

	// Speculative planning on user-turn transcript updates.
	SpeculativeEnabled    bool
	SpeculativeDebounceMS int64
	PrefetchEnabled       bool
	PrefetchTimeoutMS     int64
}

// Params wires one Orchestrator. SessionID, CallID, Config, the queues and
// the gate are required; nil Clock, Metrics, Script and Logger get working
// defaults, nil Trace disables tracing, nil Model disables model NLG and
// nil Outcomes discards call outcomes.
type Params struct {
	SessionID string
	CallID    string
	Config    Config

	Clock    clock.Clock
	Metrics  observe.Recorder
	Trace    *trace.Sink
	Inbound  *queue.Queue[transport.InboundItem]
	Outbound *queue.Queue[transport.Envelope]
	Gate     *transport.Gate
	Tools    *tools.Registry
	Model    llm.Client
	Script   *dialog.CallScript
	Outcomes outcome.Sink
	Logger   *slog.Logger
}

// turnRuntime tracks the latency anchors of the epoch in flight. Millisecond
// fields are -1 until observed.
type turnRuntime struct {
	epoch          int64
	finalizedMS    int64
	firstSegmentMS int64
	ackSegmentMS   int64
}

// turnItem is one turn-handler output tagged with the generation of the
// turn that produced it, so outputs of a cancelled turn are recognizably
// stale even within the same epoch.
type turnItem struct {
	gen int64
	out turn.Output
}

// specResult is one finished speculative pre-computation.
type specResult struct {
	TranscriptKey string
	ToolReqKey    string
	Records       []tools.Record
	CreatedAtMS   int64
}

// fastPlanEntry caches the segments of a deterministic scripted turn.
type fastPlanEntry struct {
	reason     speech.PlanReason
	segments   []speech.Segment
	disclosure bool
}

const (
	fastPlanCacheSize = 256
	maxKeptPlans      = 512
	maxKeptOutcomes   = 1024
)

// Orchestrator is the session actor. All fields below p are owned by the
// Run goroutine; the mu-guarded slices and the atomic listening flag are the
// only state read from outside it.
type Orchestrator struct {
	p      Params
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wsState   WSState
	convState ConvState
	listening atomic.Bool
	shutdown  bool

	epoch       int64
	slotState   *dialog.SlotState
	backup      *dialog.SlotState
	backupEpoch int64

	memory        *dialog.ConversationMemory
	transcript    []retell.Utterance
	memorySummary string

	turnQ         *queue.Queue[turn.Output]
	turnGen       int64
	cancelTurnFn  func()
	turnRT        *turnRuntime
	terminalEpoch int64
	needsApology  bool
	disclosed     bool

	cancelSpecFn func()
	specDone     *atomic.Bool
	specKey      string
	specResult   *specResult
	fastPlans    *lru.Cache[string, fastPlanEntry]

	cancelIdleFn func()
	cancelPingFn func()

	inboundCh chan transport.InboundItem
	turnCh    chan turnItem
	specCh    chan specResult

	interruptID int64
	preAckEpoch int64

	backchannel *dialog.BackchannelClassifier

	mu       sync.Mutex
	plans    []speech.Plan
	outcomes []outcome.CallOutcome
}

// New builds the actor for one call. Run must be called exactly once.
func New(p Params) *Orchestrator {
	if p.Clock == nil {
		p.Clock = clock.NewReal()
	}
	if p.Metrics == nil {
		p.Metrics = observe.NewComposite()
	}
	if p.Script == nil {
		p.Script = dialog.DefaultCallScript()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	fastPlans, err := lru.New[string, fastPlanEntry](fastPlanCacheSize)
	if err != nil {
		panic(err)
	}
	o := &Orchestrator{
		p:             p,
		cfg:           p.Config,
		logger:        p.Logger,
		wsState:       WSConnecting,
		convState:     ConvListening,
		backupEpoch:   -1,
		terminalEpoch: -1,
		preAckEpoch:   -1,
		slotState:     dialog.NewSlotState(),
		memory: dialog.NewConversationMemory(
			orDefaultInt(p.Config.TranscriptMaxUtterances, 200),
			orDefaultInt(p.Config.TranscriptMaxChars, 50000),
		),
		fastPlans: fastPlans,
		inboundCh: make(chan transport.InboundItem),
		turnCh:    make(chan turnItem),
		specCh:    make(chan specResult, 1),
	}
	o.listening.Store(true)
	if p.Config.BackchannelEnabled {
		o.backchannel = dialog.NewBackchannelClassifier(
			p.SessionID,
			p.Config.BackchannelMinIntervalMS,
			p.Config.BackchannelMaxIntervalMS,
		)
	}
	return o
}

func orDefaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// SpeechPlans returns every plan the session has spoken, oldest first.
func (o *Orchestrator) SpeechPlans() []speech.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]speech.Plan, len(o.plans))
	copy(out, o.plans)
	return out
}

// Outcomes returns the per-turn outcome records assembled so far.
func (o *Orchestrator) Outcomes() []outcome.CallOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]outcome.CallOutcome, len(o.outcomes))
	copy(out, o.outcomes)
	return out
}

func (o *Orchestrator) keepPlan(plan speech.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans = append(o.plans, plan)
	if len(o.plans) > maxKeptPlans {
		o.plans = o.plans[len(o.plans)-maxKeptPlans:]
	}
}

func (o *Orchestrator) keepOutcome(co outcome.CallOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, co)
	if len(o.outcomes) > maxKeptOutcomes {
		o.outcomes = o.outcomes[len(o.outcomes)-maxKeptOutcomes:]
	}
}
