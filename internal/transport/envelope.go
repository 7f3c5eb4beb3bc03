package transport

import "github.com/MrWong99/vocalith/internal/retell"

// Plane separates control traffic from speech on the outbound queue. The
// writer prefers control and may abandon an in-flight speech send for it.
type Plane uint8

const (
	PlaneSpeech Plane = iota
	PlaneControl
)

func (p Plane) String() string {
	if p == PlaneControl {
		return "control"
	}
	return "speech"
}

// Unbound marks a gate field the writer must not compare. Epochs and speak
// generations are never negative.
const Unbound int64 = -1

// Default queue priorities per frame type. Higher wins both when the writer
// picks the next control frame and when a full queue evicts lower-priority
// speech.
const (
	PriorityConfig        = 100
	PriorityTerminal      = 100
	PriorityPreAck        = 96
	PriorityEmptyTerminal = 95
	PriorityUpdateAgent   = 90
	PriorityPing          = 80
	PriorityTool          = 70
	PriorityInterrupt     = 60
	PrioritySegment       = 50
	PriorityAck           = 40
	PriorityFiller        = 20
	PriorityMetadata      = 10
)

// Envelope wraps one outbound frame with its send-time checks. Only Msg is
// serialized; every other field exists for gating and ordering.
type Envelope struct {
	Msg retell.Outbound

	// Epoch and SpeakGen bind the envelope to a turn. Fields left Unbound
	// are not compared against the gate.
	Epoch    int64
	SpeakGen int64

	Priority int
	Plane    Plane

	// EnqueuedMS is the clock reading when the envelope entered the queue.
	// DeadlineMS, when positive, is the relative write budget used to count
	// missed keepalive deadlines.
	EnqueuedMS int64
	DeadlineMS int64
}

// Control builds an ungated control-plane envelope.
func Control(msg retell.Outbound, priority int, enqueuedMS int64) Envelope {
	return Envelope{
		Msg:        msg,
		Epoch:      Unbound,
		SpeakGen:   Unbound,
		Priority:   priority,
		Plane:      PlaneControl,
		EnqueuedMS: enqueuedMS,
	}
}

// Speech builds a speech-plane envelope gated on epoch and speak generation.
func Speech(msg retell.Outbound, epoch, speakGen int64, priority int, enqueuedMS int64) Envelope {
	return Envelope{
		Msg:        msg,
		Epoch:      epoch,
		SpeakGen:   speakGen,
		Priority:   priority,
		Plane:      PlaneSpeech,
		EnqueuedMS: enqueuedMS,
	}
}

// UngatedSpeech builds a speech-plane envelope that is sent regardless of
// the gate, used for metadata and other turn-independent frames.
func UngatedSpeech(msg retell.Outbound, priority int, enqueuedMS int64) Envelope {
	return Envelope{
		Msg:        msg,
		Epoch:      Unbound,
		SpeakGen:   Unbound,
		Priority:   priority,
		Plane:      PlaneSpeech,
		EnqueuedMS: enqueuedMS,
	}
}

// IsControl reports whether an envelope rides the control plane. It doubles
// as the writer's preferred-dequeue predicate.
func IsControl(e Envelope) bool { return e.Plane == PlaneControl }

// Gated reports whether any gate field is bound.
func (e Envelope) Gated() bool { return e.Epoch != Unbound || e.SpeakGen != Unbound }

// Terminal reports whether the envelope carries a content-complete response
// frame. Terminal frames are the correctness boundary: they are never
// evicted and never requeue-raced away.
func (e Envelope) Terminal() bool {
	r, ok := e.Msg.(*retell.ResponseFrame)
	return ok && r.ContentComplete
}

// PlaneFor returns the plane a frame type rides by default.
func PlaneFor(msg retell.Outbound) Plane {
	switch msg.ResponseType() {
	case retell.ResponseTypeConfig, retell.ResponseTypeUpdateAgent, retell.ResponseTypePingPong:
		return PlaneControl
	}
	return PlaneSpeech
}

// DefaultPriority returns the queue priority for a frame type.
func DefaultPriority(msg retell.Outbound) int {
	switch msg.ResponseType() {
	case retell.ResponseTypeConfig:
		return PriorityConfig
	case retell.ResponseTypeUpdateAgent:
		return PriorityUpdateAgent
	case retell.ResponseTypePingPong:
		return PriorityPing
	case retell.ResponseTypeAgentInterrupt:
		return PriorityInterrupt
	case retell.ResponseTypeToolCallInvocation, retell.ResponseTypeToolCallResult:
		return PriorityTool
	case retell.ResponseTypeMetadata:
		return PriorityMetadata
	case retell.ResponseTypeResponse:
		if r, ok := msg.(*retell.ResponseFrame); ok && r.ContentComplete {
			return PriorityTerminal
		}
		return PrioritySegment
	}
	return PrioritySegment
}

// EnqueueEvict returns the eviction predicate applied when the outbound
// queue is full: terminal responses survive, envelopes whose gate fields no
// longer match go first, control is never evicted for speech, and otherwise
// lower priority loses.
func EnqueueEvict(gate *Gate, incoming Envelope) func(Envelope) bool {
	return func(existing Envelope) bool {
		if existing.Terminal() {
			return false
		}
		epoch, speakGen, _ := gate.Snapshot()
		if existing.Epoch != Unbound && existing.Epoch != epoch {
			return true
		}
		if existing.SpeakGen != Unbound && existing.SpeakGen != speakGen {
			return true
		}
		if existing.Plane == PlaneControl && incoming.Plane != PlaneControl {
			return false
		}
		if incoming.Plane == PlaneControl && existing.Plane != PlaneControl {
			return true
		}
		return existing.Priority < incoming.Priority
	}
}
