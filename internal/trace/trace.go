// Package trace records the deterministic event log of a session.
//
// Every externally visible action (frame accepted, segment emitted, stale
// drop, state change) lands here as a hashed event. Two runs that produce
// the same event stream produce the same replay digest, which is how the
// end-to-end tests pin down scheduling-sensitive behaviour without
// inspecting internals.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/vocalith/internal/retell"
)

// Event is one trace record. SegmentHash is empty for non-speech events.
type Event struct {
	Seq         int64
	TMS         int64
	SessionID   string
	CallID      string
	TurnID      int64
	Epoch       int64
	WSState     string
	ConvState   string
	EventType   string
	PayloadHash string
	SegmentHash string
}

// HashPayload hashes an arbitrary payload via canonical JSON.
func HashPayload(obj any) string {
	blob, err := retell.CanonicalJSON(obj)
	if err != nil {
		blob = []byte(fmt.Sprintf("%v", obj))
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// HashSegment hashes one speech segment's identity within its turn.
func HashSegment(ssml, purpose string, epoch, turnID int64) string {
	blob := fmt.Sprintf("%d|%d|%s|%s", epoch, turnID, purpose, ssml)
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}

// Sink is a bounded in-memory trace log. Safe for concurrent emitters; the
// oldest events roll off past MaxEvents.
type Sink struct {
	mu      sync.Mutex
	seq     int64
	events  []Event
	max     int
	changed chan struct{}

	schemaViolations int64
}

// DefaultMaxEvents bounds a sink constructed with max <= 0.
const DefaultMaxEvents = 20000

// NewSink returns a sink holding at most max events.
func NewSink(max int) *Sink {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Sink{max: max, changed: make(chan struct{})}
}

// Emit appends an event. Seq and PayloadHash are assigned here; the caller
// fills everything else.
func (s *Sink) Emit(e Event, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	e.PayloadHash = HashPayload(payload)
	if !validate(e) {
		s.schemaViolations++
	}
	s.events = append(s.events, e)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// Events returns a copy of the current log.
func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// SchemaViolations reports events that failed field validation.
func (s *Sink) SchemaViolations() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaViolations
}

// WaitForLen blocks until the log holds at least n events.
func (s *Sink) WaitForLen(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		if len(s.events) >= n {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForEventType blocks until an event of the given type exists and
// returns the first one.
func (s *Sink) WaitForEventType(ctx context.Context, eventType string) (Event, error) {
	for {
		s.mu.Lock()
		for _, ev := range s.events {
			if ev.EventType == eventType {
				s.mu.Unlock()
				return ev, nil
			}
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// CountEventType reports how many logged events carry the given type.
func (s *Sink) CountEventType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// ReplayDigest folds the whole log into one hash. Equal digests mean the
// sessions were observably identical.
func (s *Sink) ReplayDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, len(s.events))
	for i, e := range s.events {
		parts[i] = fmt.Sprintf("%d:%d:%s:%s:%d:%d:%s:%s:%s:%s:%s",
			e.Seq, e.TMS, e.SessionID, e.CallID, e.TurnID, e.Epoch,
			e.WSState, e.ConvState, e.EventType, e.PayloadHash, e.SegmentHash)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func validate(e Event) bool {
	switch {
	case e.Seq <= 0,
		e.TMS < 0,
		e.SessionID == "",
		e.CallID == "",
		e.TurnID < 0,
		e.Epoch < 0,
		e.WSState == "",
		e.ConvState == "",
		e.EventType == "",
		e.PayloadHash == "":
		return false
	}
	return true
}
