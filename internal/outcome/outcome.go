// Package outcome records the terminal disposition of each call.
//
// The orchestrator assembles one CallOutcome when a call ends and hands it
// to the configured Sink. The default sink keeps nothing; deployments that
// want history wire the postgres store, optionally with an embedder so past
// calls can be retrieved by similarity.
package outcome

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CallOutcome is the terminal disposition summary of one call.
type CallOutcome struct {
	CallID            string `json:"call_id"`
	TurnID            int64  `json:"turn_id"`
	Epoch             int64  `json:"epoch"`
	Intent            string `json:"intent"`
	ActionType        string `json:"action_type"`
	Objection         string `json:"objection"`
	OfferedSlotsCount int    `json:"offered_slots_count"`
	Accepted          bool   `json:"accepted"`
	Escalated         bool   `json:"escalated"`
	DropOffPoint      string `json:"drop_off_point"`
	TMS               int64  `json:"t_ms"`
}

// Summary renders the outcome as one line of prose, the text fed to the
// embedder for similarity retrieval.
func (o CallOutcome) Summary() string {
	parts := []string{
		"intent=" + orUnknown(o.Intent),
		"action=" + orUnknown(o.ActionType),
		"drop_off=" + orUnknown(o.DropOffPoint),
	}
	if o.Objection != "" {
		parts = append(parts, "objection="+o.Objection)
	}
	if o.OfferedSlotsCount > 0 {
		parts = append(parts, fmt.Sprintf("offered_slots=%d", o.OfferedSlotsCount))
	}
	if o.Accepted {
		parts = append(parts, "accepted")
	}
	if o.Escalated {
		parts = append(parts, "escalated")
	}
	return strings.Join(parts, " ")
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Sink receives call outcomes. Implementations must tolerate being called
// at most once per call and never block the session teardown for long.
type Sink interface {
	Record(ctx context.Context, o CallOutcome) error
}

// Discard is the default sink: outcomes are traced but not persisted.
type Discard struct{}

// Record drops the outcome.
func (Discard) Record(context.Context, CallOutcome) error { return nil }

// Memory is an in-process sink for tests and single-node monitoring.
type Memory struct {
	mu       sync.Mutex
	recorded []CallOutcome
}

// NewMemory returns an empty in-process sink.
func NewMemory() *Memory { return &Memory{} }

// Record appends the outcome.
func (m *Memory) Record(_ context.Context, o CallOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, o)
	return nil
}

// Recorded returns a copy of everything recorded so far.
func (m *Memory) Recorded() []CallOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallOutcome, len(m.recorded))
	copy(out, m.recorded)
	return out
}

var (
	_ Sink = Discard{}
	_ Sink = (*Memory)(nil)
)
