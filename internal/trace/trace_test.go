package trace_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/vocalith/internal/trace"
)

func baseEvent(eventType string) trace.Event {
	return trace.Event{
		TMS:       100,
		SessionID: "s1",
		CallID:    "c1",
		TurnID:    1,
		Epoch:     1,
		WSState:   "OPEN",
		ConvState: "LISTENING",
		EventType: eventType,
	}
}

func TestEmit_AssignsSeqAndHash(t *testing.T) {
	t.Parallel()
	s := trace.NewSink(16)
	s.Emit(baseEvent("frame_accepted"), map[string]any{"k": "v"})
	s.Emit(baseEvent("frame_accepted"), map[string]any{"k": "v"})

	evs := s.Events()
	if len(evs) != 2 {
		t.Fatalf("len = %d, want 2", len(evs))
	}
	if evs[0].Seq != 1 || evs[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d; want 1, 2", evs[0].Seq, evs[1].Seq)
	}
	if evs[0].PayloadHash == "" || evs[0].PayloadHash != evs[1].PayloadHash {
		t.Fatal("equal payloads must hash equal")
	}
}

func TestEmit_RollsPastMax(t *testing.T) {
	t.Parallel()
	s := trace.NewSink(3)
	for i := 0; i < 5; i++ {
		s.Emit(baseEvent("e"), i)
	}
	evs := s.Events()
	if len(evs) != 3 {
		t.Fatalf("len = %d, want 3", len(evs))
	}
	if evs[0].Seq != 3 {
		t.Fatalf("oldest kept seq = %d, want 3", evs[0].Seq)
	}
}

func TestEmit_CountsSchemaViolations(t *testing.T) {
	t.Parallel()
	s := trace.NewSink(16)
	bad := baseEvent("e")
	bad.SessionID = ""
	s.Emit(bad, nil)
	if got := s.SchemaViolations(); got != 1 {
		t.Fatalf("SchemaViolations = %d, want 1", got)
	}
	s.Emit(baseEvent("e"), nil)
	if got := s.SchemaViolations(); got != 1 {
		t.Fatalf("SchemaViolations = %d, want 1 after valid event", got)
	}
}

func TestReplayDigest_StableAndOrderSensitive(t *testing.T) {
	t.Parallel()
	build := func(order []string) *trace.Sink {
		s := trace.NewSink(16)
		for _, et := range order {
			s.Emit(baseEvent(et), et)
		}
		return s
	}
	a := build([]string{"one", "two", "three"})
	b := build([]string{"one", "two", "three"})
	c := build([]string{"two", "one", "three"})

	if a.ReplayDigest() != b.ReplayDigest() {
		t.Fatal("identical logs produced different digests")
	}
	if a.ReplayDigest() == c.ReplayDigest() {
		t.Fatal("reordered log produced the same digest")
	}
}

func TestHashSegment_DistinguishesEpochAndPurpose(t *testing.T) {
	t.Parallel()
	a := trace.HashSegment("Okay.", "ACK", 1, 1)
	b := trace.HashSegment("Okay.", "ACK", 2, 1)
	c := trace.HashSegment("Okay.", "CONTENT", 1, 1)
	if a == b || a == c {
		t.Fatalf("segment hashes must differ: %s %s %s", a, b, c)
	}
	if a != trace.HashSegment("Okay.", "ACK", 1, 1) {
		t.Fatal("segment hash is not deterministic")
	}
}

func TestWaitForEventType_WakesOnEmit(t *testing.T) {
	t.Parallel()
	s := trace.NewSink(16)
	got := make(chan trace.Event, 1)
	go func() {
		ev, err := s.WaitForEventType(context.Background(), "needle")
		if err == nil {
			got <- ev
		}
	}()
	s.Emit(baseEvent("hay"), nil)
	select {
	case <-got:
		t.Fatal("WaitForEventType returned on wrong type")
	case <-time.After(20 * time.Millisecond):
	}
	s.Emit(baseEvent("needle"), nil)
	select {
	case ev := <-got:
		if ev.EventType != "needle" {
			t.Fatalf("event type = %q", ev.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForEventType never woke")
	}
}

func TestWaitForLen_ContextCancel(t *testing.T) {
	t.Parallel()
	s := trace.NewSink(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.WaitForLen(ctx, 5)
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("WaitForLen returned nil on cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unblock WaitForLen")
	}
}
