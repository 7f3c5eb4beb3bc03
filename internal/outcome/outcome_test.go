package outcome_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/vocalith/internal/outcome"
)

func TestSummaryNamesTheDisposition(t *testing.T) {
	t.Parallel()

	o := outcome.CallOutcome{
		CallID:            "call-1",
		Intent:            "booking",
		ActionType:        "EndCall",
		Objection:         "price_shock",
		OfferedSlotsCount: 2,
		Accepted:          true,
		DropOffPoint:      "completed",
	}
	got := o.Summary()
	for _, want := range []string{"intent=booking", "action=EndCall", "objection=price_shock", "offered_slots=2", "accepted", "drop_off=completed"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "escalated") {
		t.Errorf("summary %q claims an escalation", got)
	}
}

func TestSummaryEmptyFieldsReadUnknown(t *testing.T) {
	t.Parallel()

	got := outcome.CallOutcome{CallID: "call-2"}.Summary()
	if !strings.Contains(got, "intent=unknown") || !strings.Contains(got, "drop_off=unknown") {
		t.Errorf("summary = %q", got)
	}
}

func TestMemorySinkRecords(t *testing.T) {
	t.Parallel()

	sink := outcome.NewMemory()
	ctx := context.Background()
	if err := sink.Record(ctx, outcome.CallOutcome{CallID: "a"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := sink.Record(ctx, outcome.CallOutcome{CallID: "b", Escalated: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := sink.Recorded()
	if len(got) != 2 || got[0].CallID != "a" || got[1].CallID != "b" {
		t.Fatalf("recorded = %+v", got)
	}
	if !got[1].Escalated {
		t.Error("escalation flag lost")
	}
}

func TestDiscardSinkAcceptsEverything(t *testing.T) {
	t.Parallel()

	var sink outcome.Discard
	if err := sink.Record(context.Background(), outcome.CallOutcome{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
