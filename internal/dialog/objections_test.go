package dialog

import (
	"slices"
	"testing"
)

func TestDetectObjection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want ObjectionKind
	}{
		{"price shock", "that's too expensive for me", ObjectionPriceShock},
		{"timing conflict", "I'm too busy, no time this week", ObjectionTimingConflict},
		{"trust hesitation", "I'm not sure this is legit", ObjectionTrustHesitation},
		{"urgency pressure", "I need this right now", ObjectionUrgencyPressure},
		{"price outranks timing", "too expensive and I'm too busy anyway", ObjectionPriceShock},
		{"no objection", "sounds good to me", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := DetectObjection(tt.text); got != tt.want {
				t.Errorf("DetectObjection(%q)=%q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestObjectionResponses_CoverEveryKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []ObjectionKind{
		ObjectionPriceShock,
		ObjectionTimingConflict,
		ObjectionTrustHesitation,
		ObjectionUrgencyPressure,
	} {
		if ObjectionResponses[kind] == "" {
			t.Errorf("no response line for %q", kind)
		}
	}
}

func TestSortSlotsByAcceptance(t *testing.T) {
	t.Parallel()

	in := []string{"Tuesday 4:00 PM", "Tuesday 9:00 AM", "Tuesday 2:00 PM"}
	want := []string{"Tuesday 9:00 AM", "Tuesday 2:00 PM", "Tuesday 4:00 PM"}

	got := SortSlotsByAcceptance(in)
	if !slices.Equal(got, want) {
		t.Errorf("SortSlotsByAcceptance(%v)=%v, want %v", in, got, want)
	}
	// Input order untouched.
	if !slices.Equal(in, []string{"Tuesday 4:00 PM", "Tuesday 9:00 AM", "Tuesday 2:00 PM"}) {
		t.Errorf("input mutated: %v", in)
	}
}

func TestSortSlotsByAcceptance_TiesBreakLexically(t *testing.T) {
	t.Parallel()

	in := []string{"Wednesday 9:00 AM", "Tuesday 9:00 AM"}
	got := SortSlotsByAcceptance(in)
	want := []string{"Tuesday 9:00 AM", "Wednesday 9:00 AM"}
	if !slices.Equal(got, want) {
		t.Errorf("tie break: got %v, want %v", got, want)
	}
}

func TestSortSlotsByAcceptance_UnparsedSlotsRankLast(t *testing.T) {
	t.Parallel()

	// An off-peak hour gets the generic prior, an unparseable slot the floor.
	in := []string{"lunchtime", "Tuesday 8:00 AM", "Tuesday 9:00 AM"}
	got := SortSlotsByAcceptance(in)
	want := []string{"Tuesday 9:00 AM", "Tuesday 8:00 AM", "lunchtime"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSortSlotsByAcceptance_Deterministic(t *testing.T) {
	t.Parallel()

	in := []string{"Monday 1:00 PM", "Monday 10:00 AM", "Monday 3:00 PM", "Monday 11:00 AM"}
	first := SortSlotsByAcceptance(in)
	second := SortSlotsByAcceptance(in)
	if !slices.Equal(first, second) {
		t.Errorf("ordering not stable: %v vs %v", first, second)
	}
}
