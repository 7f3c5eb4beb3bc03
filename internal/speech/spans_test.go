package speech

import (
	"reflect"
	"testing"
)

func TestFindProtectedSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []ProtectedSpan
	}{
		{
			name: "price with cents",
			text: "That's $25.50 per visit",
			want: []ProtectedSpan{{Kind: SpanPrice, Start: 7, End: 13}},
		},
		{
			name: "dashed phone number",
			text: "Call 555-123-4567 now",
			want: []ProtectedSpan{{Kind: SpanPhone, Start: 5, End: 17}},
		},
		{
			name: "clock time",
			text: "at 3:30 pm today",
			want: []ProtectedSpan{{Kind: SpanTime, Start: 3, End: 10}},
		},
		{
			name: "residual digit run",
			text: "Room 42 is ready",
			want: []ProtectedSpan{{Kind: SpanDigits, Start: 5, End: 7}},
		},
		{
			name: "mixed spans sorted by position",
			text: "Pay $10 at 555-123-4567 by 5 pm, code 99",
			want: []ProtectedSpan{
				{Kind: SpanPrice, Start: 4, End: 7},
				{Kind: SpanPhone, Start: 11, End: 23},
				{Kind: SpanTime, Start: 27, End: 31},
				{Kind: SpanDigits, Start: 38, End: 40},
			},
		},
		{
			name: "no digits no spans",
			text: "Thanks for calling",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FindProtectedSpans(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindProtectedSpans(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSlowReadSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    SpanKind
		purpose Purpose
		want    bool
	}{
		{SpanPhone, PurposeContent, true},
		{SpanPhone, PurposeAck, true},
		{SpanDigits, PurposeConfirm, true},
		{SpanDigits, PurposeRepair, true},
		{SpanDigits, PurposeContent, false},
		{SpanPrice, PurposeConfirm, false},
		{SpanTime, PurposeConfirm, false},
	}
	for _, tt := range tests {
		if got := slowReadSpan(tt.kind, tt.purpose); got != tt.want {
			t.Errorf("slowReadSpan(%s, %s) = %v, want %v", tt.kind, tt.purpose, got, tt.want)
		}
	}
}

func TestDigitPauseMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		purpose Purpose
		unitMS  int64
		want    int64
	}{
		{
			name:    "phone always slow read",
			text:    "Call 555-123-4567",
			purpose: PurposeContent,
			unitMS:  150,
			want:    9 * 150, // ten digits, nine gaps
		},
		{
			name:    "digits slow read on confirm",
			text:    "The last four digits are 4567.",
			purpose: PurposeConfirm,
			unitMS:  150,
			want:    3 * 150,
		},
		{
			name:    "digits normal read on content",
			text:    "The last four digits are 4567.",
			purpose: PurposeContent,
			unitMS:  150,
			want:    0,
		},
		{
			name:    "negative unit clamps to zero",
			text:    "Call 555-123-4567",
			purpose: PurposeContent,
			unitMS:  -10,
			want:    0,
		},
		{
			name:    "single digit adds nothing",
			text:    "press 1",
			purpose: PurposeConfirm,
			unitMS:  150,
			want:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spans := FindProtectedSpans(tt.text)
			if got := digitPauseMS(tt.text, spans, tt.purpose, tt.unitMS); got != tt.want {
				t.Errorf("digitPauseMS = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatProtectedSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		purpose Purpose
		want    string
	}{
		{
			name:    "phone digits dashed and separators dropped",
			text:    "Call 555-123-4567 now",
			purpose: PurposeContent,
			want:    "Call 5 - 5 - 5 - 1 - 2 - 3 - 4 - 5 - 6 - 7 now",
		},
		{
			name:    "confirm digits dashed",
			text:    "The last four digits are 4567.",
			purpose: PurposeConfirm,
			want:    "The last four digits are 4 - 5 - 6 - 7.",
		},
		{
			name:    "content digits untouched",
			text:    "Room 42 is ready",
			purpose: PurposeContent,
			want:    "Room 42 is ready",
		},
		{
			name:    "price untouched even on confirm",
			text:    "That's $25.50",
			purpose: PurposeConfirm,
			want:    "That's $25.50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spans := FindProtectedSpans(tt.text)
			if got := formatProtectedSpans(tt.text, spans, tt.purpose); got != tt.want {
				t.Errorf("formatProtectedSpans(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestJoinDigits(t *testing.T) {
	t.Parallel()

	if got := joinDigits("4567"); got != "4 - 5 - 6 - 7" {
		t.Errorf("joinDigits(4567) = %q", got)
	}
	if got := joinDigits("7"); got != "7" {
		t.Errorf("joinDigits(7) = %q", got)
	}
}
