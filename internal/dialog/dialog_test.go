package dialog

import "testing"

func TestNewSlotState_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSlotState()
	if s.B2BFunnelStage != StageOpen {
		t.Errorf("B2BFunnelStage=%q, want %q", s.B2BFunnelStage, StageOpen)
	}
	if s.B2BLastStage != StageOpen {
		t.Errorf("B2BLastStage=%q, want %q", s.B2BLastStage, StageOpen)
	}
	if s.B2BAutonomyMode != "baseline" {
		t.Errorf("B2BAutonomyMode=%q, want baseline", s.B2BAutonomyMode)
	}
	if s.QuestionDepth != 1 {
		t.Errorf("QuestionDepth=%d, want 1", s.QuestionDepth)
	}
	if s.Reprompts == nil {
		t.Error("Reprompts map is nil")
	}
}

func TestSlotState_CloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := NewSlotState()
	orig.PatientName = "Bob"
	orig.Reprompts["name"] = 1

	clone := orig.Clone()
	clone.PatientName = "Mary"
	clone.Reprompts["name"] = 5
	clone.Reprompts["phone"] = 2

	if orig.PatientName != "Bob" {
		t.Errorf("original PatientName=%q after clone mutation, want Bob", orig.PatientName)
	}
	if orig.Reprompts["name"] != 1 {
		t.Errorf("original Reprompts[name]=%d after clone mutation, want 1", orig.Reprompts["name"])
	}
	if _, ok := orig.Reprompts["phone"]; ok {
		t.Error("clone's new reprompt key leaked into original")
	}

	orig.Reprompts["name"] = 9
	if clone.Reprompts["name"] != 5 {
		t.Errorf("clone Reprompts[name]=%d after original mutation, want 5", clone.Reprompts["name"])
	}
}

func TestSlotState_SensitiveCapture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*SlotState)
		want  bool
	}{
		{
			name:  "no booking intent",
			setup: func(s *SlotState) { s.Intent = "pricing" },
			want:  false,
		},
		{
			name:  "booking with unconfirmed phone",
			setup: func(s *SlotState) { s.Intent = "booking" },
			want:  true,
		},
		{
			name: "booking mid name repair",
			setup: func(s *SlotState) {
				s.Intent = "booking"
				s.PhoneConfirmed = true
				s.Reprompts["name"] = 1
			},
			want: true,
		},
		{
			name: "booking mid spelling repair",
			setup: func(s *SlotState) {
				s.Intent = "booking"
				s.PhoneConfirmed = true
				s.Reprompts["name_confidence"] = 2
			},
			want: true,
		},
		{
			name: "booking with everything captured",
			setup: func(s *SlotState) {
				s.Intent = "booking"
				s.PhoneConfirmed = true
			},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSlotState()
			tt.setup(s)
			if got := s.SensitiveCapture(); got != tt.want {
				t.Errorf("SensitiveCapture()=%t, want %t", got, tt.want)
			}
		})
	}
}
