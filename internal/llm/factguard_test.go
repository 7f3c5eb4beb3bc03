package llm

import (
	"slices"
	"testing"
)

func TestFactTemplate_Render(t *testing.T) {
	t.Parallel()

	ft := FactTemplate{
		Template: "The [[SERVICE]] visit is [[PRICE]] dollars.",
		Placeholders: map[string]string{
			"SERVICE": "general",
			"PRICE":   "120",
		},
	}
	if got, want := ft.Render(), "The general visit is 120 dollars."; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestFactTemplate_RenderTextFillsRewrite(t *testing.T) {
	t.Parallel()

	ft := FactTemplate{
		Template:     "A [[SERVICE]] visit costs [[PRICE]] dollars.",
		Placeholders: map[string]string{"SERVICE": "general", "PRICE": "120"},
	}
	got := ft.RenderText("Happy to help - a [[SERVICE]] visit runs [[PRICE]] dollars.")
	if want := "Happy to help - a general visit runs 120 dollars."; got != want {
		t.Errorf("RenderText() = %q, want %q", got, want)
	}
}

func TestFactTemplate_RequiredTokensSorted(t *testing.T) {
	t.Parallel()

	ft := FactTemplate{
		Placeholders: map[string]string{"PRICE": "120", "DAY": "Tuesday", "TIME": "9:00 AM"},
	}
	got := ft.RequiredTokens()
	want := []string{"[[DAY]]", "[[PRICE]]", "[[TIME]]"}
	if !slices.Equal(got, want) {
		t.Errorf("RequiredTokens() = %v, want %v", got, want)
	}
}

func TestValidateRewrite(t *testing.T) {
	t.Parallel()

	tokens := []string{"[[PRICE]]", "[[DAY]]"}

	tests := []struct {
		name      string
		rewritten string
		want      bool
	}{
		{
			name:      "keeps tokens and stays digit-free",
			rewritten: "We can see you [[DAY]] and the visit is [[PRICE]] dollars.",
			want:      true,
		},
		{
			name:      "missing token is rejected",
			rewritten: "The visit is [[PRICE]] dollars.",
			want:      false,
		},
		{
			name:      "bare digit outside a token is rejected",
			rewritten: "On [[DAY]] it is [[PRICE]] dollars, about 2 hours.",
			want:      false,
		},
		{
			name:      "empty rewrite is rejected",
			rewritten: "   ",
			want:      false,
		},
		{
			name:      "token-only text is accepted",
			rewritten: "Visit [[DAY]], pay [[PRICE]].",
			want:      true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ValidateRewrite(tt.rewritten, tokens); got != tt.want {
				t.Errorf("ValidateRewrite(%q) = %v, want %v", tt.rewritten, got, tt.want)
			}
		})
	}
}

func TestValidateRewrite_NoTokensRequired(t *testing.T) {
	t.Parallel()

	if !ValidateRewrite("Sure, we can do that.", nil) {
		t.Error("digit-free rewrite with no required tokens rejected")
	}
	if ValidateRewrite("Sure, around 5pm.", nil) {
		t.Error("rewrite with a bare digit accepted")
	}
}

func TestValidateRewrite_DigitInsideTokenName(t *testing.T) {
	t.Parallel()

	// The digit in [[SLOT_1]] belongs to the placeholder, not the prose.
	if !ValidateRewrite("We held [[SLOT_1]] for you.", []string{"[[SLOT_1]]"}) {
		t.Error("rewrite rejected for a digit inside its own placeholder")
	}
}
