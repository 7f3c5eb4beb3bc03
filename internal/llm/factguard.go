package llm

import (
	"maps"
	"slices"
	"strings"
)

// FactTemplate carries a numeric fact behind named [[TOKEN]] placeholders so
// a model rewrite can restyle the sentence without ever touching the number.
type FactTemplate struct {
	Template     string
	Placeholders map[string]string
}

// Render substitutes every placeholder into the template.
func (ft FactTemplate) Render() string {
	return ft.RenderText(ft.Template)
}

// RenderText substitutes every placeholder into a rewritten variant of the
// template.
func (ft FactTemplate) RenderText(text string) string {
	out := text
	for _, k := range slices.Sorted(maps.Keys(ft.Placeholders)) {
		out = strings.ReplaceAll(out, "[["+k+"]]", ft.Placeholders[k])
	}
	return out
}

// RequiredTokens lists the placeholder tokens a valid rewrite must preserve.
func (ft FactTemplate) RequiredTokens() []string {
	toks := make([]string, 0, len(ft.Placeholders))
	for _, k := range slices.Sorted(maps.Keys(ft.Placeholders)) {
		toks = append(toks, "[["+k+"]]")
	}
	return toks
}

// ValidateRewrite reports whether a model rewrite kept every required token
// intact and introduced no digit outside them. Anything else is rejected and
// the caller falls back to the plain template.
func ValidateRewrite(rewritten string, requiredTokens []string) bool {
	text := strings.TrimSpace(rewritten)
	if text == "" {
		return false
	}

	for _, tok := range requiredTokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}

	scrubbed := text
	for _, tok := range requiredTokens {
		scrubbed = strings.ReplaceAll(scrubbed, tok, " ")
	}
	return !strings.ContainsAny(scrubbed, "0123456789")
}
