package dialog

import (
	"regexp"
	"strings"
)

var (
	phonePat   = regexp.MustCompile(`(\d[\d\s\-()]{8,}\d)`)
	namePat    = regexp.MustCompile(`(?i)\b(my name is|this is)\s+([A-Za-z][A-Za-z\-\s']{0,40})\b`)
	bookPat    = regexp.MustCompile(`(?i)\b(book|schedule|appointment|appt)\b`)
	pricePat   = regexp.MustCompile(`(?i)\b(price|cost|pricing|how much)\b`)
	availPat   = regexp.MustCompile(`(?i)\b(available|availability|openings|slot)\b`)
	weekdayPat = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	timePat    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	emailPat   = regexp.MustCompile(`(?i)\b([A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,})\b`)
	negSentPat = regexp.MustCompile(`(?i)\b(frustrated|upset|angry|mad|annoyed|disappointed|stressed)\b`)

	nonDigitPat = regexp.MustCompile(`\D+`)
	multiWSPat  = regexp.MustCompile(`\s+`)
)

// extractPhoneDigits pulls a US phone number out of free text, normalized to
// exactly ten digits. A leading country code 1 is stripped.
func extractPhoneDigits(text string) string {
	m := phonePat.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	digits := nonDigitPat.ReplaceAllString(m[1], "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// extractName matches self-introductions like "my name is Jane Doe".
func extractName(text string) string {
	m := namePat.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[2])
	return multiWSPat.ReplaceAllString(name, " ")
}

// nameConfidenceHigh requires at least a first and last name, each two
// characters or longer, before we stop asking the caller to spell it.
func nameConfidenceHigh(name string) bool {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if len(p) < 2 {
			return false
		}
	}
	return true
}

// extractRequestedDT turns "thursday around 3 pm" into "Thursday at 3 PM".
// Both a weekday and a time hint must be present.
func extractRequestedDT(text string) string {
	wd := weekdayPat.FindStringSubmatch(text)
	if wd == nil {
		return ""
	}
	tm := timePat.FindStringSubmatch(text)
	if tm == nil {
		return ""
	}
	weekday := capitalize(strings.TrimSpace(wd[1]))
	timePart := tm[1]
	if tm[2] != "" {
		timePart += ":" + tm[2]
	}
	if ampm := strings.ToUpper(strings.TrimSpace(tm[3])); ampm != "" {
		timePart += " " + ampm
	}
	return strings.TrimSpace(weekday + " at " + timePart)
}

func extractEmail(text string) string {
	m := emailPat.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m[1]))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
