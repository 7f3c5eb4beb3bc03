package dialog

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ObjectionKind labels a caller's resistance to the current offer. Distinct
// from the B2B funnel signals: these drive UX-level phrasing adjustments for
// the clinic profile and call-outcome reporting for both.
type ObjectionKind string

const (
	ObjectionPriceShock      ObjectionKind = "price_shock"
	ObjectionTimingConflict  ObjectionKind = "timing_conflict"
	ObjectionTrustHesitation ObjectionKind = "trust_hesitation"
	ObjectionUrgencyPressure ObjectionKind = "urgency_pressure"
)

var (
	priceObjectionPat   = regexp.MustCompile(`(?i)\b(too expensive|pricey|costs too much|can't afford|out of budget)\b`)
	timeObjectionPat    = regexp.MustCompile(`(?i)\b(too busy|no time|not available|can't make that time|schedule conflict)\b`)
	trustObjectionPat   = regexp.MustCompile(`(?i)\b(not sure|don't trust|skeptical|is this legit|is this real)\b`)
	urgencyObjectionPat = regexp.MustCompile(`(?i)\b(right now|asap|urgent|immediately|today only)\b`)
)

// ObjectionResponses maps each objection to its acknowledgment line.
var ObjectionResponses = map[ObjectionKind]string{
	ObjectionPriceShock:      "I hear you. I can keep this simple and help you pick the best value option.",
	ObjectionTimingConflict:  "No problem. I can look for a time that fits your schedule.",
	ObjectionTrustHesitation: "Totally fair. I can answer basics and then connect you with the clinic team.",
	ObjectionUrgencyPressure: "I understand this feels urgent. I'll help you get the soonest next step.",
}

// DetectObjection classifies resistance in the user text; price outranks
// timing outranks trust outranks urgency. Empty return means none.
func DetectObjection(userText string) ObjectionKind {
	switch {
	case priceObjectionPat.MatchString(userText):
		return ObjectionPriceShock
	case timeObjectionPat.MatchString(userText):
		return ObjectionTimingConflict
	case trustObjectionPat.MatchString(userText):
		return ObjectionTrustHesitation
	case urgencyObjectionPat.MatchString(userText):
		return ObjectionUrgencyPressure
	}
	return ""
}

var slotTimePat = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(AM|PM)\b`)

// Historic acceptance priors per 24h start hour; higher is better.
var hourWeight = map[int]float64{
	9:  0.80,
	10: 0.76,
	11: 0.79,
	13: 0.73,
	14: 0.78,
	15: 0.72,
	16: 0.71,
}

func slotWeight(slot string) float64 {
	m := slotTimePat.FindStringSubmatch(slot)
	if m == nil {
		return 0.5
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0.5
	}
	switch strings.ToUpper(m[3]) {
	case "PM":
		if h != 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	}
	if w, ok := hourWeight[h]; ok {
		return w
	}
	return 0.6
}

// SortSlotsByAcceptance orders offered slots best-first by the acceptance
// prior, breaking ties lexically so the order is stable across runs.
func SortSlotsByAcceptance(slots []string) []string {
	out := append([]string(nil), slots...)
	slices.SortFunc(out, func(a, b string) int {
		wa, wb := slotWeight(a), slotWeight(b)
		switch {
		case wa > wb:
			return -1
		case wa < wb:
			return 1
		}
		return strings.Compare(a, b)
	})
	return out
}
