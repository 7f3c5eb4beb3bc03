package dialog

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
)

var interruptWordsPat = regexp.MustCompile(`(?i)\b(no|wait|hold on|stop|cancel|don't)\b`)

var backchannelPhrases = []string{"Mm-hmm.", "Okay.", "Got it."}

// BackchannelClassifier decides when to drop a short acknowledgment into a
// long user monologue. Rate limited to one per interval with deterministic
// per-session jitter, suppressed during sensitive capture, and silenced
// entirely by interruption keywords.
type BackchannelClassifier struct {
	sessionID string
	minMS     int64
	maxMS     int64

	monologueStartedMS int64
	lastBackchannelMS  int64
	haveStart          bool
	haveLast           bool
	count              int
}

// NewBackchannelClassifier builds a classifier with the interval window in
// milliseconds.
func NewBackchannelClassifier(sessionID string, minIntervalMS, maxIntervalMS int64) *BackchannelClassifier {
	return &BackchannelClassifier{
		sessionID: sessionID,
		minMS:     minIntervalMS,
		maxMS:     maxIntervalMS,
	}
}

// Consider returns the backchannel phrase to speak now, or "" to stay
// silent. Any non-user turn resets the monologue tracking.
func (b *BackchannelClassifier) Consider(nowMS int64, userText string, userTurn, sensitiveCapture bool) string {
	if !userTurn || sensitiveCapture || interruptWordsPat.MatchString(userText) {
		b.haveStart = false
		return ""
	}

	if !b.haveStart {
		b.monologueStartedMS = nowMS
		b.haveStart = true
		return ""
	}

	span := max(int64(0), b.maxMS-b.minMS)
	intervalMS := b.minMS + detJitterMS(b.sessionID, b.count, span+1)

	since := nowMS - b.monologueStartedMS
	if b.haveLast {
		since = nowMS - b.lastBackchannelMS
	}
	if since < intervalMS {
		return ""
	}

	phrase := backchannelPhrases[b.count%len(backchannelPhrases)]
	b.lastBackchannelMS = nowMS
	b.haveLast = true
	b.count++
	return phrase
}

// detJitterMS derives a stable jitter from the session and the backchannel
// ordinal, so replays of the same call produce identical timing.
func detJitterMS(sessionID string, n int, spanMS int64) int64 {
	if spanMS <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, n)))
	v := int64(binary.BigEndian.Uint16(sum[:2]))
	return v % spanMS
}
