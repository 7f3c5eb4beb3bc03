package dialog

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// SelectPhrase picks one option from a rotation, keyed on call, turn and
// segment so the choice is stable under replay but varies across a call.
// Panics on an empty option list; callers own their phrase tables.
func SelectPhrase(options []string, callID string, turnID int64, segmentKind string, segmentIndex int) string {
	if len(options) == 0 {
		panic("dialog: phrase options must be non-empty")
	}
	seed := fmt.Sprintf("%s|%d|%s|%d", callID, turnID, segmentKind, segmentIndex)
	sum := sha256.Sum256([]byte(seed))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(options))
	return options[idx]
}
