package transport

import "github.com/MrWong99/vocalith/internal/retell"

// Close reasons surfaced on the inbound queue when the transport dies.
const (
	CloseFrameTooLarge = "FRAME_TOO_LARGE"
	CloseBadJSON       = "BAD_JSON"
	CloseWriteTimeout  = "WRITE_TIMEOUT_BACKPRESSURE"
	CloseReadError     = "transport_read_error"
)

// InboundItem is one unit on the session's inbound queue: either a parsed
// platform event or a transport-closed notice.
type InboundItem struct {
	Event       *retell.Inbound
	CloseReason string
}

// Closed reports whether the item is a transport-closed notice.
func (it InboundItem) Closed() bool { return it.Event == nil }

// IsControlItem matches items the orchestrator must handle ahead of buffered
// transcript updates: closed notices, keepalives, clears, and the frames
// that demand a response.
func IsControlItem(it InboundItem) bool {
	if it.Closed() {
		return true
	}
	switch it.Event.Type {
	case retell.InteractionPingPong, retell.InteractionClear,
		retell.InteractionResponseRequired, retell.InteractionReminderRequired:
		return true
	}
	return false
}
