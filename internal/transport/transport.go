// Package transport owns the websocket half of a session: a reader that
// applies the inbound overflow policy and a single writer that checks every
// speech frame against the turn gate at send time. All waiting goes through
// the session clock and the bounded queues, so replay tests can drive both
// loops deterministically.
package transport

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is the minimal text-frame connection the reader and writer need.
// Production wraps a *websocket.Conn; tests script one in memory.
type Conn interface {
	// RecvText blocks until the next text frame arrives.
	RecvText(ctx context.Context) (string, error)
	// SendText writes one text frame, honoring ctx cancellation.
	SendText(ctx context.Context, text string) error
	// Close starts the websocket close handshake.
	Close(code websocket.StatusCode, reason string) error
}

// WS adapts a coder/websocket connection to [Conn].
type WS struct {
	conn *websocket.Conn
}

// NewWS wraps an accepted websocket connection. The caller should have set
// the read limit on conn already; the reader enforces its own frame cap on
// top of it.
func NewWS(conn *websocket.Conn) *WS {
	return &WS{conn: conn}
}

func (w *WS) RecvText(ctx context.Context) (string, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *WS) SendText(ctx context.Context, text string) error {
	return w.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (w *WS) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}
