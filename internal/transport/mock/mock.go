// Package mock provides an in-memory test double for the transport.Conn
// interface.
//
// Conn scripts the platform side of a session: tests queue inbound frames
// with Push, observe what the runtime wrote with Sent or WaitForSent, and
// simulate a congested socket with HoldSends. All methods are safe for
// concurrent use.
//
// Example:
//
//	c := mock.NewConn()
//	c.Push(`{"interaction_type":"ping_pong","timestamp":1}`)
//	// run reader/writer against c ...
//	_ = c.WaitForSent(ctx, 1)
package mock

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalith/internal/transport"
)

// Conn is a scripted transport.Conn.
type Conn struct {
	mu       sync.Mutex
	incoming []string
	readErr  error
	sent     []string
	hold     bool
	release  chan struct{}
	changed  chan struct{}

	closed      bool
	closeCode   websocket.StatusCode
	closeReason string
}

var _ transport.Conn = (*Conn)(nil)

// NewConn returns an empty connection with no queued frames.
func NewConn() *Conn {
	return &Conn{
		release: make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// Push queues inbound text frames for RecvText to return in order.
func (c *Conn) Push(frames ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming = append(c.incoming, frames...)
	c.pulseLocked()
}

// FailReads makes RecvText return err once the queued frames are drained.
func (c *Conn) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
	c.pulseLocked()
}

// RecvText returns the next queued frame, blocking until one arrives, the
// scripted read error fires, or ctx ends.
func (c *Conn) RecvText(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if len(c.incoming) > 0 {
			text := c.incoming[0]
			c.incoming = c.incoming[1:]
			c.mu.Unlock()
			return text, nil
		}
		if c.readErr != nil {
			err := c.readErr
			c.mu.Unlock()
			return "", err
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// SendText records the frame. While HoldSends is active the call blocks
// until ReleaseSends or ctx cancellation, which is how tests exercise write
// timeouts.
func (c *Conn) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	hold := c.hold
	release := c.release
	c.mu.Unlock()

	if hold {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.pulseLocked()
	return nil
}

// HoldSends makes subsequent SendText calls block.
func (c *Conn) HoldSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = true
}

// ReleaseSends unblocks held sends and lets new ones through.
func (c *Conn) ReleaseSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = false
	close(c.release)
	c.release = make(chan struct{})
}

// Close records the close handshake. Only the first call is kept.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
	}
	c.pulseLocked()
	return nil
}

// Sent returns a copy of all recorded frames.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// ClosedWith reports whether Close was called and with what.
func (c *Conn) ClosedWith() (bool, websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// WaitForSent blocks until at least n frames have been recorded.
func (c *Conn) WaitForSent(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		if len(c.sent) >= n {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForClose blocks until Close is called.
func (c *Conn) WaitForClose(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) pulseLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
