package transport

import "sync"

// Gate publishes the epoch and speak generation that outbound speech must
// match at the moment it is written. The writer snapshots the gate before
// each send and watches the returned channel so an in-flight send can be
// abandoned as soon as the turn it belongs to is superseded.
type Gate struct {
	mu       sync.Mutex
	epoch    int64
	speakGen int64
	version  int64
	changed  chan struct{}
}

// NewGate returns a gate opened at the given epoch with speak generation 0.
func NewGate(epoch int64) *Gate {
	return &Gate{epoch: epoch, changed: make(chan struct{})}
}

// Snapshot returns the current epoch and speak generation together with a
// channel that is closed on the next gate change. Reading all three under
// one lock is what makes the writer's stale checks race-free.
func (g *Gate) Snapshot() (epoch, speakGen int64, changed <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch, g.speakGen, g.changed
}

// Epoch returns the current epoch.
func (g *Gate) Epoch() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// SpeakGen returns the current speak generation.
func (g *Gate) SpeakGen() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speakGen
}

// Version counts gate changes since the session started.
func (g *Gate) Version() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

// SetEpoch moves the gate to a new epoch, resets the speak generation and
// pulses watchers. Every frame gated on an older epoch is stale from here on.
func (g *Gate) SetEpoch(epoch int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch = epoch
	g.speakGen = 0
	g.pulseLocked()
}

// BumpSpeakGen invalidates speech queued for the current epoch without
// starting a new turn, as on barge-in. It returns the new generation.
func (g *Gate) BumpSpeakGen() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speakGen++
	g.pulseLocked()
	return g.speakGen
}

// pulseLocked wakes current watchers and arms a fresh channel so the next
// snapshot observes the next change, not this one.
func (g *Gate) pulseLocked() {
	g.version++
	close(g.changed)
	g.changed = make(chan struct{})
}
