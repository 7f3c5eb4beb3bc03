package transport

import (
	"context"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
)

// Writer is the only goroutine that writes to the socket. It prefers control
// frames, re-checks every gated envelope against the gate at send time, and
// abandons an in-flight speech send when the gate changes or a control frame
// arrives behind it. Repeated write timeouts close the transport and surface
// a backpressure notice on the inbound queue.
type Writer struct {
	Conn     Conn
	Outbound *queue.Queue[Envelope]
	// Inbound receives the closed notice on fatal backpressure. May be nil.
	Inbound *queue.Queue[InboundItem]
	Gate    *Gate
	Clock   clock.Clock
	Metrics observe.Recorder
	Log     *slog.Logger

	WriteTimeoutMS              int64
	CloseOnWriteTimeout         bool
	MaxConsecutiveWriteTimeouts int

	consecutiveTimeouts int
}

type sendResult struct {
	sent     bool
	timedOut bool
	fatal    bool
	err      error
}

// stop reports whether the writer loop must exit after this result.
func (r sendResult) stop() bool { return r.fatal || r.err != nil }

// Run drains the outbound queue until the context ends, the queue closes, or
// the transport dies. Like the reader, it never returns an error: transport
// death is reported through the inbound queue.
func (w *Writer) Run(ctx context.Context) error {
	for {
		env, err := w.Outbound.GetPrefer(ctx, IsControl)
		if err != nil {
			return nil
		}

		epoch, speakGen, changed := w.Gate.Snapshot()
		if env.Epoch != Unbound && env.Epoch != epoch {
			w.Metrics.Inc(observe.MetricStaleSegmentDropped, 1)
			continue
		}
		if env.SpeakGen != Unbound && env.SpeakGen != speakGen {
			w.Metrics.Inc(observe.MetricStaleSegmentDropped, 1)
			continue
		}
		// Never send a response chunk for the wrong response id, whatever
		// the envelope claims.
		if resp, ok := env.Msg.(*retell.ResponseFrame); ok && resp.ResponseID != epoch {
			w.Metrics.Inc(observe.MetricStaleSegmentDropped, 1)
			continue
		}

		raw, err := retell.EncodeOutbound(env.Msg)
		if err != nil {
			w.Log.Error("outbound frame failed to encode", "response_type", env.Msg.ResponseType(), "error", err)
			continue
		}
		payload := string(raw)

		if env.Plane == PlaneControl {
			// Control frames go out immediately and are never preempted
			// by queued speech.
			if w.send(ctx, env, payload).stop() {
				return nil
			}
			continue
		}

		if env.Gated() {
			if w.sendPreemptible(ctx, env, payload, changed) {
				return nil
			}
			continue
		}

		if w.send(ctx, env, payload).stop() {
			return nil
		}
	}
}

// send writes one frame under the clock-driven write timeout. Keepalive
// frames record their queue delay and missed-deadline counters on the way
// out.
func (w *Writer) send(ctx context.Context, env Envelope, payload string) sendResult {
	rt := env.Msg.ResponseType()
	if rt == retell.ResponseTypePingPong {
		delay := w.Clock.NowMS() - env.EnqueuedMS
		if delay < 0 {
			delay = 0
		}
		w.Metrics.Observe(observe.MetricKeepaliveQueueDelayMS, delay)
		if env.DeadlineMS > 0 && delay > env.DeadlineMS {
			w.Metrics.Inc(observe.MetricKeepaliveMissedDeadline, 1)
		}
		w.Metrics.Inc(observe.MetricKeepaliveWriteAttempt, 1)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Conn.SendText(sctx, payload) }()

	timeoutMS := w.WriteTimeoutMS
	if timeoutMS < 1 {
		timeoutMS = 1
	}
	timedOut := make(chan struct{})
	go func() {
		if w.Clock.SleepMS(sctx, timeoutMS) == nil {
			close(timedOut)
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return sendResult{}
			}
			w.Log.Warn("transport write failed", "response_type", rt, "error", err)
			return sendResult{err: err}
		}
		w.consecutiveTimeouts = 0
		return sendResult{sent: true}

	case <-timedOut:
		cancel()
		<-errCh // reclaim the abandoned send
		w.Metrics.Inc(observe.MetricWSWriteTimeout, 1)
		if rt == retell.ResponseTypePingPong {
			w.Metrics.Inc(observe.MetricKeepaliveWriteTimeout, 1)
		}
		w.consecutiveTimeouts++
		maxTimeouts := w.MaxConsecutiveWriteTimeouts
		if maxTimeouts < 1 {
			maxTimeouts = 1
		}
		if w.CloseOnWriteTimeout && w.consecutiveTimeouts >= maxTimeouts {
			w.fatal(CloseWriteTimeout)
			return sendResult{timedOut: true, fatal: true}
		}
		return sendResult{timedOut: true}
	}
}

// sendPreemptible writes one gated speech frame. The send loses to a gate
// change (frame is stale, drop it) or to a control frame arriving behind it
// (requeue the speech and let control go first). Returns true when the
// writer must stop.
func (w *Writer) sendPreemptible(ctx context.Context, env Envelope, payload string, changed <-chan struct{}) bool {
	sctx, sCancel := context.WithCancel(ctx)
	defer sCancel()
	resCh := make(chan sendResult, 1)
	go func() { resCh <- w.send(sctx, env, payload) }()

	wctx, wCancel := context.WithCancel(ctx)
	defer wCancel()
	controlCh := make(chan struct{})
	go func() {
		if w.Outbound.WaitForAny(wctx, IsControl) == nil {
			close(controlCh)
		}
	}()

	select {
	case res := <-resCh:
		return res.stop()

	case <-changed:
		// Finished sends win over a simultaneous pulse.
		select {
		case res := <-resCh:
			return res.stop()
		default:
		}
		sCancel()
		res := <-resCh
		w.Metrics.Inc(observe.MetricStaleSegmentDropped, 1)
		return res.stop()

	case <-controlCh:
		select {
		case res := <-resCh:
			return res.stop()
		default:
		}
		sCancel()
		res := <-resCh
		if res.stop() {
			return true
		}
		// Requeue deterministically: only lower-priority, non-terminal
		// queued speech may be evicted to make room.
		ok, _ := w.Outbound.Put(env, func(existing Envelope) bool {
			return existing.Plane == PlaneSpeech &&
				existing.Priority < env.Priority &&
				!existing.Terminal()
		})
		if !ok {
			w.Metrics.Inc(observe.MetricOutboundQueueDropped, 1)
		}
		return false
	}
}

// fatal reports a dead transport on the inbound queue and starts the close
// handshake. The orchestrator tears the session down when it sees the
// notice.
func (w *Writer) fatal(reason string) {
	if w.Inbound != nil {
		w.Inbound.Put(InboundItem{CloseReason: reason}, func(x InboundItem) bool {
			return !x.Closed()
		})
	}
	w.Log.Warn("transport write backpressure, closing", "reason", reason)
	_ = w.Conn.Close(websocket.StatusInternalError, reason)
}
