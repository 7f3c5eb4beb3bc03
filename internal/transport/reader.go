package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
)

// Reader pumps platform frames from the socket into the inbound queue and
// applies the bounded-queue overflow policy: transcript snapshots collapse
// to the newest one, response requests displace bulk traffic, keepalives and
// clears may evict a transcript snapshot to get in. Oversized frames and
// malformed JSON end the session; schema violations are counted and dropped.
type Reader struct {
	Conn          Conn
	Inbound       *queue.Queue[InboundItem]
	Metrics       observe.Recorder
	Log           *slog.Logger
	MaxFrameBytes int
}

// Run consumes frames until the context ends or the transport dies. A dead
// transport surfaces as a closed notice on the inbound queue, never as an
// error return.
func (r *Reader) Run(ctx context.Context) error {
	for {
		raw, err := r.Conn.RecvText(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.putClosed(CloseReadError)
			return nil
		}
		if r.MaxFrameBytes > 0 && len(raw) > r.MaxFrameBytes {
			r.Log.Warn("inbound frame over size limit", "bytes", len(raw), "limit", r.MaxFrameBytes)
			r.putClosed(CloseFrameTooLarge)
			return nil
		}
		ev, err := retell.ParseInbound([]byte(raw))
		if err != nil {
			if errors.Is(err, retell.ErrBadJSON) {
				r.Log.Warn("inbound frame is not JSON", "error", err)
				r.putClosed(CloseBadJSON)
				return nil
			}
			r.Metrics.Inc(observe.MetricInboundBadSchema, 1)
			r.Log.Debug("inbound frame dropped", "reason", "bad_schema", "error", err)
			continue
		}
		if !r.enqueue(ev) {
			r.Metrics.Inc(observe.MetricInboundQueueDropped, 1)
			r.Log.Debug("inbound frame dropped", "reason", "queue_full", "interaction_type", ev.Type)
		}
	}
}

// enqueue applies the per-type overflow policy and reports whether the event
// made it onto the queue.
func (r *Reader) enqueue(ev *retell.Inbound) bool {
	item := InboundItem{Event: ev}
	switch ev.Type {
	case retell.InteractionUpdateOnly:
		// Only the newest transcript snapshot matters.
		r.Inbound.DropWhere(isUpdateOnly)
		ok, _ := r.Inbound.Put(item, nil)
		return ok

	case retell.InteractionResponseRequired, retell.InteractionReminderRequired:
		ok, _ := r.Inbound.Put(item, evictBulkForResponse)
		if ok {
			return true
		}
		// Queue is saturated with response requests: displace one that
		// targets an older turn.
		ok, _ = r.Inbound.Put(item, func(x InboundItem) bool {
			return hasResponseID(x) && x.Event.ResponseID < ev.ResponseID
		})
		return ok

	case retell.InteractionPingPong:
		return r.putEvictingSnapshot(item, "ping")

	case retell.InteractionClear:
		return r.putEvictingSnapshot(item, "clear")

	case retell.InteractionCallDetails:
		ok, _ := r.Inbound.Put(item, isUpdateOnly)
		return ok

	default:
		ok, _ := r.Inbound.Put(item, nil)
		return ok
	}
}

// putEvictingSnapshot admits a control event, sacrificing one queued
// transcript snapshot when the queue is full.
func (r *Reader) putEvictingSnapshot(item InboundItem, kind string) bool {
	if ok, _ := r.Inbound.Put(item, nil); ok {
		return true
	}
	if _, evicted := r.Inbound.EvictOneWhere(isUpdateOnly); !evicted {
		return false
	}
	r.Metrics.Inc(observe.MetricInboundQueueEviction, 1)
	r.Metrics.Inc("inbound.queue_evictions.drop_update_only_for_"+kind+"_total", 1)
	ok, _ := r.Inbound.Put(item, nil)
	return ok
}

func (r *Reader) putClosed(reason string) {
	// A closed notice must reach the orchestrator even when the queue is
	// full; anything else can make room for it.
	r.Inbound.Put(InboundItem{CloseReason: reason}, func(x InboundItem) bool {
		return !x.Closed()
	})
}

func isUpdateOnly(it InboundItem) bool {
	return it.Event != nil && it.Event.Type == retell.InteractionUpdateOnly
}

func hasResponseID(it InboundItem) bool {
	if it.Event == nil {
		return false
	}
	switch it.Event.Type {
	case retell.InteractionResponseRequired, retell.InteractionReminderRequired:
		return true
	}
	return false
}

// evictBulkForResponse is the first-round eviction for response requests:
// transcript snapshots, keepalives and call details give way.
func evictBulkForResponse(it InboundItem) bool {
	if it.Event == nil {
		return false
	}
	switch it.Event.Type {
	case retell.InteractionUpdateOnly, retell.InteractionPingPong, retell.InteractionCallDetails:
		return true
	}
	return false
}
