package transport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/transport"
	"github.com/MrWong99/vocalith/internal/transport/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startReader runs r until the test ends. The returned stop function cancels
// the run and waits for it to exit.
func startReader(t *testing.T, r *transport.Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReader_ParsesAndEnqueues(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](8)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(`{"interaction_type":"ping_pong","timestamp":4242}`)

	item, err := inbound.Get(testCtx(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Closed() || item.Event.Type != retell.InteractionPingPong {
		t.Fatalf("item = %+v, want ping_pong event", item)
	}
	if item.Event.Timestamp != 4242 {
		t.Fatalf("timestamp = %d, want 4242", item.Event.Timestamp)
	}
}

func TestReader_UpdateOnlyKeepsNewestSnapshot(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](16)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(
		`{"interaction_type":"update_only","transcript":[{"role":"user","content":"one"}]}`,
		`{"interaction_type":"update_only","transcript":[{"role":"user","content":"two"}]}`,
		`{"interaction_type":"update_only","transcript":[{"role":"user","content":"three"}]}`,
		`{"interaction_type":"ping_pong","timestamp":1}`,
	)

	// The ping is processed strictly after the updates.
	ctx := testCtx(t)
	if err := inbound.WaitForAny(ctx, transport.IsControlItem); err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}

	var updates []string
	for _, it := range inbound.Snapshot() {
		if it.Event != nil && it.Event.Type == retell.InteractionUpdateOnly {
			updates = append(updates, it.Event.Transcript[len(it.Event.Transcript)-1].Content)
		}
	}
	if len(updates) != 1 || updates[0] != "three" {
		t.Fatalf("queued updates = %v, want only the newest snapshot", updates)
	}
}

func TestReader_OversizedFrameClosesSession(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](8)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 64,
	}
	startReader(t, r)

	big := `{"interaction_type":"update_only","transcript":[{"role":"user","content":"` +
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" + `"}]}`
	conn.Push(big)

	item, err := inbound.Get(testCtx(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !item.Closed() || item.CloseReason != transport.CloseFrameTooLarge {
		t.Fatalf("item = %+v, want closed notice %s", item, transport.CloseFrameTooLarge)
	}
}

func TestReader_BadJSONClosesSession(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](8)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(`{"interaction_type": oops`)

	item, err := inbound.Get(testCtx(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !item.Closed() || item.CloseReason != transport.CloseBadJSON {
		t.Fatalf("item = %+v, want closed notice %s", item, transport.CloseBadJSON)
	}
}

func TestReader_SchemaViolationDroppedNotFatal(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](8)
	metrics := observe.NewSessionMetrics()
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: metrics, Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(
		`{"interaction_type":"ping_pong"}`, // missing timestamp
		`{"interaction_type":"ping_pong","timestamp":7}`,
	)

	item, err := inbound.Get(testCtx(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Closed() || item.Event.Timestamp != 7 {
		t.Fatalf("item = %+v, want the well-formed ping", item)
	}
	if got := metrics.Get(observe.MetricInboundBadSchema); got != 1 {
		t.Fatalf("bad_schema counter = %d, want 1", got)
	}
}

func TestReader_ResponseRequiredEvictsBulkTraffic(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](2)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(
		`{"interaction_type":"update_only","transcript":[{"role":"user","content":"hi"}]}`,
		`{"interaction_type":"ping_pong","timestamp":1}`,
		`{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":"hi"}]}`,
	)

	ctx := testCtx(t)
	err := inbound.WaitForAny(ctx, func(it transport.InboundItem) bool {
		return it.Event != nil && it.Event.Type == retell.InteractionResponseRequired
	})
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}

	var types []retell.InteractionType
	for _, it := range inbound.Snapshot() {
		types = append(types, it.Event.Type)
	}
	want := []retell.InteractionType{retell.InteractionPingPong, retell.InteractionResponseRequired}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("queue = %v, want %v (update_only evicted)", types, want)
	}
}

func TestReader_ResponseRequiredDisplacesOlderTurn(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](2)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.Push(
		`{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":"a"}]}`,
		`{"interaction_type":"response_required","response_id":2,"transcript":[{"role":"user","content":"b"}]}`,
		`{"interaction_type":"response_required","response_id":3,"transcript":[{"role":"user","content":"c"}]}`,
	)

	ctx := testCtx(t)
	err := inbound.WaitForAny(ctx, func(it transport.InboundItem) bool {
		return it.Event != nil && it.Event.ResponseID == 3
	})
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}

	var ids []int64
	for _, it := range inbound.Snapshot() {
		ids = append(ids, it.Event.ResponseID)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("queued response ids = %v, want [2 3] (oldest displaced)", ids)
	}
}

func TestReader_ControlEvictsSnapshotWhenFull(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		frame  string
		kind   retell.InteractionType
		metric string
	}{
		{
			name:   "ping",
			frame:  `{"interaction_type":"ping_pong","timestamp":9}`,
			kind:   retell.InteractionPingPong,
			metric: "inbound.queue_evictions.drop_update_only_for_ping_total",
		},
		{
			name:   "clear",
			frame:  `{"interaction_type":"clear"}`,
			kind:   retell.InteractionClear,
			metric: "inbound.queue_evictions.drop_update_only_for_clear_total",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := mock.NewConn()
			inbound := queue.New[transport.InboundItem](2)
			metrics := observe.NewSessionMetrics()
			r := &transport.Reader{
				Conn: conn, Inbound: inbound,
				Metrics: metrics, Log: discardLogger(),
				MaxFrameBytes: 262144,
			}
			startReader(t, r)

			conn.Push(
				`{"interaction_type":"update_only","transcript":[{"role":"user","content":"hi"}]}`,
				`{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":"hi"}]}`,
				tt.frame,
			)

			ctx := testCtx(t)
			err := inbound.WaitForAny(ctx, func(it transport.InboundItem) bool {
				return it.Event != nil && it.Event.Type == tt.kind
			})
			if err != nil {
				t.Fatalf("WaitForAny: %v", err)
			}

			var types []retell.InteractionType
			for _, it := range inbound.Snapshot() {
				types = append(types, it.Event.Type)
			}
			if len(types) != 2 || types[0] != retell.InteractionResponseRequired || types[1] != tt.kind {
				t.Fatalf("queue = %v, want [response_required %s]", types, tt.kind)
			}
			if got := metrics.Get(observe.MetricInboundQueueEviction); got != 1 {
				t.Errorf("eviction counter = %d, want 1", got)
			}
			if got := metrics.Get(tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
		})
	}
}

func TestReader_ReadErrorSurfacesAsClosedNotice(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	inbound := queue.New[transport.InboundItem](8)
	r := &transport.Reader{
		Conn: conn, Inbound: inbound,
		Metrics: observe.NewSessionMetrics(), Log: discardLogger(),
		MaxFrameBytes: 262144,
	}
	startReader(t, r)

	conn.FailReads(errors.New("connection reset"))

	item, err := inbound.Get(testCtx(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !item.Closed() || item.CloseReason != transport.CloseReadError {
		t.Fatalf("item = %+v, want closed notice %s", item, transport.CloseReadError)
	}
}
