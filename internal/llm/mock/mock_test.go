package mock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/llm"
)

func TestClient_StreamsScriptedTokensInOrder(t *testing.T) {
	t.Parallel()

	c := &Client{Chunks: Text("Happy ", "to ", "help.")}
	ch, err := c.StreamText(context.Background(), "phrase this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Text)
	}
	if got, want := sb.String(), "Happy to help."; got != want {
		t.Errorf("streamed text = %q, want %q", got, want)
	}

	if len(c.StreamCalls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(c.StreamCalls))
	}
	if got := c.StreamCalls[0].Prompt; got != "phrase this" {
		t.Errorf("recorded prompt = %q, want %q", got, "phrase this")
	}
}

func TestClient_StreamErrSkipsChannel(t *testing.T) {
	t.Parallel()

	boom := errors.New("no backend")
	c := &Client{StreamErr: boom}
	ch, err := c.StreamText(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if ch != nil {
		t.Error("expected nil channel on stream error")
	}
	if len(c.StreamCalls) != 1 {
		t.Errorf("expected the failed call to be recorded, got %d records", len(c.StreamCalls))
	}
}

func TestClient_ErrorChunkEndsStream(t *testing.T) {
	t.Parallel()

	c := &Client{Chunks: []llm.Chunk{{Text: "part"}, {Err: errors.New("cut off")}}}
	ch, err := c.StreamText(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := <-ch
	if first.Text != "part" || first.Err != nil {
		t.Fatalf("first chunk = %+v, want text %q", first, "part")
	}
	second := <-ch
	if second.Err == nil {
		t.Fatal("expected error chunk")
	}
	if _, open := <-ch; open {
		t.Error("channel still open after error chunk")
	}
}

func TestClient_TokenDelayPacesDelivery(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(0)
	c := &Client{Chunks: Text("Hel", "lo"), TokenDelayMS: 120, Clock: clk}

	ch, err := c.StreamText(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, want := range []string{"Hel", "lo"} {
		if err := clk.BlockUntilSleepers(waitCtx, 1); err != nil {
			t.Fatalf("producer never slept: %v", err)
		}
		clk.Advance(120)
		chunk, open := <-ch
		if !open {
			t.Fatalf("stream closed before %q", want)
		}
		if chunk.Text != want {
			t.Errorf("chunk = %q, want %q", chunk.Text, want)
		}
	}
	if _, open := <-ch; open {
		t.Error("channel still open after last token")
	}
}

func TestClient_ContextCancelStopsDelayedStream(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(0)
	c := &Client{Chunks: Text("never"), TokenDelayMS: 1000, Clock: clk}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.StreamText(ctx, "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clk.BlockUntilSleepers(waitCtx, 1); err != nil {
		t.Fatalf("producer never slept: %v", err)
	}
	cancel()

	if chunk, open := <-ch; open {
		t.Errorf("expected closed channel after cancel, got %+v", chunk)
	}
}

func TestClient_CloseAndReset(t *testing.T) {
	t.Parallel()

	c := &Client{}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
	if c.CloseCount != 2 {
		t.Errorf("CloseCount = %d, want 2", c.CloseCount)
	}

	if _, err := c.StreamText(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Reset()
	if c.CloseCount != 0 || len(c.StreamCalls) != 0 {
		t.Errorf("Reset left records: closes=%d streams=%d", c.CloseCount, len(c.StreamCalls))
	}
}
