package turn

import (
	"context"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/speech"
	"github.com/MrWong99/vocalith/internal/tools"
)

// runTools executes the action's tool requests sequentially, weaving
// invocation and result frames into the output stream and masking latency
// with scripted fillers. A prefetched result matching a request by canonical
// name and arguments is replayed instead of re-running the tool.
func (h *Handler) runTools(ctx context.Context) ([]tools.Record, error) {
	prefetched := make(map[string]tools.Record, len(h.p.Prefetched))
	for _, rec := range h.p.Prefetched {
		prefetched[prefetchKey(rec.Name, rec.Arguments)] = rec
	}

	records := make([]tools.Record, 0, len(h.p.Action.ToolRequests))
	for _, req := range h.p.Action.ToolRequests {
		if pre, ok := prefetched[prefetchKey(req.Name, req.Arguments)]; ok && pre.OK {
			argsJSON, err := retell.CanonicalString(nonNilArgs(req.Arguments))
			if err != nil {
				argsJSON = "{}"
			}
			h.emitOutbound(&retell.ToolCallInvocationFrame{
				ToolCallID: pre.ToolCallID,
				Name:       pre.Name,
				Arguments:  argsJSON,
			})
			h.emitOutbound(&retell.ToolCallResultFrame{
				ToolCallID: pre.ToolCallID,
				Content:    pre.Content,
			})
			h.p.Metrics.Observe(observe.MetricToolCallTotalMS, pre.CompletedAtMS-pre.StartedAtMS)
			records = append(records, pre)
			continue
		}

		rec, err := h.invokeMasked(ctx, req)
		if err != nil {
			return records, err
		}
		h.p.Metrics.Observe(observe.MetricToolCallTotalMS, rec.CompletedAtMS-rec.StartedAtMS)
		if !rec.OK {
			h.p.Metrics.Inc(observe.MetricToolFailures, 1)
		}
		records = append(records, rec)
	}
	return records, nil
}

// invokeMasked runs one tool call while racing the clock for filler
// deadlines. The registry owns the hard timeout and delivers it as an
// in-band record, so this loop only decides when to speak.
func (h *Handler) invokeMasked(ctx context.Context, req dialog.ToolRequest) (tools.Record, error) {
	cfg := h.p.Config
	started := h.p.Clock.NowMS()
	timeoutAt := started + cfg.ToolTimeoutMS

	// First filler at the threshold, an optional second after a longer
	// wait. Deterministic regardless of tool scheduling.
	deadlines := []int64{started + cfg.ToolFillerThresholdMS}
	if cfg.MaxFillersPerTool > 1 {
		gap := max(cfg.ToolFillerThresholdMS, 200)
		deadlines = append(deadlines, started+cfg.ToolFillerThresholdMS+gap)
	}

	type invokeResult struct {
		rec tools.Record
		err error
	}
	resCh := make(chan invokeResult, 1)
	go func() {
		rec, err := h.p.Tools.Invoke(ctx, tools.InvokeRequest{
			Name:           req.Name,
			Arguments:      req.Arguments,
			TimeoutMS:      cfg.ToolTimeoutMS,
			StartedAtMS:    started,
			EmitInvocation: h.emitToolInvocation,
			EmitResult:     h.emitToolResult,
		})
		resCh <- invokeResult{rec: rec, err: err}
	}()

	fillersSent := 0
	firstFillerSent := false
	for {
		var next int64
		if fillersSent < cfg.MaxFillersPerTool {
			now := h.p.Clock.NowMS()
			for _, d := range deadlines {
				if d > now {
					next = d
					break
				}
			}
		}
		if next == 0 || next >= timeoutAt {
			// No filler left before the hard stop; just wait for the
			// record.
			res := <-resCh
			return res.rec, res.err
		}

		sleepCtx, cancelSleep := context.WithCancel(ctx)
		slept := make(chan error, 1)
		go func() { slept <- h.p.Clock.SleepUntil(sleepCtx, next) }()

		// A finished tool wins a tie with its own filler deadline.
		var res invokeResult
		var gotRes bool
		select {
		case res = <-resCh:
			gotRes = true
		default:
			select {
			case res = <-resCh:
				gotRes = true
			case err := <-slept:
				if err != nil {
					cancelSleep()
					res = <-resCh
					return res.rec, res.err
				}
			}
		}
		if gotRes {
			cancelSleep()
			<-slept
			return res.rec, res.err
		}
		cancelSleep()

		h.emitFillerPlan(fillersSent)
		fillersSent++
		if !firstFillerSent {
			firstFillerSent = true
			h.p.Metrics.Observe(observe.MetricToolCallToFirstFillerMS, h.p.Clock.NowMS()-started)
		}
	}
}

func (h *Handler) emitFillerPlan(fillerIndex int) {
	options := h.p.Script.FillerFirst
	if fillerIndex > 0 {
		options = h.p.Script.FillerFollowUp
	}
	text := h.guard(h.pickPhrase(options, "FILLER", fillerIndex))
	segs := speech.MicroChunk(text, h.chunkOpts(speech.PurposeFiller))
	h.emitPlan(h.buildPlan(h.p.Clock.NowMS(), speech.ReasonFiller, segs, nil, false))
}

func (h *Handler) emitToolInvocation(_ context.Context, toolCallID, name, argsJSON string) error {
	h.emitOutbound(&retell.ToolCallInvocationFrame{
		ToolCallID: toolCallID,
		Name:       name,
		Arguments:  argsJSON,
	})
	return nil
}

func (h *Handler) emitToolResult(_ context.Context, toolCallID, content string) error {
	h.emitOutbound(&retell.ToolCallResultFrame{
		ToolCallID: toolCallID,
		Content:    content,
	})
	return nil
}

func prefetchKey(name string, args map[string]any) string {
	argsJSON, err := retell.CanonicalString(nonNilArgs(args))
	if err != nil {
		argsJSON = "{}"
	}
	return tools.CanonicalToolName(name) + "\x00" + argsJSON
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
