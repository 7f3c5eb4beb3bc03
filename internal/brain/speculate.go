package brain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/retell"
	"github.com/MrWong99/vocalith/internal/tools"
)

// transcriptKey fingerprints a transcript snapshot by its length and the
// last finalized user utterance.
func transcriptKey(transcript []retell.Utterance) string {
	payload := strconv.Itoa(len(transcript)) + "|" +
		strings.ToLower(strings.TrimSpace(retell.LastUserText(transcript)))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// toolReqKey canonicalizes a tool request list so a speculative prefetch can
// be matched against the real decision's requests.
func toolReqKey(reqs []dialog.ToolRequest) string {
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		args := "{}"
		if len(r.Arguments) > 0 {
			if j, err := retell.CanonicalJSON(r.Arguments); err == nil {
				args = string(j)
			}
		}
		parts = append(parts, fmt.Sprintf("%s:%s", r.Name, args))
	}
	return strings.Join(parts, "|")
}

// cancelSpeculation stops any in-flight speculative worker. With keepResult
// a result already delivered survives for the next turn to match against.
func (o *Orchestrator) cancelSpeculation(keepResult bool) {
	if o.cancelSpecFn != nil {
		o.cancelSpecFn()
		o.cancelSpecFn = nil
	}
	select {
	case res := <-o.specCh:
		if keepResult {
			r := res
			o.specResult = &r
		}
	default:
	}
}

// maybeStartSpeculation precomputes the likely next policy decision while
// the platform is still waiting out the user's pause. Clinic profile only:
// the B2B funnel is deterministic and tool-free, precompute buys nothing.
func (o *Orchestrator) maybeStartSpeculation(ev *retell.Inbound) {
	if o.cfg.Turn.Profile == dialog.ProfileB2B {
		return
	}
	if o.convState != ConvListening {
		return
	}
	if ev.Turntaking != "" && ev.Turntaking != retell.TurnUser {
		return
	}
	tkey := transcriptKey(ev.Transcript)
	if tkey == o.specKey && o.specDone != nil && !o.specDone.Load() {
		return
	}
	o.specKey = tkey
	o.cancelSpeculation(false)

	// Snapshot here on the actor goroutine; the worker must never touch
	// live state. Turn-local funnel memory is deliberately excluded so a
	// speculative decision cannot observe loop-breaker bookkeeping.
	specState := o.slotState.Clone()
	specState.B2BLastStage = dialog.StageOpen
	specState.B2BLastSignal = ""
	specState.B2BNoSignalStreak = 0
	specState.B2BLastUserSignature = ""

	transcript := append([]retell.Utterance(nil), ev.Transcript...)

	ctx, cancel := context.WithCancel(o.ctx)
	o.cancelSpecFn = cancel
	done := &atomic.Bool{}
	o.specDone = done

	go o.speculate(ctx, done, tkey, specState, transcript)
}

func (o *Orchestrator) speculate(ctx context.Context, done *atomic.Bool, tkey string, state *dialog.SlotState, transcript []retell.Utterance) {
	defer done.Store(true)

	if err := o.p.Clock.SleepMS(ctx, o.cfg.SpeculativeDebounceMS); err != nil {
		return
	}
	if !o.listening.Load() {
		return
	}

	lastUser := retell.LastUserText(transcript)
	safety := dialog.EvaluateUserText(lastUser, o.cfg.Turn.ClinicName, o.cfg.Turn.Profile, o.cfg.B2BOrgName)
	action := dialog.Decide(dialog.Input{
		State:        state,
		Transcript:   transcript,
		NeedsApology: false,
		Safety:       safety,
		CallID:       o.p.CallID,
		Profile:      o.cfg.Turn.Profile,
	})
	objection := dialog.DetectObjection(lastUser)
	action = dialog.ApplyPlaybook(action, objection, state.Reprompts["dt"], o.cfg.Turn.Profile).Action

	var records []tools.Record
	if o.cfg.PrefetchEnabled && len(action.ToolRequests) > 0 {
		timeoutMS := min(o.cfg.Turn.ToolTimeoutMS, o.cfg.PrefetchTimeoutMS)
		if timeoutMS < 1 {
			timeoutMS = 1
		}
		started := o.p.Clock.NowMS()
		for _, req := range action.ToolRequests {
			rec, err := o.p.Tools.Invoke(ctx, tools.InvokeRequest{
				Name:        req.Name,
				Arguments:   req.Arguments,
				TimeoutMS:   timeoutMS,
				StartedAtMS: started,
			})
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	}

	res := specResult{
		TranscriptKey: tkey,
		ToolReqKey:    toolReqKey(action.ToolRequests),
		Records:       records,
		CreatedAtMS:   o.p.Clock.NowMS(),
	}

	// Newest result wins the one-slot channel.
	select {
	case <-o.specCh:
	default:
	}
	o.p.Metrics.Inc(observe.MetricSpeculativeResults, 1)
	select {
	case o.specCh <- res:
	case <-ctx.Done():
	}
}
