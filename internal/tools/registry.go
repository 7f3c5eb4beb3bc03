// Package tools runs the deterministic tool surface of a call session.
//
// A [Registry] owns every tool a session may invoke: the builtin clinic and
// campaign tools, plus anything bound in from external MCP servers. Calls
// are sequential per turn, carry deterministic ids of the form
// "<session>:tool:<seq>", and respect absolute deadlines computed against
// the session [clock.Clock] so that a test driving a [clock.Fake] sees the
// exact same timeout behaviour as production sees against wall time.
//
// Tool latency can be injected per tool name. The injected sleep is anchored
// to the declared start time, not the moment the goroutine happens to run,
// which keeps rehearsal traces byte-stable across schedulings.
package tools

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/retell"
)

// Fn is one callable tool. The returned string is the result content,
// conventionally canonical JSON. A non-nil error marks the record failed
// and surfaces as "tool_error:<message>" content.
type Fn func(ctx context.Context, args map[string]any) (string, error)

// Record is one finished tool call, successful or not.
type Record struct {
	ToolCallID    string
	Name          string
	Arguments     map[string]any
	StartedAtMS   int64
	CompletedAtMS int64
	OK            bool
	Content       string
}

// EmitInvocation announces a tool call on the wire before it runs.
type EmitInvocation func(ctx context.Context, toolCallID, name, argsJSON string) error

// EmitResult delivers the result content for a previously announced call.
type EmitResult func(ctx context.Context, toolCallID, content string) error

// InvokeRequest describes one tool call.
type InvokeRequest struct {
	Name      string
	Arguments map[string]any

	// TimeoutMS bounds the call. The deadline is absolute at
	// StartedAtMS+TimeoutMS, so FakeClock jumps cannot stretch it.
	TimeoutMS int64

	// StartedAtMS anchors latency injection and the timeout deadline.
	// Zero or negative anchors at the current clock time.
	StartedAtMS int64

	EmitInvocation EmitInvocation
	EmitResult     EmitResult
}

// Registry owns the tool set of one session. Safe for concurrent use,
// though invocations within a turn are sequential by contract.
type Registry struct {
	sessionID string
	clock     clock.Clock

	mu      sync.Mutex
	seq     int64
	latency map[string]int64
	tools   map[string]Fn
}

// NewRegistry returns a registry pre-loaded with the builtin tool set.
func NewRegistry(sessionID string, clk clock.Clock) *Registry {
	r := &Registry{
		sessionID: sessionID,
		clock:     clk,
		latency:   make(map[string]int64),
		tools:     make(map[string]Fn),
	}
	r.registerBuiltins()
	return r
}

// CanonicalToolName trims and lowercases a tool name, folding the legacy
// "mark_dnc" alias into "mark_dnc_compliant".
func CanonicalToolName(name string) string {
	key := strings.TrimSpace(name)
	if strings.EqualFold(key, "mark_dnc") {
		return "mark_dnc_compliant"
	}
	return strings.ToLower(key)
}

// Register adds or replaces a tool under its canonical name.
func (r *Registry) Register(name string, fn Fn) {
	key := CanonicalToolName(name)
	r.mu.Lock()
	r.tools[key] = fn
	r.mu.Unlock()
}

// Has reports whether name resolves to a registered tool.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[CanonicalToolName(name)]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// SetLatency injects an artificial latency for one tool.
func (r *Registry) SetLatency(name string, ms int64) {
	r.mu.Lock()
	r.latency[CanonicalToolName(name)] = ms
	r.mu.Unlock()
}

// Latency returns the injected latency for a tool, 0 when none.
func (r *Registry) Latency(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latency[CanonicalToolName(name)]
}

func (r *Registry) nextToolCallID() string {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return fmt.Sprintf("%s:tool:%d", r.sessionID, seq)
}

// Invoke runs one tool to completion or deadline. A timeout is an in-band
// outcome: OK=false with Content "tool_timeout". The error return is
// reserved for unknown tools, context cancellation, and emit failures.
func (r *Registry) Invoke(ctx context.Context, req InvokeRequest) (Record, error) {
	name := CanonicalToolName(req.Name)
	r.mu.Lock()
	fn, known := r.tools[name]
	r.mu.Unlock()
	if !known {
		return Record{}, fmt.Errorf("tools: unknown tool %q", req.Name)
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	toolCallID := r.nextToolCallID()
	started := req.StartedAtMS
	if started <= 0 {
		started = r.clock.NowMS()
	}

	argsJSON, err := retell.CanonicalString(args)
	if err != nil {
		argsJSON = "{}"
	}
	if req.EmitInvocation != nil {
		if err := req.EmitInvocation(ctx, toolCallID, name, argsJSON); err != nil {
			return Record{}, fmt.Errorf("tools: emit invocation: %w", err)
		}
	}

	ok, content, err := r.run(ctx, fn, args, started, r.Latency(name), started+req.TimeoutMS)
	if err != nil {
		return Record{}, err
	}
	completed := r.clock.NowMS()

	if req.EmitResult != nil {
		if err := req.EmitResult(ctx, toolCallID, content); err != nil {
			return Record{}, fmt.Errorf("tools: emit result: %w", err)
		}
	}

	return Record{
		ToolCallID:    toolCallID,
		Name:          name,
		Arguments:     maps.Clone(args),
		StartedAtMS:   started,
		CompletedAtMS: completed,
		OK:            ok,
		Content:       content,
	}, nil
}

// run races the tool body against the absolute deadline. Both sides share
// one cancellable context so the loser is always unparked from the clock.
func (r *Registry) run(ctx context.Context, fn Fn, args map[string]any, startedMS, latencyMS, deadlineMS int64) (bool, string, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		if latencyMS > 0 {
			if err := r.clock.SleepUntil(raceCtx, startedMS+latencyMS); err != nil {
				done <- outcome{err: err}
				return
			}
		}
		content, err := fn(raceCtx, args)
		done <- outcome{content: content, err: err}
	}()

	expired := make(chan error, 1)
	go func() { expired <- r.clock.SleepUntil(raceCtx, deadlineMS) }()

	finish := func(out outcome) (bool, string, error) {
		if out.err != nil {
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			return false, "tool_error:" + out.err.Error(), nil
		}
		return true, out.content, nil
	}

	select {
	case out := <-done:
		return finish(out)
	case err := <-expired:
		if err != nil {
			// The session context went away, not the deadline.
			return false, "", err
		}
		// Deadline hit; still prefer work that finished on the same tick.
		select {
		case out := <-done:
			return finish(out)
		default:
		}
		return false, "tool_timeout", nil
	}
}
