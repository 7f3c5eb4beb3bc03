// Package server is the HTTP and websocket front of the voice gateway. It
// accepts the per-call LLM websocket, checks the admission gates, and wires
// each accepted connection to a full session: bounded queues, the turn gate,
// the transport reader and writer, and the session orchestrator. It also
// serves health probes and the Prometheus scrape endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalith/internal/brain"
	"github.com/MrWong99/vocalith/internal/clock"
	"github.com/MrWong99/vocalith/internal/config"
	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/llm"
	"github.com/MrWong99/vocalith/internal/llm/anyllm"
	mockllm "github.com/MrWong99/vocalith/internal/llm/mock"
	openaillm "github.com/MrWong99/vocalith/internal/llm/openai"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/outcome"
	outcomepg "github.com/MrWong99/vocalith/internal/outcome/postgres"
	"github.com/MrWong99/vocalith/internal/queue"
	"github.com/MrWong99/vocalith/internal/resilience"
	"github.com/MrWong99/vocalith/internal/tools"
	"github.com/MrWong99/vocalith/internal/trace"
	"github.com/MrWong99/vocalith/internal/transport"
	"github.com/MrWong99/vocalith/internal/turn"
)

// Close reasons used on the websocket close frame itself.
const (
	closeReasonNonCanonicalRoute = "non_canonical_route"
	closeReasonForbidden         = "forbidden"
	closeReasonSessionEnd        = "session_end"
)

// Server owns the process-wide pieces shared by every call: the access
// guard, the session registry, the MCP host, the outcome sink, and the call
// script. Per-call state is assembled fresh in handleCall.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	guard    *AccessGuard
	sessions *SessionRegistry
	mcp      *tools.MCPHost
	outcomes outcome.Sink
	script   *dialog.CallScript
	exporter *observe.Exporter

	// closers run during Close in registration order.
	closers []func() error
}

// New assembles a server from a validated config. It connects the outcome
// store and MCP servers synchronously so startup fails loudly instead of on
// the first call.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		sessions: NewSessionRegistry(),
	}

	guard, err := NewAccessGuard(cfg.Security)
	if err != nil {
		return nil, err
	}
	s.guard = guard

	if err := s.initScript(); err != nil {
		return nil, err
	}
	if err := s.initOutcomes(ctx); err != nil {
		return nil, err
	}
	s.initMCP(ctx)

	exporter, err := observe.NewExporter(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("server: metrics exporter: %w", err)
	}
	s.exporter = exporter

	return s, nil
}

func (s *Server) initScript() error {
	if path := s.cfg.Dialog.ScriptPath; path != "" {
		script, err := dialog.LoadCallScript(path)
		if err != nil {
			return fmt.Errorf("server: load call script: %w", err)
		}
		s.script = script
		return nil
	}
	s.script = dialog.DefaultCallScript()
	return nil
}

func (s *Server) initOutcomes(ctx context.Context) error {
	dsn := s.cfg.Outcome.PostgresDSN
	if dsn == "" {
		s.outcomes = outcome.NewMemory()
		return nil
	}

	var embedder outcome.Embedder
	if s.cfg.Outcome.EmbeddingEnabled {
		e, err := outcome.NewOpenAIEmbedder(
			s.cfg.LLM.OpenAI.APIKey,
			s.cfg.Outcome.EmbeddingModel,
			time.Duration(s.cfg.LLM.OpenAI.TimeoutMS)*time.Millisecond,
		)
		if err != nil {
			return fmt.Errorf("server: outcome embedder: %w", err)
		}
		embedder = e
	}

	store, err := outcomepg.NewStore(ctx, dsn, embedder, outcomeEmbeddingDims)
	if err != nil {
		return fmt.Errorf("server: outcome store: %w", err)
	}
	s.outcomes = store
	s.closers = append(s.closers, func() error { store.Close(); return nil })
	return nil
}

// outcomeEmbeddingDims matches text-embedding-3-small.
const outcomeEmbeddingDims = 1536

func (s *Server) initMCP(ctx context.Context) {
	host := tools.NewMCPHost(s.log)
	servers := make([]tools.ServerConfig, 0, len(s.cfg.Tools.MCPServers))
	for _, srv := range s.cfg.Tools.MCPServers {
		servers = append(servers, tools.ServerConfig{
			Name:      srv.Name,
			Transport: mcpTransport(srv.Transport),
			Command:   strings.TrimSpace(srv.Command + " " + strings.Join(srv.Args, " ")),
			URL:       srv.URL,
			LatencyMS: srv.LatencyHintMS,
		})
	}
	host.ConnectAll(ctx, servers)
	s.mcp = host
	s.closers = append(s.closers, host.Close)
}

func mcpTransport(t config.MCPTransport) tools.Transport {
	if t == config.MCPHTTP {
		return tools.TransportStreamableHTTP
	}
	return tools.TransportStdio
}

// Handler returns the full HTTP surface: the call websocket route, health
// probes, and the Prometheus scrape endpoint. Probe and scrape routes are
// single-segment literals so they never shadow the two-segment call route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	newHealthHandler(s.sessions, s.readiness()...).register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{route}/{call_id}", s.handleCall)
	return observe.Middleware(s.exporter)(mux)
}

func (s *Server) readiness() []HealthChecker {
	var checks []HealthChecker
	if store, ok := s.outcomes.(*outcomepg.Store); ok {
		checks = append(checks, HealthChecker{
			Name: "outcome_store",
			Check: func(ctx context.Context) error {
				_, err := store.Recent(ctx, 1)
				return err
			},
		})
	}
	return checks
}

// Close tears down the shared subsystems. Live sessions are not waited for;
// cancel the server context first and let them drain.
func (s *Server) Close() error {
	if n := s.sessions.Count(); n > 0 {
		s.log.Warn("closing with live sessions", "sessions", n, "calls", s.sessions.ActiveCalls())
	}
	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleCall upgrades one call websocket and runs its session to completion.
// Policy rejections upgrade first and then close with 1008 so the platform
// sees a proper close frame instead of a bare HTTP error.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	route := r.PathValue("route")
	callID := r.PathValue("call_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Retell connects without a browser origin
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "call_id", callID, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.Server.MaxFrameBytes)

	if s.cfg.Server.EnforceCanonicalRoute && route != s.cfg.Server.CanonicalRoute {
		s.log.Warn("rejected websocket on non-canonical route", "route", route, "call_id", callID)
		s.exporter.Inc(observe.MetricWSCloseReason(closeReasonNonCanonicalRoute), 1)
		_ = conn.Close(websocket.StatusPolicyViolation, closeReasonNonCanonicalRoute)
		return
	}
	if reason, ok := s.guard.Admit(r); !ok {
		s.log.Warn("rejected websocket", "call_id", callID, "reason", reason)
		s.exporter.Inc(observe.MetricWSCloseReason(closeReasonForbidden), 1)
		_ = conn.Close(websocket.StatusPolicyViolation, closeReasonForbidden)
		return
	}

	release := s.sessions.Register(callID)
	defer release()

	s.runSession(r.Context(), conn, callID)
}

// runSession assembles and runs one call session, then closes the socket.
func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, callID string) {
	sessionID := uuid.NewString()
	log := s.log.With("session_id", sessionID, "call_id", callID)

	clk := clock.NewReal()
	metrics := observe.NewComposite(observe.NewSessionMetrics(), s.exporter)
	sink := trace.NewSink(0)

	inbound := queue.New[transport.InboundItem](s.cfg.Server.InboundQueueMax)
	outbound := queue.New[transport.Envelope](s.cfg.Server.OutboundQueueMax)
	gate := transport.NewGate(0)

	registry := tools.NewRegistry(sessionID, clk)
	for name, ms := range s.cfg.Tools.LatencyMS {
		registry.SetLatency(name, ms)
	}
	s.mcp.Bind(registry)

	model, err := s.buildModel(callID, clk)
	if err != nil {
		log.Error("model client unavailable, session falls back to scripted phrasing", "error", err)
		model = nil
	}
	if model != nil {
		defer func() { _ = model.Close() }()
	}

	orch := brain.New(brain.Params{
		SessionID: sessionID,
		CallID:    callID,
		Config:    brainConfig(s.cfg),
		Clock:     clk,
		Metrics:   metrics,
		Trace:     sink,
		Inbound:   inbound,
		Outbound:  outbound,
		Gate:      gate,
		Tools:     registry,
		Model:     model,
		Script:    s.script,
		Outcomes:  s.outcomes,
		Logger:    log,
	})

	ws := transport.NewWS(conn)
	reader := &transport.Reader{
		Conn:          ws,
		Inbound:       inbound,
		Metrics:       metrics,
		Log:           log,
		MaxFrameBytes: int(s.cfg.Server.MaxFrameBytes),
	}
	writer := &transport.Writer{
		Conn:                        ws,
		Outbound:                    outbound,
		Inbound:                     inbound,
		Gate:                        gate,
		Clock:                       clk,
		Metrics:                     metrics,
		Log:                         log,
		WriteTimeoutMS:              s.cfg.Server.WriteTimeoutMS,
		CloseOnWriteTimeout:         s.cfg.Server.CloseOnWriteTimeout,
		MaxConsecutiveWriteTimeouts: s.cfg.Server.MaxConsecutiveWriteTimeouts,
	}

	log.Info("session started")
	startMS := clk.NowMS()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error {
		// The orchestrator decides when the session is over; closing the
		// socket afterwards unblocks the reader.
		err := orch.Run(gctx)
		_ = ws.Close(websocket.StatusNormalClosure, closeReasonSessionEnd)
		return err
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("session ended with error", "error", err)
	}

	log.Info("session finished", "duration_ms", clk.NowMS()-startMS, "replay_digest", sink.ReplayDigest())
}

// buildModel creates the per-call model client. With the canary switched
// on, only the configured share of calls gets the OpenAI backend; the rest
// and every failure path use the scripted mock so a provider outage never
// silences calls.
func (s *Server) buildModel(callID string, clk clock.Clock) (llm.Client, error) {
	cfg := s.cfg.LLM
	if !cfg.UseNLG {
		return nil, nil
	}

	provider := cfg.Provider
	if provider == config.ProviderOpenAI && cfg.OpenAI.CanaryEnabled &&
		!config.RolloutEnabled(callID, cfg.OpenAI.CanaryPercent) {
		provider = config.ProviderMock
	}

	switch provider {
	case config.ProviderOpenAI:
		primary, err := openaillm.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model,
			openaillm.WithTimeout(time.Duration(cfg.OpenAI.TimeoutMS)*time.Millisecond),
			openaillm.WithReasoningEffort(cfg.OpenAI.ReasoningEffort),
		)
		if err != nil {
			return nil, err
		}
		fb := resilience.NewLLMFallback(primary, "openai", resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Clock: clk, Logger: s.log},
		})
		if cfg.AnyLLM.Provider != "" {
			secondary, err := anyllm.New(cfg.AnyLLM.Provider, cfg.AnyLLM.Model,
				anyllmlib.WithAPIKey(cfg.AnyLLM.APIKey))
			if err != nil {
				s.log.Warn("anyllm fallback unavailable", "error", err)
			} else {
				fb.AddFallback(cfg.AnyLLM.Provider, secondary)
			}
		}
		fb.AddFallback("scripted", &mockllm.Client{})
		return fb, nil

	case config.ProviderAnyLLM:
		return anyllm.New(cfg.AnyLLM.Provider, cfg.AnyLLM.Model,
			anyllmlib.WithAPIKey(cfg.AnyLLM.APIKey))

	default:
		return &mockllm.Client{}, nil
	}
}

// brainConfig maps the flat YAML sections onto the session config.
func brainConfig(cfg *config.Config) brain.Config {
	return brain.Config{
		Turn: turnConfig(cfg),

		SpeakFirst:               cfg.Session.SpeakFirst,
		AutoReconnect:            cfg.Session.AutoReconnect,
		SendCallDetails:          cfg.Session.CallDetails,
		TranscriptWithToolCalls:  cfg.Session.TranscriptWithToolCalls,
		SendUpdateAgentOnConnect: cfg.Session.SendUpdateAgentOnConnect,
		Responsiveness:           cfg.Session.Responsiveness,
		InterruptionSensitivity:  cfg.Session.InterruptionSensitivity,
		ReminderTriggerMS:        cfg.Session.ReminderTriggerMS,
		ReminderMaxCount:         cfg.Session.ReminderMaxCount,

		PingIntervalMS:      cfg.Session.PingIntervalMS,
		IdleTimeoutMS:       cfg.Session.IdleTimeoutMS,
		PingWriteDeadlineMS: cfg.Session.PingWriteDeadlineMS,

		TurnQueueMax:            cfg.Session.TurnQueueMax,
		TranscriptMaxUtterances: cfg.Session.TranscriptMaxUtterances,
		TranscriptMaxChars:      cfg.Session.TranscriptMaxChars,

		B2BAgentName:       cfg.Dialog.B2BAgentName,
		B2BOrgName:         cfg.Dialog.B2BOrgName,
		B2BAutoDisclosure:  cfg.Dialog.B2BAutoDisclosure,
		OpenerPlaceholders: cfg.Dialog.OpenerPlaceholders,

		PreAckEnabled:             cfg.Session.PreAckEnabled,
		AgentTurnInterruptEnabled: cfg.Session.AgentTurnInterruptEnabled,

		BackchannelEnabled:       cfg.Session.BackchannelEnabled,
		BackchannelMinIntervalMS: cfg.Session.BackchannelMinIntervalMS,
		BackchannelMaxIntervalMS: cfg.Session.BackchannelMaxIntervalMS,

		SpeculativeEnabled:    cfg.Speculative.Enabled,
		SpeculativeDebounceMS: cfg.Speculative.DebounceMS,
		PrefetchEnabled:       cfg.Speculative.PrefetchEnabled,
		PrefetchTimeoutMS:     cfg.Speculative.PrefetchTimeoutMS,
	}
}

func turnConfig(cfg *config.Config) turn.Config {
	return turn.Config{
		Profile: cfg.Session.Profile,

		MaxSegmentExpectedMS: cfg.Timing.MaxSegmentExpectedMS,
		PaceMSPerChar:        cfg.Speech.PaceMSPerChar,
		MaxMonologueMS:       cfg.Timing.MaxMonologueMS,
		Markup:               cfg.Speech.MarkupMode,
		DashPauseUnitMS:      cfg.Speech.DashPauseUnitMS,
		DigitDashPauseUnitMS: cfg.Speech.DigitDashPauseUnitMS,
		PauseScope:           cfg.Speech.PauseScope,

		ToolTimeoutMS:         cfg.Timing.ToolTimeoutMS,
		ToolFillerThresholdMS: cfg.Timing.ToolFillerThresholdMS,
		MaxFillersPerTool:     cfg.Timing.MaxFillersPerTool,

		Guard: llm.GuardPolicy{
			PlainLanguage:   true,
			NoReasoningLeak: true,
			JargonBlocklist: true,
		},

		UseModelNLG:            cfg.LLM.UseNLG,
		ModelFillerThresholdMS: cfg.Timing.ModelFillerThresholdMS,
		ModelTimeoutMS:         cfg.Timing.ModelTimeoutMS,
		FactPhrasingEnabled:    cfg.LLM.FactPhrasingEnabled,

		ClinicName:  cfg.Dialog.ClinicName,
		ClinicCity:  cfg.Dialog.ClinicCity,
		ClinicState: cfg.Dialog.ClinicState,
	}
}
