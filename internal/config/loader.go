package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/speech"
)

// Load reads the YAML configuration file at path, layers it over [Default],
// and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found, and logs
// warnings for suspicious-but-legal values.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if route := strings.Trim(cfg.Server.CanonicalRoute, "/"); route == "" {
		errs = append(errs, errors.New("server.canonical_route is required"))
	} else if route != cfg.Server.CanonicalRoute {
		errs = append(errs, fmt.Errorf("server.canonical_route %q must not contain slashes", cfg.Server.CanonicalRoute))
	}
	if cfg.Server.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_frame_bytes %d must be positive", cfg.Server.MaxFrameBytes))
	}
	if cfg.Server.InboundQueueMax <= 0 || cfg.Server.OutboundQueueMax <= 0 {
		errs = append(errs, errors.New("server queue capacities must be positive"))
	}

	// Session
	if cfg.Session.Profile != "" && cfg.Session.Profile != dialog.ProfileClinic && cfg.Session.Profile != dialog.ProfileB2B {
		errs = append(errs, fmt.Errorf("session.profile %q is invalid; valid values: clinic, b2b", cfg.Session.Profile))
	}
	if r := cfg.Session.Responsiveness; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("session.responsiveness %.2f is out of range [0, 1]", r))
	}
	if s := cfg.Session.InterruptionSensitivity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("session.interruption_sensitivity %.2f is out of range [0, 1]", s))
	}
	if cfg.Session.TurnQueueMax <= 0 {
		errs = append(errs, errors.New("session.turn_queue_max must be positive"))
	}
	if cfg.Session.IdleTimeoutMS > 0 && cfg.Session.IdleTimeoutMS < cfg.Session.PingIntervalMS {
		slog.Warn("idle timeout below ping interval; keepalives alone will not hold sessions open",
			"idle_timeout_ms", cfg.Session.IdleTimeoutMS,
			"ping_interval_ms", cfg.Session.PingIntervalMS,
		)
	}
	if cfg.Session.PreAckEnabled || cfg.Session.AgentTurnInterruptEnabled {
		slog.Warn("speculative ack frames enabled; these can race platform interruption under backpressure")
	}

	// Speech
	if m := cfg.Speech.MarkupMode; m != "" && m != speech.MarkupDashPause && m != speech.MarkupRawText && m != speech.MarkupSSML {
		errs = append(errs, fmt.Errorf("speech.markup_mode %q is invalid; valid values: DASH_PAUSE, RAW_TEXT, SSML", m))
	}
	if s := cfg.Speech.PauseScope; s != "" && s != speech.PauseProtectedOnly && s != speech.PauseSegmentBoundary {
		errs = append(errs, fmt.Errorf("speech.pause_scope %q is invalid; valid values: PROTECTED_ONLY, SEGMENT_BOUNDARY", s))
	}
	if cfg.Speech.PaceMSPerChar <= 0 {
		errs = append(errs, fmt.Errorf("speech.pace_ms_per_char %d must be positive", cfg.Speech.PaceMSPerChar))
	}

	// Timing
	if cfg.Timing.MaxSegmentExpectedMS <= 0 {
		errs = append(errs, fmt.Errorf("timing.max_segment_expected_ms %d must be positive", cfg.Timing.MaxSegmentExpectedMS))
	}
	if cfg.Timing.ToolTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("timing.tool_timeout_ms %d must be positive", cfg.Timing.ToolTimeoutMS))
	}
	if cfg.Timing.ToolFillerThresholdMS >= cfg.Timing.ToolTimeoutMS {
		slog.Warn("tool filler threshold at or above the tool timeout; fillers will never play",
			"filler_threshold_ms", cfg.Timing.ToolFillerThresholdMS,
			"tool_timeout_ms", cfg.Timing.ToolTimeoutMS,
		)
	}

	// LLM
	if cfg.LLM.Provider != "" && !cfg.LLM.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: mock, openai, anyllm", cfg.LLM.Provider))
	}
	if cfg.LLM.UseNLG {
		switch cfg.LLM.Provider {
		case ProviderOpenAI:
			if cfg.LLM.OpenAI.APIKey == "" {
				errs = append(errs, errors.New("llm.openai.api_key is required when llm.use_nlg is on with the openai provider"))
			}
		case ProviderAnyLLM:
			if cfg.LLM.AnyLLM.Provider == "" {
				errs = append(errs, errors.New("llm.anyllm.provider is required when llm.use_nlg is on with the anyllm provider"))
			}
		}
	}
	if p := cfg.LLM.OpenAI.CanaryPercent; p < 0 || p > 100 {
		errs = append(errs, fmt.Errorf("llm.openai.canary_percent %d is out of range [0, 100]", p))
	}

	// Tools / MCP
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == MCPStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	// Outcome
	if cfg.Outcome.EmbeddingEnabled && cfg.Outcome.PostgresDSN == "" {
		errs = append(errs, errors.New("outcome.embedding_enabled requires outcome.postgres_dsn"))
	}
	if cfg.Outcome.EmbeddingEnabled && cfg.LLM.OpenAI.APIKey == "" {
		slog.Warn("outcome embeddings enabled without an OpenAI key; similar-call retrieval will be unavailable")
	}

	// Security
	errs = append(errs, validateCIDRs("security.allowlist_cidrs", cfg.Security.AllowlistEnabled, cfg.Security.AllowlistCIDRs)...)
	errs = append(errs, validateCIDRs("security.trusted_proxy_cidrs", cfg.Security.TrustedProxyEnabled, cfg.Security.TrustedProxyCIDRs)...)
	if cfg.Security.SharedSecretEnabled && cfg.Security.SharedSecret == "" {
		errs = append(errs, errors.New("security.shared_secret is required when security.shared_secret_enabled is on"))
	}

	// Speculative
	if cfg.Speculative.PrefetchEnabled && cfg.Speculative.PrefetchTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("speculative.prefetch_timeout_ms %d must be positive when prefetch is on", cfg.Speculative.PrefetchTimeoutMS))
	}

	return errors.Join(errs...)
}

// validateCIDRs parses every entry and, when the gate is enabled, requires
// at least one.
func validateCIDRs(field string, enabled bool, cidrs []string) []error {
	var errs []error
	for i, c := range cidrs {
		if _, err := netip.ParsePrefix(strings.TrimSpace(c)); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d] %q is not a valid CIDR: %w", field, i, c, err))
		}
	}
	if enabled && len(cidrs) == 0 {
		errs = append(errs, fmt.Errorf("%s must list at least one CIDR when its gate is enabled", field))
	}
	return errs
}
