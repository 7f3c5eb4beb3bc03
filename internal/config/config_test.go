package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/vocalith/internal/config"
	"github.com/MrWong99/vocalith/internal/dialog"
	"github.com/MrWong99/vocalith/internal/speech"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Session.Profile != dialog.ProfileClinic {
		t.Errorf("default profile = %q, want clinic", cfg.Session.Profile)
	}
	if !cfg.Session.SpeakFirst {
		t.Error("speak_first should default on")
	}
	if cfg.Session.PreAckEnabled || cfg.Session.AgentTurnInterruptEnabled {
		t.Error("speculative ack frames must default off")
	}
	if cfg.Speech.MarkupMode != speech.MarkupDashPause {
		t.Errorf("markup mode = %q, want DASH_PAUSE", cfg.Speech.MarkupMode)
	}
	if cfg.Timing.ToolTimeoutMS != 1500 || cfg.Timing.ToolFillerThresholdMS != 800 {
		t.Errorf("tool budgets = %d/%d, want 1500/800",
			cfg.Timing.ToolTimeoutMS, cfg.Timing.ToolFillerThresholdMS)
	}
	if cfg.Security.AllowlistEnabled || cfg.Security.SharedSecretEnabled {
		t.Error("security gates must default off")
	}
	if !cfg.Speculative.Enabled || !cfg.Speculative.PrefetchEnabled {
		t.Error("speculative planning should default on")
	}
	if cfg.LLM.UseNLG {
		t.Error("model NLG must default off")
	}
}

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
session:
  profile: b2b
  speak_first: false
dialog:
  b2b_org_name: Glintline
  opener_placeholders:
    agent_name: Riley
    region: North Austin
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Session.Profile != dialog.ProfileB2B || cfg.Session.SpeakFirst {
		t.Errorf("session = %+v, want b2b without speak-first", cfg.Session)
	}
	if cfg.Dialog.B2BOrgName != "Glintline" {
		t.Errorf("b2b_org_name = %q, want Glintline", cfg.Dialog.B2BOrgName)
	}
	if got := cfg.Dialog.OpenerPlaceholders["agent_name"]; got != "Riley" {
		t.Errorf("opener_placeholders[agent_name] = %q, want Riley", got)
	}
	if got := cfg.Dialog.OpenerPlaceholders["region"]; got != "North Austin" {
		t.Errorf("opener_placeholders[region] = %q, want North Austin", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.MaxFrameBytes != 262144 {
		t.Errorf("max_frame_bytes = %d, want default 262144", cfg.Server.MaxFrameBytes)
	}
	if cfg.Timing.MaxSegmentExpectedMS != 650 {
		t.Errorf("max_segment_expected_ms = %d, want default 650", cfg.Timing.MaxSegmentExpectedMS)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("sevrer:\n  listen_addr: \":1\"\n")); err == nil {
		t.Fatal("typoed section name was accepted")
	}
}

func TestLoadFromReaderEmptyInputYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want default :8080", cfg.Server.ListenAddr)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantSub: "server.log_level",
		},
		{
			name:    "slash in canonical route",
			mutate:  func(c *config.Config) { c.Server.CanonicalRoute = "llm/websocket" },
			wantSub: "canonical_route",
		},
		{
			name:    "unknown profile",
			mutate:  func(c *config.Config) { c.Session.Profile = "retail" },
			wantSub: "session.profile",
		},
		{
			name:    "responsiveness out of range",
			mutate:  func(c *config.Config) { c.Session.Responsiveness = 1.5 },
			wantSub: "responsiveness",
		},
		{
			name:    "bad markup mode",
			mutate:  func(c *config.Config) { c.Speech.MarkupMode = "PAUSES" },
			wantSub: "speech.markup_mode",
		},
		{
			name:    "zero tool timeout",
			mutate:  func(c *config.Config) { c.Timing.ToolTimeoutMS = 0 },
			wantSub: "timing.tool_timeout_ms",
		},
		{
			name: "nlg without api key",
			mutate: func(c *config.Config) {
				c.LLM.UseNLG = true
				c.LLM.Provider = config.ProviderOpenAI
			},
			wantSub: "llm.openai.api_key",
		},
		{
			name: "stdio mcp server without command",
			mutate: func(c *config.Config) {
				c.Tools.MCPServers = []config.MCPServerConfig{{Name: "crm", Transport: config.MCPStdio}}
			},
			wantSub: "command is required",
		},
		{
			name:    "embedding without dsn",
			mutate:  func(c *config.Config) { c.Outcome.EmbeddingEnabled = true },
			wantSub: "outcome.postgres_dsn",
		},
		{
			name: "malformed allowlist cidr",
			mutate: func(c *config.Config) {
				c.Security.AllowlistEnabled = true
				c.Security.AllowlistCIDRs = []string{"10.0.0.0/real"}
			},
			wantSub: "not a valid CIDR",
		},
		{
			name: "allowlist enabled but empty",
			mutate: func(c *config.Config) {
				c.Security.AllowlistEnabled = true
			},
			wantSub: "at least one CIDR",
		},
		{
			name: "shared secret enabled without secret",
			mutate: func(c *config.Config) {
				c.Security.SharedSecretEnabled = true
			},
			wantSub: "security.shared_secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestRolloutEnabled(t *testing.T) {
	t.Parallel()
	if config.RolloutEnabled("call-1", 0) {
		t.Error("0 percent must never enable")
	}
	if !config.RolloutEnabled("call-1", 100) {
		t.Error("100 percent must always enable")
	}
	// Deterministic bucketing: the same subject lands on the same side
	// every time.
	first := config.RolloutEnabled("call-42", 50)
	for range 10 {
		if config.RolloutEnabled("call-42", 50) != first {
			t.Fatal("bucket flapped between calls")
		}
	}
	// A partial rollout splits real traffic.
	on := 0
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j",
		"k", "l", "m", "n", "o", "p", "q", "r", "s", "t"} {
		if config.RolloutEnabled(id, 50) {
			on++
		}
	}
	if on == 0 || on == 20 {
		t.Errorf("50 percent rollout enabled %d of 20 subjects", on)
	}
}
