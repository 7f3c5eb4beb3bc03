package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects the connection mechanism for an MCP tool server.
type Transport string

const (
	// TransportStdio spawns a subprocess and speaks MCP over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP speaks the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	// Name identifies the server in logs and must be unique per host.
	Name string

	Transport Transport

	// Command is the executable plus arguments, used with TransportStdio.
	Command string

	// URL is the endpoint address, used with TransportStreamableHTTP.
	URL string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string

	// LatencyMS, when positive, is injected for every tool this server
	// exports. Used with mock MCP servers so rehearsal sessions exercise
	// the same masking behaviour as slow production tools.
	LatencyMS int64
}

type mcpTool struct {
	name    string
	server  string
	session *mcpsdk.ClientSession
	latency int64
}

// MCPHost maintains connections to external MCP servers and binds their
// tools into per-session registries. One host serves many sessions; it is
// created at startup and closed on shutdown.
type MCPHost struct {
	logger *slog.Logger
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	tools    []mcpTool
}

// NewMCPHost returns a host with no connections yet.
func NewMCPHost(logger *slog.Logger) *MCPHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPHost{
		logger: logger,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "vocalith", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// ConnectAll attaches every configured server. Failures are logged and
// skipped: the builtin tool surface never depends on an external process.
func (h *MCPHost) ConnectAll(ctx context.Context, servers []ServerConfig) {
	for _, cfg := range servers {
		if err := h.Connect(ctx, cfg); err != nil {
			h.logger.Warn("mcp server attach failed, skipping",
				"server", cfg.Name, "error", err)
			continue
		}
		h.logger.Info("mcp server attached", "server", cfg.Name)
	}
}

// Connect dials one server and imports its tool catalogue. Reconnecting a
// server with a known name replaces its previous connection and tools.
func (h *MCPHost) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server needs a name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tools: mcp server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: mcp server %q: stdio transport needs a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: mcp server %q: streamable-http transport needs a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: mcp server %q: connect: %w", cfg.Name, err)
	}

	var discovered []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: mcp server %q: list tools: %w", cfg.Name, err)
		}
		discovered = append(discovered, tool.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[cfg.Name]; ok {
		_ = old.Close()
		h.tools = slices.DeleteFunc(h.tools, func(t mcpTool) bool { return t.server == cfg.Name })
	}
	h.sessions[cfg.Name] = session
	for _, name := range discovered {
		h.tools = append(h.tools, mcpTool{
			name:    name,
			server:  cfg.Name,
			session: session,
			latency: cfg.LatencyMS,
		})
	}
	return nil
}

// Bind registers every discovered MCP tool into reg, carrying the server's
// latency hint into the registry's latency map.
func (h *MCPHost) Bind(reg *Registry) {
	h.mu.Lock()
	bound := slices.Clone(h.tools)
	h.mu.Unlock()

	for _, t := range bound {
		session, name := t.session, t.name
		reg.Register(name, func(ctx context.Context, args map[string]any) (string, error) {
			return callMCPTool(ctx, session, name, args)
		})
		if t.latency > 0 {
			reg.SetLatency(name, t.latency)
		}
	}
}

func callMCPTool(ctx context.Context, session *mcpsdk.ClientSession, name string, args map[string]any) (string, error) {
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcp tool %q: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down every server connection.
func (h *MCPHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close mcp server %q: %w", name, err)
		}
		delete(h.sessions, name)
	}
	h.tools = nil
	return firstErr
}
