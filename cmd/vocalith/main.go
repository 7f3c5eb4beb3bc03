// Command vocalith is the main entry point for the Vocalith voice agent
// gateway: it loads the YAML config, initialises telemetry, and serves the
// per-call LLM websocket plus health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/vocalith/internal/config"
	"github.com/MrWong99/vocalith/internal/observe"
	"github.com/MrWong99/vocalith/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalith: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocalith: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocalith starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"profile", cfg.Session.Profile,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vocalith",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Server assembly ───────────────────────────────────────────────────────
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Warn("server close error", "err", err)
		}
	}()

	printStartupSummary(cfg)

	httpServer := &http.Server{
		Addr:        cfg.Server.ListenAddr,
		Handler:     srv.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Vocalith — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Profile", string(cfg.Session.Profile))
	printRow("Route", "/"+cfg.Server.CanonicalRoute+"/{call_id}")
	model := "(scripted)"
	if cfg.LLM.UseNLG {
		model = string(cfg.LLM.Provider)
		switch cfg.LLM.Provider {
		case config.ProviderOpenAI:
			model += " / " + cfg.LLM.OpenAI.Model
		case config.ProviderAnyLLM:
			model += " / " + cfg.LLM.AnyLLM.Model
		}
	}
	printRow("Model NLG", model)
	outcomes := "(in-memory)"
	if cfg.Outcome.PostgresDSN != "" {
		outcomes = "postgres"
		if cfg.Outcome.EmbeddingEnabled {
			outcomes += " + vectors"
		}
	}
	printRow("Outcomes", outcomes)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.MCPServers))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
