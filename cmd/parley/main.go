// ABOUTME: Entry point for the parley conversation engine.
// ABOUTME: Wires config, adapters, orchestrator, sessions, and dispatcher; runs a console chat harness.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/dispatch"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/prompt"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _
 _ __   __ _ _ __ ___| | ___ _   _
| '_ \ / _' | '__/ __| |/ _ \ | | |
| |_) | (_| | |  \__ \ |  __/ |_| |
| .__/ \__,_|_|  |___/_|\___|\__, |
|_|                          |___/
`

// getConfigPath returns the path to the engine config file.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/parley.yaml > ~/.config/parley/parley.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "parley.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "parley.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat    Start the engine with an interactive console session")
		fmt.Println("  check   Validate the config file and adapter wiring")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx)
	case "check":
		err = runCheck()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engine bundles the wired components.
type engine struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	store      store.Store
}

// buildEngine constructs the full pipeline from configuration. Every
// configuration error surfaces here, before any traffic.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	backends, err := buildBackends(cfg.Adapters)
	if err != nil {
		return nil, err
	}

	orch, err := llm.NewOrchestrator(backends, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}

	var st store.Store = store.NopStore{}
	if cfg.Database.Path != "" {
		st, err = store.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening archive store: %w", err)
		}
	}

	sessions, err := session.NewManager(session.Config{
		IdleTimeout:    cfg.Session.IdleTimeout,
		SweepInterval:  cfg.Session.SweepInterval,
		MaxSessions:    cfg.Session.MaxSessions,
		ContextBudget:  cfg.Context.Budget,
		MemoryCapacity: cfg.Memory.Capacity,
		MemoryMaxAge:   cfg.Memory.MaxAge,
	}, st, logger)
	if err != nil {
		return nil, fmt.Errorf("building session manager: %w", err)
	}

	prompts := prompt.NewRegistry()
	if cfg.Prompts.Dir != "" {
		if err := prompts.LoadDir(cfg.Prompts.Dir); err != nil {
			return nil, fmt.Errorf("loading personas: %w", err)
		}
	}

	dispatcher, err := dispatch.New(sessions, orch, prompts, st, dispatch.Config{
		EventsPerSecond: cfg.Limits.EventsPerSecond,
		Burst:           cfg.Limits.Burst,
		Persona:         cfg.Prompts.Persona,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building dispatcher: %w", err)
	}

	return &engine{dispatcher: dispatcher, sessions: sessions, store: st}, nil
}

// buildBackends maps adapter configs to constructed adapters in priority
// order.
func buildBackends(configs []config.AdapterConfig) ([]llm.Backend, error) {
	backends := make([]llm.Backend, 0, len(configs))
	for _, ac := range configs {
		opts := llm.Options{
			Name:     ac.Name,
			APIKey:   ac.APIKey,
			Model:    ac.Model,
			Endpoint: ac.Endpoint,
			Params: llm.Params{
				Temperature: ac.Temperature,
				MaxTokens:   ac.MaxTokens,
			},
		}

		var adapter llm.Adapter
		switch ac.Kind {
		case "openai":
			adapter = llm.NewOpenAIAdapter(opts)
		case "anthropic":
			adapter = llm.NewAnthropicAdapter(opts)
		case "gemini":
			adapter = llm.NewGeminiAdapter(opts)
		default:
			return nil, fmt.Errorf("adapter %s: unknown kind %q", ac.Name, ac.Kind)
		}

		backends = append(backends, llm.Backend{
			Adapter: adapter,
			Timeout: ac.Timeout,
			Retries: ac.Retries,
		})
	}
	return backends, nil
}

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Adapters: %s\n", adapterNames(cfg.Adapters))
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Archive:  %s\n", cfg.Database.Path)
	}
	fmt.Println()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.store.Close()

	go eng.sessions.Run(ctx)

	logger.Info("engine started", "adapters", adapterNames(cfg.Adapters))
	fmt.Println("Type a message and press enter. Ctrl-D or Ctrl-C to quit.")

	return consoleLoop(ctx, eng)
}

// consoleLoop feeds stdin lines through the dispatcher as events from a
// single console identity. It exercises the exact pipeline the transport
// layer would.
func consoleLoop(ctx context.Context, eng *engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	identity := "console:local"

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, err := eng.dispatcher.Handle(ctx, dispatch.Event{
			Identity:   identity,
			Kind:       dispatch.KindText,
			Payload:    line,
			ReceivedAt: time.Now(),
		})
		switch {
		case errors.Is(err, dispatch.ErrRateLimited):
			fmt.Println("(slow down)")
			continue
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}

		if resp.Kind == dispatch.ResponseError {
			color.Yellow(resp.Content)
			continue
		}
		fmt.Printf("%s %s\n", color.CyanString("["+resp.ModelUsed+"]"), resp.Content)
	}
}

func runCheck() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := buildBackends(cfg.Adapters); err != nil {
		return err
	}

	fmt.Printf("%s is valid (%d adapter(s): %s)\n",
		configPath, len(cfg.Adapters), adapterNames(cfg.Adapters))
	return nil
}

func adapterNames(configs []config.AdapterConfig) string {
	names := make([]string, len(configs))
	for i, ac := range configs {
		names[i] = ac.Name
	}
	return strings.Join(names, ", ")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
