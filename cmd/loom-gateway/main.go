// ABOUTME: Entry point for the loom-gateway conversation server
// ABOUTME: Wires the conversation store, memory optimizer, and streaming pipeline

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/gateway"
	"github.com/2389/loom-gateway/internal/llm"
	"github.com/2389/loom-gateway/internal/memory"
	"github.com/2389/loom-gateway/internal/session"
	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
	"github.com/2389/loom-gateway/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                          _
| | ___   ___  _ __ ___        __ _  __ _| |_ _____      ____ _ _   _
| |/ _ \ / _ \| '_ ' _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | (_) | (_) | | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|\___/ \___/|_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LOOM_CONFIG env var > XDG_CONFIG_HOME/loom/gateway.yaml > ~/.config/loom/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loom", "gateway.yaml")
}

// getDataPath returns the path to the loom data directory.
// Priority: XDG_DATA_HOME/loom > ~/.local/share/loom
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "loom")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Load .env if present so ${VAR} references in the config resolve
	_ = godotenv.Load()

	configPath := getConfigPath()

	// Print banner
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
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Redis.Enabled {
		fmt.Printf("Store:    redis\n")
	} else {
		fmt.Printf("Store:    %s\n", cfg.Database.Path)
	}
	green.Print("    ▶ ")
	fmt.Printf("Provider: %s\n", cfg.LLM.Provider)
	fmt.Println()

	logger.Info("starting loom-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Conversation store
	var convStore store.ConversationStore
	if cfg.Redis.Enabled {
		convStore, err = store.NewRedisStore(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		convStore, err = store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
	}
	defer convStore.Close()

	// Telemetry sink
	var sink telemetry.Sink
	switch cfg.Telemetry.Sink {
	case "nats":
		natsSink, err := telemetry.NewNATSSink(cfg.Telemetry.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsSink.Close()
		sink = natsSink
	default:
		sink = telemetry.NewLogSink(logger)
	}

	// Model provider
	var provider llm.Provider
	switch cfg.LLM.Provider {
	case "openai":
		provider, err = llm.NewOpenAIProvider(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL, logger)
		if err != nil {
			return fmt.Errorf("creating openai provider: %w", err)
		}
	default:
		provider = llm.NewScriptedProvider("This ", "is ", "a ", "scripted ", "response. ",
			"Configure llm.provider to connect a real model.")
	}

	events := session.NewEventBroadcaster(logger)
	defer events.Close()

	registry := session.NewRegistry(convStore, events, sink, logger)

	limits := memory.Limits{
		MaxAge:                     cfg.Sessions.MaxAge,
		MaxInactivity:              cfg.Sessions.MaxInactivity,
		MaxMessagesPerConversation: cfg.Memory.MaxMessagesPerConversation,
		MaxMemoryBytes:             cfg.Memory.MaxMemoryBytes,
		PressureThreshold:          cfg.Memory.PressureThreshold,
		SweepInterval:              cfg.Memory.SweepInterval,
		PressureInterval:           cfg.Memory.PressureInterval,
	}
	optimizer := memory.NewOptimizer(registry, convStore, limits, sink, logger)
	optimizer.Start(ctx)
	defer optimizer.Stop()

	pipeline := stream.New(stream.Config{
		DefaultBufferSize: cfg.Streaming.DefaultBufferSize,
		MaxBufferSize:     cfg.Streaming.MaxBufferSize,
		PendingCapacity:   cfg.Streaming.PendingCapacity,
		FlushTimeout:      cfg.Streaming.FlushTimeout,
	}, sink, logger)

	api := gateway.New(registry, optimizer, pipeline, provider, convStore, logger)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: api.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("loom-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Store Configuration ---")
	useRedis := prompt(reader, "Use Redis instead of SQLite?", "no")
	redisEnabled := strings.ToLower(useRedis) == "yes" || strings.ToLower(useRedis) == "y"

	var redisURL, dbPath string
	if redisEnabled {
		redisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	} else {
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	fmt.Println("\n--- Model Configuration ---")
	provider := prompt(reader, "LLM provider (openai/scripted)", "scripted")
	var model string
	if provider == "openai" {
		model = prompt(reader, "Model name", "gpt-4o-mini")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# loom-gateway configuration\n")
	cfg.WriteString("# Generated by loom-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	if redisEnabled {
		cfg.WriteString("redis:\n")
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", redisURL))
		cfg.WriteString("  ttl: \"24h\"\n")
	} else {
		cfg.WriteString("database:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("llm:\n")
	cfg.WriteString(fmt.Sprintf("  provider: \"%s\"\n", provider))
	if provider == "openai" {
		cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
		cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  max_age: \"2h\"\n")
	cfg.WriteString("  max_inactivity: \"30m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("memory:\n")
	cfg.WriteString("  max_messages_per_conversation: 100\n")
	cfg.WriteString("  max_memory_bytes: 52428800\n")
	cfg.WriteString("  pressure_threshold: 0.8\n")
	cfg.WriteString("  sweep_interval: \"15m\"\n")
	cfg.WriteString("  pressure_interval: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("streaming:\n")
	cfg.WriteString("  default_buffer_size: 10\n")
	cfg.WriteString("  max_buffer_size: 512\n")
	cfg.WriteString("  pending_capacity: 1000\n")
	cfg.WriteString("  flush_timeout: \"100ms\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  sink: \"log\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if !redisEnabled {
		dataDir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		fmt.Printf("\nData directory: %s\n", dataDir)
	}

	fmt.Printf("Config written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  loom-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
