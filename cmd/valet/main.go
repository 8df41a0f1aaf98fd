// Valet is a personal digest and assistant daemon.
//
// It watches the user's topics, mentions, calendar, and weather, sends
// scheduled digests over Signal or MQTT under quiet-hours and budget
// rules, and answers ad-hoc questions through a local model with a
// capability toolbox. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	valet serve              Start the daemon
//	valet init [dir]         Write a starter config file
//	valet ask <question>     Ask a single question (for testing)
//	valet version            Print version and build information
//	valet -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/valetlabs/valet/internal/api"
	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/buildinfo"
	"github.com/valetlabs/valet/internal/calendar"
	"github.com/valetlabs/valet/internal/config"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/fetch"
	"github.com/valetlabs/valet/internal/llm"
	"github.com/valetlabs/valet/internal/planner"
	"github.com/valetlabs/valet/internal/profile"
	"github.com/valetlabs/valet/internal/reminder"
	"github.com/valetlabs/valet/internal/search"
	"github.com/valetlabs/valet/internal/social"
	"github.com/valetlabs/valet/internal/tools"
	"github.com/valetlabs/valet/internal/transport"
	"github.com/valetlabs/valet/internal/watcher"
	"github.com/valetlabs/valet/internal/weather"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// and delegates immediately to [run], keeping os.Exit, os.Stdout, and
// os.Args out of the application logic so the lifecycle can be driven
// from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand (the flag package relies on global state
// that interferes with parallel tests) and dispatches to a subcommand.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	// Secrets referenced from the config as ${VAR} may live in a .env
	// file next to the binary. Load does not overwrite real env vars.
	_ = godotenv.Load()

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: valet ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe wires every component and blocks until shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Valet",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"model_url", cfg.Model.BaseURL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// One SQLite file carries profiles, budget counters, the digest
	// cache, and reminders. WAL keeps the watcher ticks and the API
	// from blocking each other.
	dbPath := filepath.Join(cfg.DataDir, "valet.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", dbPath)

	profiles, err := profile.NewStore(db, cfg.DefaultTZ)
	if err != nil {
		return fmt.Errorf("profile store: %w", err)
	}
	budgetStore, err := budget.NewStore(db)
	if err != nil {
		return fmt.Errorf("budget store: %w", err)
	}
	ledger := budget.NewLedger(budgetStore, profiles, logger)
	cache, err := digest.NewCache(db)
	if err != nil {
		return fmt.Errorf("digest cache: %w", err)
	}
	reminderStore, err := reminder.NewStore(db)
	if err != nil {
		return fmt.Errorf("reminder store: %w", err)
	}

	// --- Search providers ---
	searchMgr := newSearchManager(cfg, logger)

	// --- Optional collaborators ---
	var socialClient social.Client
	if cfg.Social.Token != "" {
		socialClient = social.NewGitHub(cfg.Social.Token)
		logger.Info("social collaborator configured")
	} else {
		logger.Info("social collaborator disabled (no token)")
	}

	var calSource calendar.Source
	if cfg.Calendar.Configured() {
		caldav, err := calendar.NewCalDAV(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password)
		if err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
		calSource = caldav
		logger.Info("calendar collaborator configured", "url", cfg.Calendar.URL)
	} else {
		logger.Info("calendar collaborator disabled (no endpoint)")
	}

	weatherClient := weather.NewClient()
	llmClient := llm.NewOllamaClient(cfg.Model.BaseURL)

	// --- Transports ---
	feed := api.NewFeed(logger)
	defer feed.Close()
	transports := []transport.Transport{feed}

	var sig *transport.Signal
	if cfg.Signal.Enabled {
		sig = transport.NewSignal(cfg.Signal.Command, cfg.Signal.Args, logger)
		if err := sig.Start(ctx); err != nil {
			return fmt.Errorf("signal transport: %w", err)
		}
		defer sig.Close()
		transports = append(transports, sig)
		logger.Info("signal transport started", "command", cfg.Signal.Command)
	}

	var mqttPub *transport.MQTT
	if cfg.MQTT.Enabled {
		mqttPub = transport.NewMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix, logger)
		if err := mqttPub.Start(ctx); err != nil {
			return fmt.Errorf("mqtt transport: %w", err)
		}
		transports = append(transports, mqttPub)
		logger.Info("mqtt transport started", "broker", cfg.MQTT.Broker)
	}

	multi := transport.NewMulti(logger, transports...)

	// --- Reminders ---
	reminderEngine := reminder.NewEngine(logger, reminderStore, func(ctx context.Context, r *reminder.Reminder) error {
		return multi.Send(ctx, r.UserID, "Reminder: "+r.Text, []transport.Action{
			{Keyword: "done"},
			{Keyword: "snooze", Label: "push it back an hour"},
		})
	})
	if err := reminderEngine.Start(ctx); err != nil {
		return fmt.Errorf("reminder engine: %w", err)
	}
	defer reminderEngine.Stop()

	// --- Capabilities and planner ---
	registry := tools.NewRegistry(logger)
	tools.RegisterAll(registry, tools.Deps{
		Logger:    logger,
		Ledger:    ledger,
		Profiles:  profiles,
		Search:    searchMgr,
		Social:    socialClient,
		Weather:   weatherClient,
		Reader:    fetch.NewReader(),
		Reminders: reminderEngine,
		Cache:     cache,
	})
	logger.Info("capabilities registered", "tools", len(registry.Names()))

	plan := planner.New(logger, llmClient, registry,
		planner.WithModel(cfg.Model.Name),
		planner.WithTimezone(cfg.DefaultTZ),
	)

	// --- Watchers ---
	watchers := watcher.NewEngine(watcher.Deps{
		Logger:    logger,
		Profiles:  profiles,
		Ledger:    ledger,
		Cache:     cache,
		Search:    searchMgr,
		Social:    socialClient,
		Weather:   weatherClient,
		Calendar:  calSource,
		Reminders: reminderEngine,
		LLM:       llmClient,
		Model:     cfg.Model.Name,
		Transport: multi,
	})
	if err := watchers.Start(cfg.Watchers); err != nil {
		return fmt.Errorf("watchers: %w", err)
	}
	defer watchers.Stop()

	// Inbound Signal messages run a planner turn and get the reply back
	// on the same channel.
	if sig != nil {
		go func() {
			for msg := range sig.Inbound() {
				reply, err := plan.Turn(ctx, msg.UserID, msg.Text)
				if err != nil {
					logger.Error("inbound turn failed", "user_id", msg.UserID, "error", err)
					reply = "Something went wrong on my end; try again in a moment."
				}
				if err := sig.Send(ctx, msg.UserID, reply, nil); err != nil {
					logger.Error("inbound reply failed", "user_id", msg.UserID, "error", err)
				}
			}
		}()
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger, plan, cache, profiles, feed)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Valet stopped")
	return nil
}

// newSearchManager registers every configured provider and picks a
// sensible primary when the config does not name one.
func newSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	primary := cfg.Search.Primary
	if primary == "" {
		switch {
		case cfg.Search.Brave.Configured():
			primary = "brave"
		case cfg.Search.SearXNG.Configured():
			primary = "searxng"
		}
	}

	mgr := search.NewManager(primary)
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.BaseURL))
	}

	if len(mgr.Providers()) == 0 {
		logger.Warn("no search provider configured - headlines will fall back to cache and placeholders")
	} else {
		logger.Info("search configured", "primary", primary, "providers", mgr.Providers())
	}
	return mgr
}

// runAsk sends one question straight to the model, without tools. A
// smoke test for the model endpoint, not a full planner turn.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := llm.NewOllamaClient(cfg.Model.BaseURL)
	resp, err := client.Chat(ctx, cfg.Model.Name, []llm.Message{
		{Role: "user", Content: question},
	}, nil)
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}

	fmt.Fprintln(stdout, strings.TrimSpace(resp.Message.Content))
	return nil
}

// starterConfig is written by "valet init". Secrets are referenced via
// environment variables so the file itself can be committed.
const starterConfig = `# Valet configuration.
listen:
  port: 8080

model:
  base_url: http://localhost:11434
  name: qwen3:4b

search:
  primary: brave
  brave:
    api_key: ${BRAVE_API_KEY}

social:
  token: ${GITHUB_TOKEN}

# calendar:
#   url: https://dav.example.com/
#   username: you
#   password: ${CALDAV_PASSWORD}

signal:
  enabled: false
  command: signal-cli
  args: ["-a", "+15551234567", "jsonRpc"]

mqtt:
  enabled: false
  broker: localhost:1883
  topic_prefix: valet

watchers:
  brief_spec: "0 7 * * *"
  news_spec: "@hourly"
  ideas_spec: "0 9 * * 1"

data_dir: .
default_timezone: UTC
log_level: info
`

func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, "valet.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func runVersion(stdout io.Writer, format string) error {
	if format == "json" {
		return json.NewEncoder(stdout).Encode(buildinfo.Info())
	}
	fmt.Fprintln(stdout, buildinfo.String())
	return nil
}

func printUsage(stdout io.Writer) error {
	fmt.Fprint(stdout, `Valet - personal digest and assistant daemon

Usage:
  valet serve              Start the daemon
  valet init [dir]         Write a starter config file
  valet ask <question>     Ask a single question (for testing)
  valet version            Print version and build information

Flags:
  -config <path>   Config file (default: valet.yaml, ~/.config/valet/config.yaml, /etc/valet/config.yaml)
  -o <fmt>         Output format for version: text or json
`)
	return nil
}

// newLogger creates the process-wide structured logger.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
