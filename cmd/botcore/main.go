// Package main is the entry point for the chat-automation core: it wires
// the configuration service, user store, bridge client, rate guard,
// registration engine, handler registry, message processor, and bridge
// poller together in dependency order and runs until signaled to stop.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/damamartinez/chatcore/internal/bridgeclient"
	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
	"github.com/damamartinez/chatcore/internal/handlers"
	"github.com/damamartinez/chatcore/internal/poller"
	"github.com/damamartinez/chatcore/internal/processor"
	"github.com/damamartinez/chatcore/internal/ratelimit"
	"github.com/damamartinez/chatcore/internal/registration"
	"github.com/damamartinez/chatcore/internal/store"
)

var (
	configDir = flag.String("config-dir", "config", "Directory holding default/, custom/, and backups/ configuration layers")
	bridgeDSN = flag.String("bridge-store", "", "DSN of the bridge's read-only message store (enables the poller when set)")
	logLevel  = flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	bootstrapLog := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgSvc := config.NewService(*configDir, bootstrapLog)
	if err := cfgSvc.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Current()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("chatcore starting", "configDir", *configDir, "logLevel", cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.Error("failed to create data directory", "err", err)
		os.Exit(1)
	}

	userStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open user store", "err", err)
		os.Exit(1)
	}
	defer userStore.Close()

	bridge := bridgeclient.New(cfg.Bridge, logger)

	guard := ratelimit.NewGuard(cfgSvc.Current, logger)
	guard.Start()
	defer guard.Stop()

	notifier := processor.NewNotifier(userStore.Users, bridge, cfgSvc.Current)
	engine := registration.NewEngine(userStore.Registration, notifier, cfgSvc.Current)

	registry := handlers.NewRegistry(guard, cfgSvc.Current, &handlers.Deps{
		Users:        userStore.Users,
		Bridge:       bridge,
		ConfigSvc:    cfgSvc,
		Integrations: userStore.Integrations,
		StartedAt:    startedAtFunc(time.Now()),
	})
	if err := handlers.RegisterBuiltins(registry, func() string { return cfgSvc.Current().Bot.CommandPrefix }); err != nil {
		logger.Error("failed to register built-in commands", "err", err)
		os.Exit(1)
	}

	proc := processor.New(userStore.Users, bridge, guard, registry, engine, cfgSvc.Current, !cfg.MockWhatsApp, logger)
	pool := processor.NewPool(proc, cfgSvc.Current, logger, func(r *domain.ProcessingResult) {
		logger.Info("message processed", "id", r.ID, "outcome", r.Outcome, "handler", r.HandlerName, "errors", len(r.Errors))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var bridgeDB *sql.DB
	var p *poller.Poller
	if *bridgeDSN != "" {
		bridgeDB, err = sql.Open("sqlite3", *bridgeDSN)
		if err != nil {
			logger.Error("failed to open bridge store for polling", "err", err)
			os.Exit(1)
		}
		p = poller.New(bridgeDB, pool, cfgSvc.Current, time.Time{}, logger)
		p.Start(ctx)
	} else {
		logger.Warn("no bridge-store DSN given; poller disabled, inbound messages must be submitted another way")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, draining in-flight work")

	if p != nil {
		p.Stop()
		bridgeDB.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	pool.Stop(shutdownCtx)
	cancel()

	logger.Info("chatcore stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

func startedAtFunc(t time.Time) func() string {
	return func() string { return t.Format(time.RFC3339) }
}
