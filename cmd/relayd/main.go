// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ManuGH/streamrelay/internal/config"
	"github.com/ManuGH/streamrelay/internal/daemon"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/health"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/telemetry"
	"github.com/ManuGH/streamrelay/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "storage":
			os.Exit(runStorageCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before RELAY_* variables are read")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{Level: "info", Version: version.Version})
	logger := xglog.WithComponent("daemon")

	loadEnvFile(*envFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "daemon.failed").
			Msg("relay daemon stopped with error")
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("relay daemon stopped")
}

// loadEnvFile applies a dotenv file without overriding variables already set
// in the environment. A missing default file is not an error.
func loadEnvFile(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		logger := xglog.WithComponent("daemon")
		logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("failed to load env file")
	}
}

// resolveConfigPath prefers the -config flag, then RELAY_CONFIG.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(config.ParseString("RELAY_CONFIG", ""))
}

func run(ctx context.Context, configPath string) error {
	logger := xglog.WithComponent("daemon")

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration %q: %w", configPath, err)
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Version: cfg.Version})
	logger = xglog.WithComponent("daemon")
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, configPath).
		Msg("loaded configuration")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    tracingService,
		ServiceVersion: cfg.Version,
		Environment:    config.ParseString("RELAY_ENVIRONMENT", "production"),
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	r, err := buildRelay(ctx, cfg, ports.RealClock{})
	if err != nil {
		_ = tracing.Shutdown(context.Background())
		return err
	}

	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.API.ListenAddr, cfg.API.ShutdownTimeout), r.handler)
	if err != nil {
		r.closeResources()
		_ = tracing.Shutdown(context.Background())
		return err
	}
	r.registerShutdown(mgr, tracing.Shutdown)

	holder := config.NewHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, applyReload, r.workers()...)

	logger.Info().
		Str(xglog.FieldEvent, "daemon.starting").
		Str("addr", cfg.API.ListenAddr).
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("relay daemon starting")
	return app.Run(ctx)
}

// applyReload handles the settings that take effect without a restart.
func applyReload(next config.AppConfig) {
	if err := xglog.SetLevel(next.LogLevel); err != nil {
		logger := xglog.WithComponent("daemon")
		logger.Warn().Err(err).Str("level", next.LogLevel).Msg("ignoring invalid log level")
	}
}
