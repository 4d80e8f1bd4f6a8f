// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Validate reports every invalid field at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...)))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		add("logLevel", "unknown level %q", cfg.LogLevel)
	}
	if cfg.DatabasePath == "" {
		add("databasePath", "must be set (or dataDir)")
	}
	if cfg.MediaRoot == "" {
		add("mediaRoot", "must be set")
	}
	if strings.TrimSpace(cfg.FFmpegBin) == "" {
		add("ffmpegBin", "must be set")
	}
	if cfg.API.ListenAddr == "" {
		add("api.listenAddr", "must be set")
	}
	if cfg.API.RequestsPerMinute < 0 {
		add("api.requestsPerMinute", "must be >= 0, got %d", cfg.API.RequestsPerMinute)
	}

	sv := cfg.Supervisor
	if sv.MaxRetryAttempts < 0 {
		add("supervisor.maxRetryAttempts", "must be >= 0, got %d", sv.MaxRetryAttempts)
	}
	for field, d := range map[string]time.Duration{
		"supervisor.crashRuntimeCeiling":     sv.CrashRuntimeCeiling,
		"supervisor.transientRuntimeCeiling": sv.TransientRuntimeCeiling,
		"supervisor.stopTimeout":             sv.StopTimeout,
		"supervisor.killTimeout":             sv.KillTimeout,
		"scheduler.pollInterval":             cfg.Scheduler.PollInterval,
		"reconciler.interval":                cfg.Reconciler.Interval,
		"reconciler.zombieInterval":          cfg.Reconciler.ZombieInterval,
	} {
		if d <= 0 {
			add(field, "must be positive")
		}
	}
	for field, d := range map[string]time.Duration{
		"supervisor.crashBackoff":     sv.CrashBackoff,
		"supervisor.transientBackoff": sv.TransientBackoff,
		"scheduler.lookahead":         cfg.Scheduler.Lookahead,
		"scheduler.catchUpWindow":     cfg.Scheduler.CatchUpWindow,
		"reconciler.graceWindow":      cfg.Reconciler.GraceWindow,
	} {
		if d < 0 {
			add(field, "must not be negative")
		}
	}

	if cfg.Notify.PerOwnerPerMinute < 0 || cfg.Notify.PerOwnerBurst < 0 {
		add("notify", "rate limits must not be negative")
	}
	if cfg.Redis.DB < 0 {
		add("redis.db", "must be >= 0")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "unsupported exporter type %q (supported: grpc, http)", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate", "must be within [0,1], got %v", cfg.Telemetry.SamplingRate)
		}
	}
	return errors.Join(errs...)
}
