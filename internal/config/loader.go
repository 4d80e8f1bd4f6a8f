// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:  "info",
		DataDir:   "/var/lib/streamrelay",
		MediaRoot: "/var/lib/streamrelay/media",
		FFmpegBin: "ffmpeg",
		API: APIConfig{
			ListenAddr:        ":8080",
			RequestsPerMinute: 60,
			ShutdownTimeout:   15 * time.Second,
		},
		Supervisor: SupervisorConfig{
			MaxRetryAttempts:        3,
			CrashRuntimeCeiling:     60 * time.Minute,
			TransientRuntimeCeiling: 24 * time.Hour,
			CrashBackoff:            3 * time.Second,
			TransientBackoff:        10 * time.Second,
			RetryResetAfter:         10 * time.Minute,
			StopTimeout:             10 * time.Second,
			KillTimeout:             5 * time.Second,
			StaleRuntimeAfter:       time.Hour,
		},
		Scheduler: SchedulerConfig{
			PollInterval:  time.Minute,
			Lookahead:     60 * time.Second,
			CatchUpWindow: 5 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			Interval:       5 * time.Minute,
			ZombieInterval: 2 * time.Minute,
			GraceWindow:    2 * time.Minute,
		},
		Notify: NotifyConfig{
			QueueSize:          256,
			PerOwnerPerMinute:  10,
			PerOwnerBurst:      5,
			RecentEventsPerKey: 50,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SamplingRate: 1.0,
		},
		ProbeCacheTTL: 24 * time.Hour,
	}
}

// Loader builds an AppConfig with precedence ENV > YAML file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader returns a loader. configPath may be empty for ENV-only setups.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string { return l.configPath }

// Load merges all sources and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		fileCfg, err := LoadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	resolvePaths(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile parses a YAML file strictly: unknown keys and trailing documents
// are errors.
func LoadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

// durationSetter collects parse errors for duration strings.
type durationSetter struct {
	errs []error
}

func (d *durationSetter) set(dst *time.Duration, key, raw string) {
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = v
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func mergeFile(dst *AppConfig, src *FileConfig) error {
	var d durationSetter

	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.DataDir, expandEnv(src.DataDir))
	setString(&dst.DatabasePath, expandEnv(src.DatabasePath))
	setString(&dst.MediaRoot, expandEnv(src.MediaRoot))
	setString(&dst.FFmpegBin, src.FFmpegBin)
	setString(&dst.FFprobeBin, src.FFprobeBin)
	d.set(&dst.ProbeCacheTTL, "probeCacheTTL", src.ProbeCache)

	setString(&dst.API.ListenAddr, src.API.ListenAddr)
	setString(&dst.API.Token, expandEnv(src.API.Token))
	setPtr(&dst.API.RequestsPerMinute, src.API.RequestsPerMinute)
	d.set(&dst.API.ShutdownTimeout, "api.shutdownTimeout", src.API.ShutdownTimeout)

	sv := src.Supervisor
	setPtr(&dst.Supervisor.MaxRetryAttempts, sv.MaxRetryAttempts)
	d.set(&dst.Supervisor.CrashRuntimeCeiling, "supervisor.crashRuntimeCeiling", sv.CrashRuntimeCeiling)
	d.set(&dst.Supervisor.TransientRuntimeCeiling, "supervisor.transientRuntimeCeiling", sv.TransientRuntimeCeiling)
	d.set(&dst.Supervisor.CrashBackoff, "supervisor.crashBackoff", sv.CrashBackoff)
	d.set(&dst.Supervisor.TransientBackoff, "supervisor.transientBackoff", sv.TransientBackoff)
	d.set(&dst.Supervisor.RetryResetAfter, "supervisor.retryResetAfter", sv.RetryResetAfter)
	d.set(&dst.Supervisor.StopTimeout, "supervisor.stopTimeout", sv.StopTimeout)
	d.set(&dst.Supervisor.KillTimeout, "supervisor.killTimeout", sv.KillTimeout)
	d.set(&dst.Supervisor.StaleRuntimeAfter, "supervisor.staleRuntimeAfter", sv.StaleRuntimeAfter)

	d.set(&dst.Scheduler.PollInterval, "scheduler.pollInterval", src.Scheduler.PollInterval)
	d.set(&dst.Scheduler.Lookahead, "scheduler.lookahead", src.Scheduler.Lookahead)
	d.set(&dst.Scheduler.CatchUpWindow, "scheduler.catchUpWindow", src.Scheduler.CatchUpWindow)

	d.set(&dst.Reconciler.Interval, "reconciler.interval", src.Reconciler.Interval)
	d.set(&dst.Reconciler.ZombieInterval, "reconciler.zombieInterval", src.Reconciler.ZombieInterval)
	d.set(&dst.Reconciler.GraceWindow, "reconciler.graceWindow", src.Reconciler.GraceWindow)

	setString(&dst.Redis.Addr, src.Redis.Addr)
	setString(&dst.Redis.Password, expandEnv(src.Redis.Password))
	setPtr(&dst.Redis.DB, src.Redis.DB)

	setPtr(&dst.Notify.QueueSize, src.Notify.QueueSize)
	setPtr(&dst.Notify.PerOwnerPerMinute, src.Notify.PerOwnerPerMinute)
	setPtr(&dst.Notify.PerOwnerBurst, src.Notify.PerOwnerBurst)
	setPtr(&dst.Notify.RecentEventsPerKey, src.Notify.RecentEventsPerKey)

	setPtr(&dst.Telemetry.Enabled, src.Telemetry.Enabled)
	setString(&dst.Telemetry.ExporterType, src.Telemetry.ExporterType)
	setString(&dst.Telemetry.Endpoint, src.Telemetry.Endpoint)
	setPtr(&dst.Telemetry.Insecure, src.Telemetry.Insecure)
	setPtr(&dst.Telemetry.SamplingRate, src.Telemetry.SamplingRate)

	return errors.Join(d.errs...)
}

// mergeEnv applies RELAY_* overrides. Each helper falls back to the value
// merged so far, so ENV wins only when set.
func mergeEnv(cfg *AppConfig) {
	e := func(name string) string { return EnvPrefix + name }

	cfg.LogLevel = ParseString(e("LOG_LEVEL"), cfg.LogLevel)
	cfg.DataDir = ParseString(e("DATA_DIR"), cfg.DataDir)
	cfg.DatabasePath = ParseString(e("DATABASE_PATH"), cfg.DatabasePath)
	cfg.MediaRoot = ParseString(e("MEDIA_ROOT"), cfg.MediaRoot)
	cfg.FFmpegBin = ParseString(e("FFMPEG_BIN"), cfg.FFmpegBin)
	cfg.FFprobeBin = ParseString(e("FFPROBE_BIN"), cfg.FFprobeBin)
	cfg.ProbeCacheTTL = ParseDuration(e("PROBE_CACHE_TTL"), cfg.ProbeCacheTTL)

	cfg.API.ListenAddr = ParseString(e("LISTEN_ADDR"), cfg.API.ListenAddr)
	cfg.API.Token = ParseString(e("API_TOKEN"), cfg.API.Token)
	cfg.API.RequestsPerMinute = ParseInt(e("API_REQUESTS_PER_MINUTE"), cfg.API.RequestsPerMinute)
	cfg.API.ShutdownTimeout = ParseDuration(e("SHUTDOWN_TIMEOUT"), cfg.API.ShutdownTimeout)

	sv := &cfg.Supervisor
	sv.MaxRetryAttempts = ParseInt(e("MAX_RETRY_ATTEMPTS"), sv.MaxRetryAttempts)
	sv.CrashRuntimeCeiling = ParseDuration(e("CRASH_RUNTIME_CEILING"), sv.CrashRuntimeCeiling)
	sv.TransientRuntimeCeiling = ParseDuration(e("TRANSIENT_RUNTIME_CEILING"), sv.TransientRuntimeCeiling)
	sv.CrashBackoff = ParseDuration(e("CRASH_BACKOFF"), sv.CrashBackoff)
	sv.TransientBackoff = ParseDuration(e("TRANSIENT_BACKOFF"), sv.TransientBackoff)
	sv.RetryResetAfter = ParseDuration(e("RETRY_RESET_AFTER"), sv.RetryResetAfter)
	sv.StopTimeout = ParseDuration(e("STOP_TIMEOUT"), sv.StopTimeout)
	sv.KillTimeout = ParseDuration(e("KILL_TIMEOUT"), sv.KillTimeout)
	sv.StaleRuntimeAfter = ParseDuration(e("STALE_RUNTIME_AFTER"), sv.StaleRuntimeAfter)

	cfg.Scheduler.PollInterval = ParseDuration(e("SCHEDULER_POLL_INTERVAL"), cfg.Scheduler.PollInterval)
	cfg.Scheduler.Lookahead = ParseDuration(e("SCHEDULER_LOOKAHEAD"), cfg.Scheduler.Lookahead)
	cfg.Scheduler.CatchUpWindow = ParseDuration(e("SCHEDULER_CATCH_UP_WINDOW"), cfg.Scheduler.CatchUpWindow)

	cfg.Reconciler.Interval = ParseDuration(e("RECONCILE_INTERVAL"), cfg.Reconciler.Interval)
	cfg.Reconciler.ZombieInterval = ParseDuration(e("ZOMBIE_INTERVAL"), cfg.Reconciler.ZombieInterval)
	cfg.Reconciler.GraceWindow = ParseDuration(e("RECONCILE_GRACE_WINDOW"), cfg.Reconciler.GraceWindow)

	cfg.Redis.Addr = ParseString(e("REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(e("REDIS_PASSWORD"), cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(e("REDIS_DB"), cfg.Redis.DB)

	cfg.Notify.QueueSize = ParseInt(e("NOTIFY_QUEUE_SIZE"), cfg.Notify.QueueSize)
	cfg.Notify.PerOwnerPerMinute = ParseInt(e("NOTIFY_PER_OWNER_PER_MINUTE"), cfg.Notify.PerOwnerPerMinute)
	cfg.Notify.PerOwnerBurst = ParseInt(e("NOTIFY_PER_OWNER_BURST"), cfg.Notify.PerOwnerBurst)

	cfg.Telemetry.Enabled = ParseBool(e("TRACING_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(e("TRACING_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(e("TRACING_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = ParseBool(e("TRACING_INSECURE"), cfg.Telemetry.Insecure)
	cfg.Telemetry.SamplingRate = ParseFloat(e("TRACING_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
}

func resolvePaths(cfg *AppConfig) {
	if cfg.DatabasePath == "" && cfg.DataDir != "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "relay.db")
	}
	cfg.FFprobeBin = ResolveFFprobeBin(cfg.FFprobeBin, cfg.FFmpegBin)
}

// String renders the configuration for startup logs with secrets masked.
func (c AppConfig) String() string {
	return fmt.Sprintf(
		"AppConfig{Version: %s, DataDir: %s, Database: %s, MediaRoot: %s, FFmpeg: %s, Listen: %s, APIToken: %s, Redis: %s, Tracing: %t}",
		c.Version, c.DataDir, c.DatabasePath, c.MediaRoot, c.FFmpegBin, c.API.ListenAddr,
		maskSecret(c.API.Token), c.Redis.Addr, c.Telemetry.Enabled,
	)
}

func maskSecret(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "***"
}
