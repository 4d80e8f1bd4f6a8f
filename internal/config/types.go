// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the effective daemon configuration after defaults, the YAML
// file and RELAY_* environment variables have been merged, in that order.
type AppConfig struct {
	Version  string
	LogLevel string

	DataDir      string
	DatabasePath string
	MediaRoot    string
	FFmpegBin    string
	FFprobeBin   string

	API        APIConfig
	Supervisor SupervisorConfig
	Scheduler  SchedulerConfig
	Reconciler ReconcilerConfig
	Redis      RedisConfig
	Notify     NotifyConfig
	Telemetry  TelemetryConfig

	// ProbeCacheTTL bounds how long a probed source duration is reused.
	ProbeCacheTTL time.Duration
}

// APIConfig configures the control HTTP surface.
type APIConfig struct {
	ListenAddr        string
	Token             string
	RequestsPerMinute int
	ShutdownTimeout   time.Duration
}

// SupervisorConfig carries the process supervisor tunables.
type SupervisorConfig struct {
	MaxRetryAttempts        int
	CrashRuntimeCeiling     time.Duration
	TransientRuntimeCeiling time.Duration
	CrashBackoff            time.Duration
	TransientBackoff        time.Duration
	RetryResetAfter         time.Duration
	StopTimeout             time.Duration
	KillTimeout             time.Duration
	StaleRuntimeAfter       time.Duration
}

// SchedulerConfig carries the scheduler tunables.
type SchedulerConfig struct {
	PollInterval  time.Duration
	Lookahead     time.Duration
	CatchUpWindow time.Duration
}

// ReconcilerConfig carries the reconciler tunables.
type ReconcilerConfig struct {
	Interval       time.Duration
	ZombieInterval time.Duration
	GraceWindow    time.Duration
}

// RedisConfig enables the shared duration cache and pub/sub notifications
// when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// NotifyConfig tunes notification delivery.
type NotifyConfig struct {
	QueueSize          int
	PerOwnerPerMinute  int
	PerOwnerBurst      int
	RecentEventsPerKey int
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	ExporterType string
	Endpoint     string
	Insecure     bool
	SamplingRate float64
}

// FileConfig is the on-disk YAML shape. Pointer and string fields stay zero
// when the key is absent so that only present keys override defaults.
type FileConfig struct {
	LogLevel     string `yaml:"logLevel,omitempty"`
	DataDir      string `yaml:"dataDir,omitempty"`
	DatabasePath string `yaml:"databasePath,omitempty"`
	MediaRoot    string `yaml:"mediaRoot,omitempty"`
	FFmpegBin    string `yaml:"ffmpegBin,omitempty"`
	FFprobeBin   string `yaml:"ffprobeBin,omitempty"`
	ProbeCache   string `yaml:"probeCacheTTL,omitempty"`

	API        FileAPI        `yaml:"api,omitempty"`
	Supervisor FileSupervisor `yaml:"supervisor,omitempty"`
	Scheduler  FileScheduler  `yaml:"scheduler,omitempty"`
	Reconciler FileReconciler `yaml:"reconciler,omitempty"`
	Redis      FileRedis      `yaml:"redis,omitempty"`
	Notify     FileNotify     `yaml:"notify,omitempty"`
	Telemetry  FileTelemetry  `yaml:"telemetry,omitempty"`
}

type FileAPI struct {
	ListenAddr        string `yaml:"listenAddr,omitempty"`
	Token             string `yaml:"token,omitempty"`
	RequestsPerMinute *int   `yaml:"requestsPerMinute,omitempty"`
	ShutdownTimeout   string `yaml:"shutdownTimeout,omitempty"`
}

type FileSupervisor struct {
	MaxRetryAttempts        *int   `yaml:"maxRetryAttempts,omitempty"`
	CrashRuntimeCeiling     string `yaml:"crashRuntimeCeiling,omitempty"`
	TransientRuntimeCeiling string `yaml:"transientRuntimeCeiling,omitempty"`
	CrashBackoff            string `yaml:"crashBackoff,omitempty"`
	TransientBackoff        string `yaml:"transientBackoff,omitempty"`
	RetryResetAfter         string `yaml:"retryResetAfter,omitempty"`
	StopTimeout             string `yaml:"stopTimeout,omitempty"`
	KillTimeout             string `yaml:"killTimeout,omitempty"`
	StaleRuntimeAfter       string `yaml:"staleRuntimeAfter,omitempty"`
}

type FileScheduler struct {
	PollInterval  string `yaml:"pollInterval,omitempty"`
	Lookahead     string `yaml:"lookahead,omitempty"`
	CatchUpWindow string `yaml:"catchUpWindow,omitempty"`
}

type FileReconciler struct {
	Interval       string `yaml:"interval,omitempty"`
	ZombieInterval string `yaml:"zombieInterval,omitempty"`
	GraceWindow    string `yaml:"graceWindow,omitempty"`
}

type FileRedis struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
}

type FileNotify struct {
	QueueSize          *int `yaml:"queueSize,omitempty"`
	PerOwnerPerMinute  *int `yaml:"perOwnerPerMinute,omitempty"`
	PerOwnerBurst      *int `yaml:"perOwnerBurst,omitempty"`
	RecentEventsPerKey *int `yaml:"recentEventsPerOwner,omitempty"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Insecure     *bool    `yaml:"insecure,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
