// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import "time"

// Config tunes restart policy and process lifecycle.
type Config struct {
	FFmpegBin string
	// MediaRoot resolves relative video file paths.
	MediaRoot string

	MaxRetryAttempts        int
	CrashRuntimeCeiling     time.Duration
	TransientRuntimeCeiling time.Duration
	CrashBackoff            time.Duration
	TransientBackoff        time.Duration
	// RetryResetAfter clears the retry counter once a session has run this
	// long, so only consecutive quick failures count against the limit.
	RetryResetAfter time.Duration

	StopTimeout time.Duration
	KillTimeout time.Duration
	// OpTimeout bounds repository calls made outside a request context.
	OpTimeout time.Duration

	LogLines            int
	DiagnosticLines     int
	ProgressLogInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FFmpegBin:               "ffmpeg",
		MaxRetryAttempts:        3,
		CrashRuntimeCeiling:     60 * time.Minute,
		TransientRuntimeCeiling: 24 * time.Hour,
		CrashBackoff:            3 * time.Second,
		TransientBackoff:        10 * time.Second,
		RetryResetAfter:         10 * time.Minute,
		StopTimeout:             10 * time.Second,
		KillTimeout:             5 * time.Second,
		OpTimeout:               10 * time.Second,
		LogLines:                100,
		DiagnosticLines:         50,
		ProgressLogInterval:     30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FFmpegBin == "" {
		c.FFmpegBin = d.FFmpegBin
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.CrashRuntimeCeiling <= 0 {
		c.CrashRuntimeCeiling = d.CrashRuntimeCeiling
	}
	if c.TransientRuntimeCeiling <= 0 {
		c.TransientRuntimeCeiling = d.TransientRuntimeCeiling
	}
	if c.CrashBackoff <= 0 {
		c.CrashBackoff = d.CrashBackoff
	}
	if c.TransientBackoff <= 0 {
		c.TransientBackoff = d.TransientBackoff
	}
	if c.RetryResetAfter <= 0 {
		c.RetryResetAfter = d.RetryResetAfter
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = d.KillTimeout
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	if c.DiagnosticLines <= 0 {
		c.DiagnosticLines = d.DiagnosticLines
	}
	if c.ProgressLogInterval <= 0 {
		c.ProgressLogInterval = d.ProgressLogInterval
	}
	return c
}
