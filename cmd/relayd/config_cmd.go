// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/streamrelay/internal/config"
	"github.com/ManuGH/streamrelay/internal/version"
)

const redacted = "***"

func runConfigCLI(args []string) int {
	return configCLI(args, os.Stdout, os.Stderr)
}

func configCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stdout)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  relayd config validate [--file|-f relay.yaml]")
	_, _ = fmt.Fprintln(w, "  relayd config dump [--file|-f relay.yaml] [--format=yaml|json] [--out PATH]")
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relayd config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	if _, err := config.NewLoader(configPath, version.Version).Load(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describePath(configPath), err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s is valid\n", describePath(configPath))
	return 0
}

func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relayd config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file, format, out string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.StringVar(&out, "out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describePath(configPath), err)
		return 1
	}

	fileCfg := fileConfigFromAppConfig(cfg)
	redactFileConfigSecrets(&fileCfg)

	var buf bytes.Buffer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	default:
		_, _ = fmt.Fprintf(stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}

	if out == "" {
		_, _ = stdout.Write(buf.Bytes())
		return 0
	}
	// Replaced atomically so a running daemon's watcher never sees a partial file.
	if err := renameio.WriteFile(out, buf.Bytes(), 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to write %s: %v\n", out, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %s\n", out)
	return 0
}

func describePath(p string) string {
	if p == "" {
		return "environment and defaults"
	}
	return p
}

// fileConfigFromAppConfig renders the effective config in the on-disk shape
// so a dump can be fed back as a config file.
func fileConfigFromAppConfig(cfg config.AppConfig) config.FileConfig {
	d := func(v time.Duration) string { return v.String() }
	return config.FileConfig{
		LogLevel:     cfg.LogLevel,
		DataDir:      cfg.DataDir,
		DatabasePath: cfg.DatabasePath,
		MediaRoot:    cfg.MediaRoot,
		FFmpegBin:    cfg.FFmpegBin,
		FFprobeBin:   cfg.FFprobeBin,
		ProbeCache:   d(cfg.ProbeCacheTTL),
		API: config.FileAPI{
			ListenAddr:        cfg.API.ListenAddr,
			Token:             cfg.API.Token,
			RequestsPerMinute: ptr(cfg.API.RequestsPerMinute),
			ShutdownTimeout:   d(cfg.API.ShutdownTimeout),
		},
		Supervisor: config.FileSupervisor{
			MaxRetryAttempts:        ptr(cfg.Supervisor.MaxRetryAttempts),
			CrashRuntimeCeiling:     d(cfg.Supervisor.CrashRuntimeCeiling),
			TransientRuntimeCeiling: d(cfg.Supervisor.TransientRuntimeCeiling),
			CrashBackoff:            d(cfg.Supervisor.CrashBackoff),
			TransientBackoff:        d(cfg.Supervisor.TransientBackoff),
			RetryResetAfter:         d(cfg.Supervisor.RetryResetAfter),
			StopTimeout:             d(cfg.Supervisor.StopTimeout),
			KillTimeout:             d(cfg.Supervisor.KillTimeout),
			StaleRuntimeAfter:       d(cfg.Supervisor.StaleRuntimeAfter),
		},
		Scheduler: config.FileScheduler{
			PollInterval:  d(cfg.Scheduler.PollInterval),
			Lookahead:     d(cfg.Scheduler.Lookahead),
			CatchUpWindow: d(cfg.Scheduler.CatchUpWindow),
		},
		Reconciler: config.FileReconciler{
			Interval:       d(cfg.Reconciler.Interval),
			ZombieInterval: d(cfg.Reconciler.ZombieInterval),
			GraceWindow:    d(cfg.Reconciler.GraceWindow),
		},
		Redis: config.FileRedis{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       ptr(cfg.Redis.DB),
		},
		Notify: config.FileNotify{
			QueueSize:          ptr(cfg.Notify.QueueSize),
			PerOwnerPerMinute:  ptr(cfg.Notify.PerOwnerPerMinute),
			PerOwnerBurst:      ptr(cfg.Notify.PerOwnerBurst),
			RecentEventsPerKey: ptr(cfg.Notify.RecentEventsPerKey),
		},
		Telemetry: config.FileTelemetry{
			Enabled:      ptr(cfg.Telemetry.Enabled),
			ExporterType: cfg.Telemetry.ExporterType,
			Endpoint:     cfg.Telemetry.Endpoint,
			Insecure:     ptr(cfg.Telemetry.Insecure),
			SamplingRate: ptr(cfg.Telemetry.SamplingRate),
		},
	}
}

func redactFileConfigSecrets(cfg *config.FileConfig) {
	if cfg.API.Token != "" {
		cfg.API.Token = redacted
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = redacted
	}
}

func ptr[T any](v T) *T { return &v }
