// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/streamrelay/internal/config"
	"github.com/ManuGH/streamrelay/internal/version"
	"github.com/ManuGH/streamrelay/internal/persistence/sqlite"
)

func runStorageCLI(args []string) int {
	return storageCLI(context.Background(), args, os.Stdout, os.Stderr)
}

func storageCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(stdout)
		return 0
	}

	switch args[0] {
	case "verify":
		return runStorageVerify(ctx, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  relayd storage verify [--path PATH | --config relay.yaml] [--mode quick|full]")
}

func runStorageVerify(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relayd storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var path, configPath, mode string
	fs.StringVar(&path, "path", "", "path to the SQLite database file")
	fs.StringVar(&configPath, "config", "", "read the database path from this config file")
	fs.StringVar(&mode, "mode", "quick", "verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "quick" && mode != "full" {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", mode)
		return 2
	}

	if path == "" {
		cfg, err := config.NewLoader(resolveConfigPath(configPath), version.Version).Load()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
			return 1
		}
		path = cfg.DatabasePath
	}
	if _, err := os.Stat(path); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stderr, "Verifying integrity of %s (mode: %s)...\n", path, mode)
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Open failed: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	issues, err := sqlite.VerifyIntegrity(ctx, db, mode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification interrupted: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		_, _ = fmt.Fprintln(stderr, "CORRUPTION DETECTED")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "integrity verified: ok")
	return 0
}
