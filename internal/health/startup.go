// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamrelay/internal/config"
	"github.com/ManuGH/streamrelay/internal/log"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// PerformStartupChecks validates the environment and dependencies before the
// daemon starts supervising streams.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkDatabaseDir(logger, cfg.DatabasePath); err != nil {
		return fmt.Errorf("database path check failed: %w", err)
	}
	if err := checkMediaRoot(logger, cfg.MediaRoot); err != nil {
		return fmt.Errorf("media root check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.API.ListenAddr); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := checkBinaries(logger, cfg.FFmpegBin, cfg.FFprobeBin); err != nil {
		return fmt.Errorf("dependency check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Msg("data directory is writable")
	return nil
}

func checkDatabaseDir(logger zerolog.Logger, dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	logger.Debug().Str(log.FieldPath, dbPath).Msg("database directory exists")
	return nil
}

// The media root is read-only for the relay; it must exist but is never created.
func checkMediaRoot(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	logger.Info().Str(log.FieldPath, path).Msg("media root exists")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("API listen address is valid")
	return nil
}

func checkBinaries(logger zerolog.Logger, ffmpegBin, ffprobeBin string) error {
	ffmpegBin = strings.TrimSpace(ffmpegBin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if _, err := lookPath(ffmpegBin); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", ffmpegBin, err)
	}
	// ffprobe only feeds the duration cache; without it probes fail per stream.
	if ffprobeBin != "" {
		if _, err := lookPath(ffprobeBin); err != nil {
			logger.Warn().Err(err).Str("ffprobe", ffprobeBin).Msg("ffprobe not found; media probes will fail")
		}
	}
	logger.Info().Str("ffmpeg", ffmpegBin).Msg("ffmpeg available")
	return nil
}
