// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveFFprobeBin returns the ffprobe binary used to measure source media.
//
// Resolution order:
// 1) Explicit ffprobeBin (RELAY_FFPROBE_BIN)
// 2) Sibling of a concrete ffmpeg path (.../ffmpeg -> .../ffprobe) if it exists
// 3) "ffprobe", resolved through PATH by the prober
func ResolveFFprobeBin(ffprobeBin, ffmpegBin string) string {
	return resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin, os.Stat)
}

func resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin string, stat func(string) (os.FileInfo, error)) string {
	if v := strings.TrimSpace(ffprobeBin); v != "" {
		return v
	}
	ffmpegBin = strings.TrimSpace(ffmpegBin)
	if !strings.ContainsRune(ffmpegBin, '/') || filepath.Base(ffmpegBin) != "ffmpeg" {
		return "ffprobe"
	}
	candidate := filepath.Join(filepath.Dir(ffmpegBin), "ffprobe")
	if fi, err := stat(candidate); err == nil && !fi.IsDir() {
		return candidate
	}
	return "ffprobe"
}
