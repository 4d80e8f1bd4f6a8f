// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/ManuGH/streamrelay/internal/cache"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultProbeTTL bounds how long a probed duration is trusted.
const DefaultProbeTTL = 24 * time.Hour

const probeTimeout = 30 * time.Second

// Prober measures source durations with ffprobe. Results are cached and
// concurrent probes of the same path share one ffprobe run.
type Prober struct {
	BinPath string
	Cache   cache.Durations
	TTL     time.Duration

	// run is replaced in tests.
	run   func(ctx context.Context, bin, path string) ([]byte, error)
	group singleflight.Group
}

var _ ports.DurationProber = (*Prober)(nil)

// NewProber returns a Prober. A nil cache disables caching.
func NewProber(binPath string, c cache.Durations, ttl time.Duration) *Prober {
	if binPath == "" {
		binPath = "ffprobe"
	}
	if c == nil {
		c = cache.Disabled{}
	}
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	return &Prober{BinPath: binPath, Cache: c, TTL: ttl, run: runFFprobe}
}

// ProbeDuration returns the duration of path in seconds.
func (p *Prober) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if d, ok := p.Cache.Lookup(ctx, path); ok {
		metrics.RecordProbe("cache")
		return d, nil
	}

	v, err, _ := p.group.Do(path, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()

		out, err := p.run(ctx, p.BinPath, path)
		if err != nil {
			return nil, err
		}
		d, err := parseDuration(out)
		if err != nil {
			return nil, err
		}
		p.Cache.Remember(ctx, path, d, p.TTL)
		return d, nil
	})
	if err != nil {
		metrics.RecordProbe("error")
		logger := log.WithComponent("ffprobe")
		logger.Warn().Err(err).Str(log.FieldPath, path).Msg("duration probe failed")
		return 0, err
	}
	metrics.RecordProbe("ffprobe")
	return v.(float64), nil
}

func runFFprobe(ctx context.Context, bin, path string) ([]byte, error) {
	// #nosec G204 -- fixed argument vector, path is passed as a single argument
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	return out, nil
}

type probeData struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseDuration(out []byte) (float64, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return 0, fmt.Errorf("json decode: %w", err)
	}
	if data.Format.Duration == "" || data.Format.Duration == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(data.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", data.Format.Duration, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %v", d)
	}
	return d, nil
}
