// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressParser accumulates `-progress` key=value lines. A block ends with
// a "progress=continue|end" line, at which point the latest output time is
// reported.
type ProgressParser struct {
	outTime float64
	seen    bool
}

// ParseLine consumes one line and returns the playback position when a
// progress block completes.
func (p *ProgressParser) ParseLine(line string) (seconds float64, ok bool) {
	key, val, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)

	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is in microseconds as well.
		if us, err := strconv.ParseInt(val, 10, 64); err == nil && us >= 0 {
			p.outTime = float64(us) / 1e6
			p.seen = true
		}
	case "out_time":
		if s, ok := ParseTimemark(val); ok {
			p.outTime = s
			p.seen = true
		}
	case "progress":
		if !p.seen {
			return 0, false
		}
		return p.outTime, true
	}
	return 0, false
}

var timemarkPattern = regexp.MustCompile(`^(-?)(\d+):(\d{2}):(\d{2}(?:\.\d+)?)$`)

// ParseTimemark converts HH:MM:SS.xx into seconds. Negative marks (reported
// before the first packet) are rejected.
func ParseTimemark(mark string) (float64, bool) {
	m := timemarkPattern.FindStringSubmatch(strings.TrimSpace(mark))
	if m == nil || m[1] == "-" {
		return 0, false
	}
	h, _ := strconv.Atoi(m[2])
	mi, _ := strconv.Atoi(m[3])
	s, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+mi*60) + s, true
}

var stderrTimePattern = regexp.MustCompile(`time=(\d+:\d{2}:\d{2}(?:\.\d+)?)`)

// TimemarkFromStats extracts the position from a classic stats line
// ("frame= ... time=00:01:02.50 ..."), for builds started without -progress.
func TimemarkFromStats(line string) (float64, bool) {
	m := stderrTimePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return ParseTimemark(m[1])
}
