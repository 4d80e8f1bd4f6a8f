// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParser_Block(t *testing.T) {
	var p ProgressParser
	lines := []string{
		"frame=120",
		"fps=30.00",
		"out_time_us=4000000",
		"out_time_ms=4000000",
		"out_time=00:00:04.000000",
		"speed=1x",
	}
	for _, l := range lines {
		_, ok := p.ParseLine(l)
		assert.False(t, ok, l)
	}
	secs, ok := p.ParseLine("progress=continue")
	require.True(t, ok)
	assert.InDelta(t, 4.0, secs, 1e-9)
}

func TestProgressParser_NoTimeYet(t *testing.T) {
	var p ProgressParser
	_, ok := p.ParseLine("out_time=-577014:32:22.77")
	assert.False(t, ok)
	_, ok = p.ParseLine("progress=continue")
	assert.False(t, ok, "no usable time before the first packet")
}

func TestParseTimemark(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"00:01:02.50", 62.5, true},
		{"01:00:00.00", 3600, true},
		{"00:00:04.000000", 4, true},
		{"-00:00:01.00", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimemark(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestTimemarkFromStats(t *testing.T) {
	secs, ok := TimemarkFromStats("frame= 1500 fps= 30 q=-1.0 size=   12345kB time=00:00:50.04 bitrate=2021.1kbits/s speed=   1x")
	require.True(t, ok)
	assert.InDelta(t, 50.04, secs, 1e-9)

	_, ok = TimemarkFromStats("[flv @ 0x55] Failed to update header")
	assert.False(t, ok)
}
