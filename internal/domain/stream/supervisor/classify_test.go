// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status ports.ExitStatus
		diag   []string
		want   ExitClass
	}{
		{name: "clean exit", status: ports.ExitStatus{Code: 0}, want: ExitFinished},
		{name: "sigterm", status: ports.ExitStatus{Code: -1, Signal: syscall.SIGTERM}, want: ExitStoppedExternally},
		{name: "sigint", status: ports.ExitStatus{Code: -1, Signal: syscall.SIGINT}, want: ExitStoppedExternally},
		{name: "segv", status: ports.ExitStatus{Code: -1, Signal: syscall.SIGSEGV}, want: ExitCrash},
		{name: "oom kill", status: ports.ExitStatus{Code: -1, Signal: syscall.SIGKILL}, want: ExitCrash},
		{name: "sighup", status: ports.ExitStatus{Code: -1, Signal: syscall.SIGHUP}, want: ExitFailed},
		{name: "shell reported segv", status: ports.ExitStatus{Code: 139}, want: ExitCrash},
		{
			name:   "ffmpeg trapped sigterm",
			status: ports.ExitStatus{Code: 255},
			diag:   []string{"Exiting normally, received signal 15."},
			want:   ExitStoppedExternally,
		},
		{
			name:   "connection reset",
			status: ports.ExitStatus{Code: 1},
			diag:   []string{"frame=1", "[tcp @ 0x1] Connection reset by peer"},
			want:   ExitTransient,
		},
		{
			name:   "broken pipe",
			status: ports.ExitStatus{Code: 1},
			diag:   []string{"av_interleaved_write_frame(): BROKEN PIPE"},
			want:   ExitTransient,
		},
		{
			name:   "bad input",
			status: ports.ExitStatus{Code: 1},
			diag:   []string{"loop.mp4: Invalid data found when processing input"},
			want:   ExitFailed,
		},
		{name: "no diagnostics", status: ports.ExitStatus{Code: 1}, want: ExitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, tt.diag))
		})
	}
}

func TestIsErrorLine(t *testing.T) {
	assert.True(t, isErrorLine("[rtmp @ 0x1] Error writing trailer"))
	assert.True(t, isErrorLine("Failed to update header"))
	assert.False(t, isErrorLine("frame= 10 fps=30 q=-1.0"))
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	assert.Empty(t, r.LastN(5))

	r.Add("a")
	r.Add("")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.LastN(5))

	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.LastN(5))
	assert.Equal(t, []string{"c", "d"}, r.LastN(2))
	assert.Nil(t, r.LastN(0))
}

func TestLogRing(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	r := NewLogRing(2)

	r.Append(at, "one")
	r.Append(at.Add(time.Second), "two")
	r.Append(at.Add(2*time.Second), "three")

	entries := r.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
	assert.Equal(t, time.UTC, entries[0].Timestamp.Location())

	entries[0].Message = "mutated"
	assert.Equal(t, "two", r.Entries()[0].Message)
}
