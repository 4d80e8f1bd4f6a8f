// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/streamtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func TestResumeOffsetPriority(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	tr := New(clock, 0)

	_, ok := tr.ComputeResumeOffset("s1")
	assert.False(t, ok, "unknown stream starts from the beginning")

	tr.BeginSession("s1", "sess", t0, 0)
	clock.Advance(40 * time.Second)
	tr.EndSession("s1", "sess", clock.Now())

	off, ok := tr.ComputeResumeOffset("s1")
	require.True(t, ok)
	assert.InDelta(t, 40, off, 0.001, "falls back to accumulated runtime")

	tr.BeginSession("s1", "sess", clock.Now(), off)
	tr.RecordProgress("s1", "sess", 12.5)
	off, ok = tr.ComputeResumeOffset("s1")
	require.True(t, ok)
	assert.InDelta(t, 52.5, off, 0.001, "observed position wins and is absolute")
}

func TestResumeIsMonotonicAcrossCrashes(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	tr := New(clock, 0)

	tr.BeginSession("s1", "sess", clock.Now(), 0)
	tr.RecordProgress("s1", "sess", 50)
	clock.Advance(50 * time.Second)
	tr.EndSession("s1", "sess", clock.Now())

	first, _ := tr.ComputeResumeOffset("s1")
	tr.BeginSession("s1", "sess", clock.Now(), first)
	// Early progress from the new session must not pull the position back.
	tr.RecordProgress("s1", "sess", 0.5)
	clock.Advance(20 * time.Second)
	tr.RecordProgress("s1", "sess", 20)
	tr.EndSession("s1", "sess", clock.Now())

	second, _ := tr.ComputeResumeOffset("s1")
	assert.GreaterOrEqual(t, second, first)
	assert.InDelta(t, 70, second, 0.001)

	// Progress never decreases within a session.
	tr.BeginSession("s1", "sess", clock.Now(), second)
	tr.RecordProgress("s1", "sess", 10)
	tr.RecordProgress("s1", "sess", 3)
	third, _ := tr.ComputeResumeOffset("s1")
	assert.InDelta(t, 80, third, 0.001)
}

func TestLoopOffset(t *testing.T) {
	tests := []struct {
		name     string
		offset   float64
		duration float64
		want     float64
	}{
		{"95s on 30s loop", 95, 30, 5},
		{"exact multiple", 60, 30, 0},
		{"shorter than source", 12, 30, 12},
		{"unknown duration", 95, 0, 95},
		{"negative offset", -3, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LoopOffset(tt.offset, tt.duration), 0.0001)
		})
	}
}

func TestEndSessionAccumulates(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	tr := New(clock, 0)

	assert.Zero(t, tr.EndSession("s1", "sess", t0), "no session open")

	tr.BeginSession("s1", "sess", clock.Now(), 0)
	clock.Advance(4 * time.Minute)
	assert.Equal(t, 4*time.Minute, tr.EndSession("s1", "sess", clock.Now()))
	assert.Zero(t, tr.EndSession("s1", "sess", clock.Now()), "second end is a no-op")

	tr.BeginSession("s1", "sess", clock.Now(), 240)
	clock.Advance(3 * time.Minute)

	info, ok := tr.RuntimeInfo("s1")
	require.True(t, ok)
	assert.True(t, info.InSession)
	assert.Equal(t, 3, info.SessionMinutes())
	assert.Equal(t, 7, info.TotalMinutes())
}

func TestIsStale(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	tr := New(clock, time.Hour)

	assert.False(t, tr.IsStale("s1", t0))

	tr.BeginSession("s1", "sess", t0, 0)
	assert.False(t, tr.IsStale("s1", t0.Add(3*time.Hour)), "a running session is never stale")

	tr.EndSession("s1", "sess", t0.Add(10*time.Minute))
	assert.False(t, tr.IsStale("s1", t0.Add(time.Hour)))
	assert.True(t, tr.IsStale("s1", t0.Add(71*time.Minute)))

	tr.Reset("s1")
	_, ok := tr.Snapshot("s1")
	assert.False(t, ok)
}

func TestProgressWithoutSessionIgnored(t *testing.T) {
	tr := New(streamtest.NewFakeClock(t0), 0)
	tr.RecordProgress("ghost", "sess", 30)
	_, ok := tr.ComputeResumeOffset("ghost")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	tr := New(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b"}[i%2]
			tr.BeginSession(id, "sess", time.Now(), 0)
			for j := 0; j < 100; j++ {
				tr.RecordProgress(id, "sess", float64(j))
				_, _ = tr.RuntimeInfo(id)
			}
			tr.EndSession(id, "sess", time.Now())
		}(i)
	}
	wg.Wait()
	off, _ := tr.ComputeResumeOffset("a")
	assert.LessOrEqual(t, off, 99.0)
}

func TestStaleSessionCallsIgnored(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	tr := New(clock, 0)

	tr.BeginSession("s1", "old", clock.Now(), 0)
	tr.BeginSession("s1", "new", clock.Now(), 0)

	tr.RecordProgress("s1", "old", 500)
	clock.Advance(time.Minute)
	assert.Zero(t, tr.EndSession("s1", "old", clock.Now()))

	info, _ := tr.RuntimeInfo("s1")
	assert.True(t, info.InSession)
	assert.Zero(t, info.LastObservedPlayback)
	assert.Equal(t, time.Minute, tr.EndSession("s1", "new", clock.Now()))
}
