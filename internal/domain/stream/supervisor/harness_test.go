// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/store"
	"github.com/ManuGH/streamrelay/internal/domain/stream/streamtest"
	"github.com/ManuGH/streamrelay/internal/domain/stream/tracker"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordedTermination struct {
	ID    string
	After time.Duration
}

// termRecorder stands in for the scheduler.
type termRecorder struct {
	mu        sync.Mutex
	scheduled []recordedTermination
	cancelled []string
}

func (r *termRecorder) ScheduleTermination(id string, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, recordedTermination{ID: id, After: after})
}

func (r *termRecorder) CancelTermination(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
	return true
}

func (r *termRecorder) Scheduled() []recordedTermination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedTermination(nil), r.scheduled...)
}

type harness struct {
	sup      *Supervisor
	store    *store.MemoryStore
	spawner  *streamtest.FakeSpawner
	clock    *streamtest.FakeClock
	notifier *streamtest.RecordingNotifier
	terms    *termRecorder
	tracker  *tracker.Tracker
	media    string
}

type harnessOption func(*Config, *Deps)

func withProber(p *streamtest.FixedProber) harnessOption {
	return func(_ *Config, d *Deps) { d.Prober = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	dir := t.TempDir()
	media := filepath.Join(dir, "loop.mp4")
	require.NoError(t, os.WriteFile(media, []byte("not really a video"), 0o600))

	clock := streamtest.NewFakeClock(t0)
	mem := store.NewMemoryStore()
	mem.Now = clock.Now
	tr := tracker.New(clock, time.Hour)

	h := &harness{
		store:    mem,
		spawner:  streamtest.NewFakeSpawner(),
		clock:    clock,
		notifier: &streamtest.RecordingNotifier{},
		terms:    &termRecorder{},
		tracker:  tr,
		media:    media,
	}

	cfg := Config{
		FFmpegBin:   "ffmpeg",
		MediaRoot:   dir,
		StopTimeout: 50 * time.Millisecond,
		KillTimeout: 50 * time.Millisecond,
	}
	deps := Deps{
		Streams:  mem,
		Videos:   mem,
		History:  mem,
		Notifier: h.notifier,
		Spawner:  h.spawner,
		Clock:    clock,
		Tracker:  tr,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}

	h.sup = New(cfg, deps)
	h.sup.SetTerminations(h.terms)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.sup.Close(ctx)
	})

	require.NoError(t, mem.PutVideo(context.Background(), &model.Video{
		ID:       "vid-1",
		Title:    "Rain loop",
		FilePath: "loop.mp4",
	}))
	return h
}

func (h *harness) putStream(t *testing.T, id string, mutate ...func(*model.Stream)) *model.Stream {
	t.Helper()
	st := &model.Stream{
		ID:               id,
		OwnerID:          "owner-1",
		Title:            "Lofi " + id,
		VideoID:          "vid-1",
		IngestURL:        "rtmp://live.example.com/app",
		StreamKey:        "key-" + id,
		Platform:         "youtube",
		Status:           model.StatusScheduled,
		ScheduleTime:     model.TimePtr(t0),
		RemainingMinutes: model.IntPtr(10),
		RequestedMinutes: model.IntPtr(10),
		Encoding:         model.EncodingPassthrough,
	}
	for _, m := range mutate {
		m(st)
	}
	require.NoError(t, h.store.PutStream(context.Background(), st))
	return st
}

func (h *harness) stream(t *testing.T, id string) *model.Stream {
	t.Helper()
	st, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func (h *harness) start(t *testing.T, id string) (Result, *streamtest.FakeProcess) {
	t.Helper()
	res, err := h.sup.Start(context.Background(), id)
	require.NoError(t, err)
	proc := h.spawner.Last()
	require.NotNil(t, proc)
	return res, proc
}

func (h *harness) waitStatus(t *testing.T, id string, want model.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.store.FindByID(context.Background(), id)
		return err == nil && st != nil && st.Status == want
	}, waitFor, tick, "stream %s never reached %s", id, want)
}

func (h *harness) waitNotification(t *testing.T, kind string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		count := 0
		for _, k := range h.notifier.Kinds() {
			if k == kind {
				count++
			}
		}
		return count >= n
	}, waitFor, tick, "expected %d %s notifications, got %v", n, kind, h.notifier.Kinds())
}

// waitRestartTimer waits until the restart goroutine has armed its backoff.
func (h *harness) waitRestartTimer(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.Pending() > 0 }, waitFor, tick, "no restart timer armed")
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}
