// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/store"
	"github.com/ManuGH/streamrelay/internal/domain/stream/streamtest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSupervisor struct {
	mu       sync.Mutex
	active   map[string]bool
	starting map[string]bool
	stopping map[string]bool
	purged   []string
	orphans  []string
	zombies  []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		active:   map[string]bool{},
		starting: map[string]bool{},
		stopping: map[string]bool{},
	}
}

func (f *fakeSupervisor) IsActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeSupervisor) IsStarting(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starting[id]
}

func (f *fakeSupervisor) IsStopping(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopping[id]
}

func (f *fakeSupervisor) ListActive() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeSupervisor) Purge(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, id)
}

func (f *fakeSupervisor) TerminateOrphan(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans = append(f.orphans, id)
	delete(f.active, id)
	return nil
}

func (f *fakeSupervisor) SweepZombies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zombies
}

type pendingSet map[string]bool

func (p pendingSet) HasScheduledTermination(id string) bool { return p[id] }

type fixture struct {
	rec   *Reconciler
	sup   *fakeSupervisor
	store *store.MemoryStore
	clock *streamtest.FakeClock
	terms pendingSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := streamtest.NewFakeClock(t0)
	mem := store.NewMemoryStore()
	mem.Now = clock.Now
	f := &fixture{sup: newFakeSupervisor(), store: mem, clock: clock, terms: pendingSet{}}
	f.rec = New(Config{GraceWindow: 2 * time.Minute}, mem, f.sup, f.terms, clock)
	return f
}

// put stores a stream whose status was last changed at updatedAt.
func (f *fixture) put(t *testing.T, id string, status model.Status, updatedAt time.Time, mutate ...func(*model.Stream)) {
	t.Helper()
	st := &model.Stream{
		ID:              id,
		OwnerID:         "owner-1",
		Title:           id,
		Status:          status,
		StatusUpdatedAt: model.TimePtr(updatedAt),
	}
	for _, m := range mutate {
		m(st)
	}
	require.NoError(t, f.store.PutStream(context.Background(), st))
}

func (f *fixture) status(t *testing.T, id string) model.Status {
	t.Helper()
	st, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st.Status
}

func TestSyncStatuses_LiveWithoutEncoder(t *testing.T) {
	f := newFixture(t)
	old := t0.Add(-10 * time.Minute)

	f.put(t, "dead", model.StatusLive, old)
	f.put(t, "future", model.StatusLive, old, func(s *model.Stream) { s.ScheduleTime = model.TimePtr(t0.Add(time.Hour)) })
	f.put(t, "past-schedule", model.StatusLive, old, func(s *model.Stream) { s.ScheduleTime = model.TimePtr(t0.Add(-time.Hour)) })
	f.put(t, "fresh", model.StatusLive, t0.Add(-30*time.Second))
	f.put(t, "starting", model.StatusLive, old)
	f.put(t, "stopping", model.StatusLive, old)
	f.put(t, "timer", model.StatusLive, old)
	f.put(t, "running", model.StatusLive, old)

	f.sup.starting["starting"] = true
	f.sup.stopping["stopping"] = true
	f.sup.active["running"] = true
	f.terms["timer"] = true

	rep := f.rec.SyncStatuses(context.Background())

	want := Report{
		Rescheduled: []string{"future"},
		MarkedOff:   []string{"dead", "past-schedule"},
		Skipped:     4,
	}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, model.StatusScheduled, f.status(t, "future"), "a future schedule is never forced offline")
	assert.Equal(t, model.StatusOffline, f.status(t, "dead"))
	assert.Equal(t, model.StatusOffline, f.status(t, "past-schedule"))
	for _, id := range []string{"fresh", "starting", "stopping", "timer", "running"} {
		assert.Equal(t, model.StatusLive, f.status(t, id), id)
	}
	assert.ElementsMatch(t, []string{"dead", "past-schedule"}, f.sup.purged)
}

func TestSyncStatuses_GraceWindowExpires(t *testing.T) {
	f := newFixture(t)
	f.put(t, "s1", model.StatusLive, t0)

	rep := f.rec.SyncStatuses(context.Background())
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, model.StatusLive, f.status(t, "s1"))

	f.clock.Advance(2 * time.Minute)
	rep = f.rec.SyncStatuses(context.Background())
	assert.Equal(t, []string{"s1"}, rep.MarkedOff)
}

func TestSyncStatuses_ActiveWithoutLiveRecord(t *testing.T) {
	f := newFixture(t)
	f.put(t, "errored", model.StatusError, t0.Add(-time.Hour))
	f.put(t, "racing", model.StatusOffline, t0.Add(-time.Hour))
	f.sup.active["errored"] = true
	f.sup.active["deleted"] = true
	f.sup.active["racing"] = true
	f.sup.starting["racing"] = true

	rep := f.rec.SyncStatuses(context.Background())

	assert.Equal(t, []string{"errored"}, rep.ForcedLive)
	assert.Equal(t, []string{"deleted"}, rep.Orphans)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, model.StatusLive, f.status(t, "errored"))
	assert.Equal(t, model.StatusOffline, f.status(t, "racing"))
	assert.Equal(t, []string{"deleted"}, f.sup.orphans)
	assert.Contains(t, f.sup.purged, "deleted")
}

func TestSyncStatuses_CleanPassIsNoop(t *testing.T) {
	f := newFixture(t)
	f.put(t, "s1", model.StatusLive, t0.Add(-time.Hour))
	f.sup.active["s1"] = true

	rep := f.rec.SyncStatuses(context.Background())
	assert.Equal(t, Report{}, rep)
}

type brokenRepo struct {
	*store.MemoryStore
}

func (brokenRepo) FindAllByStatus(context.Context, model.Status) ([]*model.Stream, error) {
	return nil, errors.New("database is locked")
}

func TestSyncStatuses_QueryFailureIsSwallowed(t *testing.T) {
	sup := newFakeSupervisor()
	sup.active["s1"] = true
	rec := New(Config{}, brokenRepo{store.NewMemoryStore()}, sup, nil, streamtest.NewFakeClock(t0))

	rep := rec.SyncStatuses(context.Background())
	assert.True(t, rep.QueryFailed)
	assert.Empty(t, sup.orphans)

	at, lastErr := rec.LastRun()
	assert.Equal(t, t0, at)
	assert.NotEmpty(t, lastErr)
}

func TestLastRun(t *testing.T) {
	f := newFixture(t)
	at, lastErr := f.rec.LastRun()
	assert.True(t, at.IsZero())
	assert.Empty(t, lastErr)

	f.clock.Advance(time.Minute)
	f.rec.SyncStatuses(context.Background())
	at, lastErr = f.rec.LastRun()
	assert.Equal(t, t0.Add(time.Minute), at)
	assert.Empty(t, lastErr)
}

func TestSweepOnce(t *testing.T) {
	f := newFixture(t)
	f.sup.zombies = []string{"z1"}
	assert.Equal(t, []string{"z1"}, f.rec.SweepOnce())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.put(t, "dead", model.StatusLive, t0.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := f.store.FindByID(context.Background(), "dead")
		return err == nil && st.Status == model.StatusOffline
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
