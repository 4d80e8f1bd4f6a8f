// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/store"
	"github.com/ManuGH/streamrelay/internal/domain/stream/streamtest"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeController struct {
	mu       sync.Mutex
	active   map[string]supervisor.RuntimeInfo
	startErr map[string]error
	started  []string
	stopped  []string
	terms    supervisor.Terminations
}

func newFakeController() *fakeController {
	return &fakeController{
		active:   make(map[string]supervisor.RuntimeInfo),
		startErr: make(map[string]error),
	}
}

func (c *fakeController) SetTerminations(t supervisor.Terminations) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terms = t
}

func (c *fakeController) Start(_ context.Context, id string) (supervisor.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.startErr[id]; err != nil {
		return supervisor.Result{}, err
	}
	c.started = append(c.started, id)
	c.active[id] = supervisor.RuntimeInfo{Active: true}
	return supervisor.Result{Message: "stream started"}, nil
}

func (c *fakeController) Stop(_ context.Context, id string) (supervisor.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, id)
	delete(c.active, id)
	return supervisor.Result{Message: "stream stopped"}, nil
}

func (c *fakeController) IsActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

func (c *fakeController) GetRuntimeInfo(id string) (supervisor.RuntimeInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.active[id]
	return info, ok
}

func (c *fakeController) setRunning(id string, session time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[id] = supervisor.RuntimeInfo{Active: true, SessionRuntime: session}
}

func (c *fakeController) Started() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.started...)
}

func (c *fakeController) Stopped() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stopped...)
}

type fixture struct {
	sched *Scheduler
	ctrl  *fakeController
	store *store.MemoryStore
	clock *streamtest.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := streamtest.NewFakeClock(t0)
	mem := store.NewMemoryStore()
	mem.Now = clock.Now
	ctrl := newFakeController()

	s := New(Config{PollInterval: time.Hour, Lookahead: time.Minute, CatchUpWindow: 5 * time.Minute}, mem, clock)
	s.Init(ctrl)
	return &fixture{sched: s, ctrl: ctrl, store: mem, clock: clock}
}

func (f *fixture) put(t *testing.T, id string, mutate func(*model.Stream)) {
	t.Helper()
	st := &model.Stream{
		ID:               id,
		OwnerID:          "owner-1",
		Title:            id,
		VideoID:          "vid-1",
		IngestURL:        "rtmp://live.example.com/app",
		StreamKey:        "key",
		Status:           model.StatusScheduled,
		RemainingMinutes: model.IntPtr(10),
	}
	if mutate != nil {
		mutate(st)
	}
	require.NoError(t, f.store.PutStream(context.Background(), st))
}

func scheduledAt(at time.Time) func(*model.Stream) {
	return func(s *model.Stream) { s.ScheduleTime = model.TimePtr(at) }
}

func TestInit_RegistersAsTerminationOwner(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.sched, f.ctrl.terms)
}

func TestCheckScheduled_StartsStreamsInsideWindow(t *testing.T) {
	f := newFixture(t)
	f.put(t, "due-now", scheduledAt(t0))
	f.put(t, "lookahead", scheduledAt(t0.Add(45*time.Second)))
	f.put(t, "caught-up", scheduledAt(t0.Add(-4*time.Minute)))
	f.put(t, "too-late", scheduledAt(t0.Add(-10*time.Minute)))
	f.put(t, "future", scheduledAt(t0.Add(10*time.Minute)))
	f.put(t, "offline", func(s *model.Stream) {
		s.Status = model.StatusOffline
		s.ScheduleTime = model.TimePtr(t0)
	})

	started, err := f.sched.CheckScheduled(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due-now", "lookahead", "caught-up"}, started)
	assert.ElementsMatch(t, started, f.ctrl.Started())
}

func TestCheckScheduled_SkipsActiveStreams(t *testing.T) {
	f := newFixture(t)
	f.put(t, "running", scheduledAt(t0))
	f.ctrl.setRunning("running", 0)

	started, err := f.sched.CheckScheduled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, started)
	assert.Empty(t, f.ctrl.Started())
}

func TestCheckScheduled_FailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.put(t, "broken", scheduledAt(t0))
	f.put(t, "db-down", scheduledAt(t0))
	f.ctrl.startErr["broken"] = model.ErrMediaNotFound
	f.ctrl.startErr["db-down"] = model.ErrRepositoryUnavailable

	_, err := f.sched.CheckScheduled(context.Background())
	require.NoError(t, err)

	broken, err := f.store.FindByID(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, broken.Status)

	down, err := f.store.FindByID(context.Background(), "db-down")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, down.Status, "an unavailable repository is retried on the next poll")
}

func TestScheduleTermination_FiresStop(t *testing.T) {
	f := newFixture(t)
	f.put(t, "s1", func(s *model.Stream) { s.Status = model.StatusLive })

	f.sched.ScheduleTermination("s1", 6*time.Minute)
	require.True(t, f.sched.HasScheduledTermination("s1"))

	st, err := f.store.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, st.ExpectedStopTime)
	assert.Equal(t, t0.Add(6*time.Minute), *st.ExpectedStopTime)

	f.clock.Advance(5 * time.Minute)
	assert.Empty(t, f.ctrl.Stopped())

	f.clock.Advance(time.Minute)
	assert.Equal(t, []string{"s1"}, f.ctrl.Stopped())
	assert.False(t, f.sched.HasScheduledTermination("s1"))
}

func TestScheduleTermination_ReplacesPreviousTimer(t *testing.T) {
	f := newFixture(t)

	f.sched.ScheduleTermination("s1", time.Minute)
	f.sched.ScheduleTermination("s1", 10*time.Minute)
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(2 * time.Minute)
	assert.Empty(t, f.ctrl.Stopped(), "replaced timer must not fire")

	f.clock.Advance(8 * time.Minute)
	assert.Equal(t, []string{"s1"}, f.ctrl.Stopped())
}

func TestFire_StaleGenerationIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.sched.ScheduleTermination("s1", time.Minute)

	f.sched.mu.Lock()
	stale := f.sched.terms["s1"].gen
	f.sched.mu.Unlock()

	f.sched.ScheduleTermination("s1", time.Hour)
	f.sched.fire("s1", stale)

	assert.Empty(t, f.ctrl.Stopped())
	assert.True(t, f.sched.HasScheduledTermination("s1"))
}

func TestCancelTermination(t *testing.T) {
	f := newFixture(t)
	f.sched.ScheduleTermination("s1", time.Minute)

	assert.True(t, f.sched.HandleStreamStopped("s1"))
	assert.False(t, f.sched.CancelTermination("s1"))
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.ctrl.Stopped())
}

func TestGetScheduledTerminations(t *testing.T) {
	f := newFixture(t)
	f.sched.ScheduleTermination("b", 2*time.Minute)
	f.sched.ScheduleTermination("a", time.Minute)

	got := f.sched.GetScheduledTerminations()
	require.Len(t, got, 2)
	assert.Equal(t, TerminationInfo{HasScheduledTermination: true, FiresAt: t0.Add(time.Minute)}, got["a"])
	assert.Equal(t, []string{"a", "b"}, f.sched.PendingIDs())
}

func TestCheckDurations(t *testing.T) {
	f := newFixture(t)
	live := func(minutes int) func(*model.Stream) {
		return func(s *model.Stream) {
			s.Status = model.StatusLive
			s.RemainingMinutes = model.IntPtr(minutes)
			s.StartTime = model.TimePtr(t0)
		}
	}
	f.put(t, "fresh", live(10))
	f.ctrl.setRunning("fresh", 4*time.Minute)
	f.put(t, "expired", live(3))
	f.ctrl.setRunning("expired", 5*time.Minute)
	f.put(t, "exhausted", live(0))
	f.ctrl.setRunning("exhausted", time.Minute)
	f.put(t, "idle", live(10))
	f.put(t, "unlimited", func(s *model.Stream) { s.Status = model.StatusLive; s.RemainingMinutes = nil })
	f.ctrl.setRunning("unlimited", time.Minute)

	require.NoError(t, f.sched.CheckDurations(context.Background()))

	assert.ElementsMatch(t, []string{"expired", "exhausted"}, f.ctrl.Stopped())
	terms := f.sched.GetScheduledTerminations()
	require.Len(t, terms, 1)
	assert.Equal(t, t0.Add(6*time.Minute), terms["fresh"].FiresAt)

	// A second pass leaves the armed timer alone.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.CheckDurations(context.Background()))
	assert.Equal(t, t0.Add(6*time.Minute), f.sched.GetScheduledTerminations()["fresh"].FiresAt)
}

type failingRepo struct {
	*store.MemoryStore
}

func (failingRepo) FindScheduledInRange(context.Context, time.Time, time.Time) ([]*model.Stream, error) {
	return nil, errors.New("database is locked")
}

func TestCheckScheduled_RepositoryError(t *testing.T) {
	clock := streamtest.NewFakeClock(t0)
	s := New(Config{}, failingRepo{store.NewMemoryStore()}, clock)
	s.Init(newFakeController())

	_, err := s.CheckScheduled(context.Background())
	require.Error(t, err)
}

func TestRun_RequiresInit(t *testing.T) {
	s := New(Config{}, store.NewMemoryStore(), streamtest.NewFakeClock(t0))
	require.Error(t, s.Run(context.Background()))
}

func TestRun_PollsAndCancelsTimersOnExit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	f.put(t, "due", scheduledAt(t0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.ctrl.Started()) == 1 }, 2*time.Second, 5*time.Millisecond)
	f.sched.ScheduleTermination("due", time.Hour)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Empty(t, f.sched.GetScheduledTerminations())
}
