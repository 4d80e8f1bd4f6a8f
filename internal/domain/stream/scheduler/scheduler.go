// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler starts streams when their scheduled time arrives and
// stops them when their remaining duration runs out.
//
// Two loops poll the repository: the start loop picks up scheduled streams
// whose time falls in [now-CatchUpWindow, now+Lookahead], the duration loop
// arms a termination timer for every live stream that has none. Timers are
// tagged with a generation; a timer that was replaced or cancelled after it
// fired does nothing.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
)

// Controller is the part of the supervisor the scheduler drives.
type Controller interface {
	Start(ctx context.Context, id string) (supervisor.Result, error)
	Stop(ctx context.Context, id string) (supervisor.Result, error)
	IsActive(id string) bool
	GetRuntimeInfo(id string) (supervisor.RuntimeInfo, bool)
}

// terminationSink is implemented by controllers that arm termination
// timers themselves after a successful start.
type terminationSink interface {
	SetTerminations(t supervisor.Terminations)
}

// Config tunes the polling loops.
type Config struct {
	PollInterval  time.Duration
	Lookahead     time.Duration
	CatchUpWindow time.Duration
	OpTimeout     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Minute,
		Lookahead:     60 * time.Second,
		CatchUpWindow: 5 * time.Minute,
		OpTimeout:     30 * time.Second,
	}
}

// TerminationInfo describes one armed termination timer.
type TerminationInfo struct {
	HasScheduledTermination bool      `json:"has_scheduled_termination"`
	FiresAt                 time.Time `json:"fires_at"`
}

type termination struct {
	gen     uint64
	timer   ports.Timer
	firesAt time.Time
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg     Config
	streams ports.StreamRepository
	clock   ports.Clock
	logger  zerolog.Logger

	mu    sync.Mutex
	ctrl  Controller
	terms map[string]*termination
	gen   uint64
}

// New returns a Scheduler. Init must be called before Run.
func New(cfg Config, streams ports.StreamRepository, clock ports.Clock) *Scheduler {
	d := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.Lookahead < 0 {
		cfg.Lookahead = 0
	}
	if cfg.CatchUpWindow < 0 {
		cfg.CatchUpWindow = 0
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = d.OpTimeout
	}
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Scheduler{
		cfg:     cfg,
		streams: streams,
		clock:   clock,
		logger:  xglog.WithComponent("scheduler"),
		terms:   make(map[string]*termination),
	}
}

// Init wires the controller. When the controller arms termination timers on
// start, the scheduler registers itself as its timer owner.
func (s *Scheduler) Init(ctrl Controller) {
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()
	if sink, ok := ctrl.(terminationSink); ok {
		sink.SetTerminations(s)
	}
}

func (s *Scheduler) controller() Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

// Run drives both loops until ctx is cancelled. Each loop runs once
// immediately. Pending termination timers are cancelled on return.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.controller() == nil {
		return errors.New("scheduler: Init was not called")
	}
	s.logger.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("lookahead", s.cfg.Lookahead).
		Dur("catch_up_window", s.cfg.CatchUpWindow).
		Msg("scheduler started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, "start", func(ctx context.Context) { _, _ = s.CheckScheduled(ctx) })
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, "duration", func(ctx context.Context) { _ = s.CheckDurations(ctx) })
		return nil
	})
	err := g.Wait()

	s.cancelAll()
	s.logger.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, name string, once func(context.Context)) {
	once(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug().Str("loop", name).Msg("poll")
			once(ctx)
		}
	}
}

// CheckScheduled starts every scheduled stream that is due and returns the
// ids it started. A stream whose start fails for a reason other than an
// unavailable repository is marked error so it is not retried every poll.
func (s *Scheduler) CheckScheduled(ctx context.Context) ([]string, error) {
	ctrl := s.controller()
	now := s.clock.Now()
	due, err := s.streams.FindScheduledInRange(ctx, now.Add(-s.cfg.CatchUpWindow), now.Add(s.cfg.Lookahead))
	if err != nil {
		metrics.RecordSchedulerTrigger("start", "repository_error")
		s.logger.Warn().Err(err).Msg("failed to query scheduled streams")
		return nil, err
	}

	var started []string
	for _, st := range due {
		if ctx.Err() != nil {
			break
		}
		logger := s.logger.With().Str(xglog.FieldStreamID, st.ID).Logger()
		if ctrl.IsActive(st.ID) {
			logger.Debug().Msg("scheduled stream is already running")
			continue
		}

		res, err := ctrl.Start(ctx, st.ID)
		switch {
		case err == nil && !res.Started():
			metrics.RecordSchedulerTrigger("start", "noop")
			logger.Debug().Str("result", res.Message).Msg("scheduled start skipped")
		case err == nil:
			metrics.RecordSchedulerTrigger("start", "ok")
			started = append(started, st.ID)
			logger.Info().Time("scheduled_for", derefTime(st.ScheduleTime)).Msg("scheduled stream started")
		default:
			metrics.RecordSchedulerTrigger("start", model.Code(err))
			logger.Warn().Err(err).Msg("scheduled start failed")
			s.markFailed(ctx, st, err, logger)
		}
	}
	return started, nil
}

func (s *Scheduler) markFailed(ctx context.Context, st *model.Stream, err error, logger zerolog.Logger) {
	switch {
	case errors.Is(err, model.ErrRepositoryUnavailable), errors.Is(err, model.ErrNoRemainingTime),
		errors.Is(err, model.ErrStreamNotFound), errors.Is(err, supervisor.ErrClosed),
		errors.Is(err, supervisor.ErrStopping), errors.Is(err, context.Canceled):
		return
	}
	if uerr := s.streams.UpdateStatus(ctx, st.ID, model.StatusError, st.OwnerID); uerr != nil {
		logger.Warn().Err(uerr).Msg("failed to mark scheduled stream as errored")
	}
}

// CheckDurations arms a termination timer for every running live stream with
// a limited duration that has none yet, and stops streams whose time is up.
func (s *Scheduler) CheckDurations(ctx context.Context) error {
	ctrl := s.controller()
	live, err := s.streams.FindAllByStatus(ctx, model.StatusLive)
	if err != nil {
		metrics.RecordSchedulerTrigger("duration", "repository_error")
		s.logger.Warn().Err(err).Msg("failed to query live streams")
		return err
	}

	now := s.clock.Now()
	for _, st := range live {
		if st.RemainingMinutes == nil || s.HasScheduledTermination(st.ID) || !ctrl.IsActive(st.ID) {
			continue
		}
		logger := s.logger.With().Str(xglog.FieldStreamID, st.ID).Logger()

		left := s.remaining(st, now)
		if left > 0 {
			s.ScheduleTermination(st.ID, left)
			metrics.RecordSchedulerTrigger("duration", "armed")
			continue
		}

		logger.Info().Msg("duration elapsed, stopping stream")
		if _, err := ctrl.Stop(ctx, st.ID); err != nil {
			metrics.RecordSchedulerTrigger("duration", model.Code(err))
			logger.Warn().Err(err).Msg("failed to stop expired stream")
			continue
		}
		metrics.RecordSchedulerTrigger("duration", "stopped")
	}
	return nil
}

// remaining is the budget left for the running session. Remaining minutes
// are only charged when a session ends, so the current session's runtime is
// subtracted here; the persisted start time is the fallback.
func (s *Scheduler) remaining(st *model.Stream, now time.Time) time.Duration {
	budget := time.Duration(*st.RemainingMinutes) * time.Minute
	if budget <= 0 {
		return 0
	}
	if info, ok := s.controller().GetRuntimeInfo(st.ID); ok && info.Active {
		return budget - info.SessionRuntime
	}
	if st.StartTime != nil {
		return st.StartTime.Add(budget).Sub(now)
	}
	return budget
}

// ScheduleTermination arms (or replaces) the timer that stops id after the
// given delay and persists the expected stop time.
func (s *Scheduler) ScheduleTermination(id string, after time.Duration) {
	if after < 0 {
		after = 0
	}
	firesAt := s.clock.Now().Add(after)

	s.mu.Lock()
	if old := s.terms[id]; old != nil {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := &termination{gen: gen, firesAt: firesAt}
	t.timer = s.clock.AfterFunc(after, func() { s.fire(id, gen) })
	s.terms[id] = t
	metrics.PendingTerminations.Set(float64(len(s.terms)))
	s.mu.Unlock()

	s.logger.Info().
		Str(xglog.FieldStreamID, id).
		Time(xglog.FieldFiresAt, firesAt).
		Msg("termination scheduled")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.streams.UpdateExpectedStopTime(ctx, id, firesAt); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldStreamID, id).Msg("failed to persist expected stop time")
	}
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	t := s.terms[id]
	if t == nil || t.gen != gen {
		s.mu.Unlock()
		metrics.RecordSchedulerTrigger("termination", "stale")
		return
	}
	delete(s.terms, id)
	metrics.PendingTerminations.Set(float64(len(s.terms)))
	ctrl := s.ctrl
	s.mu.Unlock()

	logger := s.logger.With().Str(xglog.FieldStreamID, id).Logger()
	logger.Info().Msg("duration reached, stopping stream")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if _, err := ctrl.Stop(ctx, id); err != nil {
		metrics.RecordSchedulerTrigger("termination", model.Code(err))
		logger.Warn().Err(err).Msg("timed stop failed")
		return
	}
	metrics.RecordSchedulerTrigger("termination", "stopped")
}

// CancelTermination disarms the timer of id and reports whether one was pending.
func (s *Scheduler) CancelTermination(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terms[id]
	if t == nil {
		return false
	}
	t.timer.Stop()
	delete(s.terms, id)
	metrics.PendingTerminations.Set(float64(len(s.terms)))
	return true
}

// HandleStreamStopped is called whenever a stream stops for any reason.
func (s *Scheduler) HandleStreamStopped(id string) bool {
	cancelled := s.CancelTermination(id)
	if cancelled {
		s.logger.Debug().Str(xglog.FieldStreamID, id).Msg("termination cancelled, stream stopped")
	}
	return cancelled
}

// HasScheduledTermination reports whether a timer is armed for id.
func (s *Scheduler) HasScheduledTermination(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.terms[id]
	return ok
}

// GetScheduledTerminations returns a snapshot of all armed timers.
func (s *Scheduler) GetScheduledTerminations() map[string]TerminationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TerminationInfo, len(s.terms))
	for id, t := range s.terms {
		out[id] = TerminationInfo{HasScheduledTermination: true, FiresAt: t.firesAt}
	}
	return out
}

// PendingIDs returns the ids with an armed timer, sorted.
func (s *Scheduler) PendingIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.terms))
	for id := range s.terms {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.terms {
		t.timer.Stop()
		delete(s.terms, id)
	}
	metrics.PendingTerminations.Set(0)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
