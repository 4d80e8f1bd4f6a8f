// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reconciler corrects drift between persisted stream status and the
// set of encoders the supervisor actually runs.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
)

// Supervisor is the view of the process supervisor the reconciler needs.
type Supervisor interface {
	IsActive(id string) bool
	IsStarting(id string) bool
	IsStopping(id string) bool
	ListActive() []string
	Purge(id string)
	TerminateOrphan(ctx context.Context, id string) error
	SweepZombies() []string
}

// Terminations reports armed termination timers.
type Terminations interface {
	HasScheduledTermination(id string) bool
}

// Config tunes the reconciliation loops.
type Config struct {
	Interval       time.Duration
	ZombieInterval time.Duration
	GraceWindow    time.Duration
	OpTimeout      time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		ZombieInterval: 2 * time.Minute,
		GraceWindow:    2 * time.Minute,
		OpTimeout:      30 * time.Second,
	}
}

// Report summarizes one SyncStatuses pass.
type Report struct {
	Rescheduled []string `json:"rescheduled"`
	MarkedOff   []string `json:"marked_offline"`
	ForcedLive  []string `json:"forced_live"`
	Orphans     []string `json:"orphans_terminated"`
	Skipped     int      `json:"skipped"`
	QueryFailed bool     `json:"query_failed,omitempty"`
}

// Reconciler runs SyncStatuses and the zombie sweep periodically.
type Reconciler struct {
	cfg     Config
	streams ports.StreamRepository
	sup     Supervisor
	terms   Terminations
	clock   ports.Clock
	logger  zerolog.Logger

	// passes are serialized; an API-triggered sync waits for a running one.
	passMu sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
	lastErr string
}

// New returns a Reconciler. terms may be nil.
func New(cfg Config, streams ports.StreamRepository, sup Supervisor, terms Terminations, clock ports.Clock) *Reconciler {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.ZombieInterval <= 0 {
		cfg.ZombieInterval = d.ZombieInterval
	}
	if cfg.GraceWindow < 0 {
		cfg.GraceWindow = 0
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = d.OpTimeout
	}
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Reconciler{
		cfg:     cfg,
		streams: streams,
		sup:     sup,
		terms:   terms,
		clock:   clock,
		logger:  xglog.WithComponent("reconciler"),
	}
}

// Run executes both loops until ctx is cancelled. The status loop runs once
// immediately; the zombie loop waits for its first tick.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("zombie_interval", r.cfg.ZombieInterval).
		Dur("grace_window", r.cfg.GraceWindow).
		Msg("reconciler started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.SyncStatuses(gctx)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				r.SyncStatuses(gctx)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.ZombieInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				r.SweepOnce()
			}
		}
	})
	err := g.Wait()
	r.logger.Info().Msg("reconciler stopped")
	return err
}

// SweepOnce reaps encoder handles whose process died without an exit event.
func (r *Reconciler) SweepOnce() []string {
	reaped := r.sup.SweepZombies()
	for _, id := range reaped {
		r.logger.Warn().Str(xglog.FieldStreamID, id).Msg("reaped dead encoder handle")
	}
	return reaped
}

// SyncStatuses makes persisted status agree with the running encoders. It
// never fails: problems are logged and the pass continues.
func (r *Reconciler) SyncStatuses(ctx context.Context) Report {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var rep Report
	live, err := r.query(ctx)
	if err != nil {
		rep.QueryFailed = true
		r.setLastRun(err)
		metrics.RecordReconcileRun("query_failed")
		r.logger.Warn().Err(err).Msg("failed to load live streams, skipping pass")
		return rep
	}

	liveIDs := make(map[string]struct{}, len(live))
	for _, st := range live {
		liveIDs[st.ID] = struct{}{}
		r.reconcileLive(ctx, st, &rep)
	}
	for _, id := range r.sup.ListActive() {
		if _, ok := liveIDs[id]; ok {
			continue
		}
		r.reconcileActive(ctx, id, &rep)
	}

	outcome := "clean"
	if corrections := len(rep.Rescheduled) + len(rep.MarkedOff) + len(rep.ForcedLive) + len(rep.Orphans); corrections > 0 {
		outcome = "corrected"
		r.logger.Info().
			Strs("rescheduled", rep.Rescheduled).
			Strs("marked_offline", rep.MarkedOff).
			Strs("forced_live", rep.ForcedLive).
			Strs("orphans", rep.Orphans).
			Msg("status reconciliation applied corrections")
	}
	metrics.RecordReconcileRun(outcome)
	r.setLastRun(nil)
	return rep
}

func (r *Reconciler) setLastRun(err error) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	r.lastRun = r.clock.Now()
	r.lastErr = ""
	if err != nil {
		r.lastErr = err.Error()
	}
}

// LastRun returns when the last status pass finished and, if its query
// failed, the error text.
func (r *Reconciler) LastRun() (time.Time, string) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.lastRun, r.lastErr
}

func (r *Reconciler) query(ctx context.Context) ([]*model.Stream, error) {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	return r.streams.FindAllByStatus(qctx, model.StatusLive)
}

// reconcileLive handles a stream persisted live without a running encoder.
func (r *Reconciler) reconcileLive(ctx context.Context, st *model.Stream, rep *Report) {
	id := st.ID
	if r.sup.IsActive(id) {
		return
	}
	logger := r.logger.With().Str(xglog.FieldStreamID, id).Logger()

	now := r.clock.Now()
	switch {
	case r.sup.IsStarting(id), r.sup.IsStopping(id):
		rep.Skipped++
		logger.Debug().Msg("transition in progress, leaving status alone")
		return
	case st.StatusUpdatedAt != nil && now.Sub(*st.StatusUpdatedAt) < r.cfg.GraceWindow:
		rep.Skipped++
		logger.Debug().Time("status_updated_at", *st.StatusUpdatedAt).Msg("inside grace window")
		return
	case r.terms != nil && r.terms.HasScheduledTermination(id):
		rep.Skipped++
		logger.Debug().Msg("termination pending, leaving status alone")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	if st.ScheduleTime != nil && st.ScheduleTime.After(now) {
		if err := r.streams.UpdateStatus(opCtx, id, model.StatusScheduled, st.OwnerID); err != nil {
			logger.Warn().Err(err).Msg("failed to revert stream to scheduled")
			return
		}
		rep.Rescheduled = append(rep.Rescheduled, id)
		metrics.RecordReconcileCorrection("live_to_scheduled")
		logger.Info().
			Str(xglog.FieldOldState, string(model.StatusLive)).
			Str(xglog.FieldNewState, string(model.StatusScheduled)).
			Msg("stream has a future schedule, reverted")
		return
	}

	if err := r.streams.UpdateStatus(opCtx, id, model.StatusOffline, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark stream offline")
		return
	}
	r.sup.Purge(id)
	rep.MarkedOff = append(rep.MarkedOff, id)
	metrics.RecordReconcileCorrection("live_to_offline")
	logger.Info().
		Str(xglog.FieldOldState, string(model.StatusLive)).
		Str(xglog.FieldNewState, string(model.StatusOffline)).
		Msg("no encoder running, marked offline")
}

// reconcileActive handles a running encoder whose record is not live.
func (r *Reconciler) reconcileActive(ctx context.Context, id string, rep *Report) {
	if r.sup.IsStarting(id) || r.sup.IsStopping(id) {
		rep.Skipped++
		return
	}
	logger := r.logger.With().Str(xglog.FieldStreamID, id).Logger()

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	st, err := r.streams.FindByID(opCtx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load stream for running encoder")
		return
	}
	if st == nil {
		if err := r.sup.TerminateOrphan(opCtx, id); err != nil {
			logger.Warn().Err(err).Msg("failed to terminate orphaned encoder")
		}
		r.sup.Purge(id)
		rep.Orphans = append(rep.Orphans, id)
		metrics.RecordReconcileCorrection("orphan_terminated")
		logger.Warn().Msg("encoder running for deleted stream, terminated")
		return
	}
	if st.Status == model.StatusLive {
		return
	}

	if err := r.streams.UpdateStatus(opCtx, id, model.StatusLive, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to force stream live")
		return
	}
	rep.ForcedLive = append(rep.ForcedLive, id)
	metrics.RecordReconcileCorrection("forced_live")
	logger.Info().
		Str(xglog.FieldOldState, string(st.Status)).
		Str(xglog.FieldNewState, string(model.StatusLive)).
		Msg("encoder running, forced live")
}
