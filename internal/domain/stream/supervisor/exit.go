// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
)

// diagTail is how many diagnostic lines feed classification and notifications.
const diagTail = 20

func (s *Supervisor) watch(h *handle) {
	defer close(h.finished)
	<-h.ready

	logger := xglog.WithStreamID("supervisor", h.streamID).With().
		Str(xglog.FieldSessionID, h.sessionID).
		Int(xglog.FieldPID, h.proc.PID()).
		Logger()

	var lastProgressLog time.Time
	for ev := range h.proc.Events() {
		switch ev.Kind {
		case ports.EventProgress:
			s.tracker.RecordProgress(h.streamID, h.sessionID, ev.PlaybackSeconds)
			now := s.clock.Now()
			if !lastProgressLog.IsZero() && now.Sub(lastProgressLog) < s.cfg.ProgressLogInterval {
				continue
			}
			lastProgressLog = now
			if !s.isDetached(h) {
				s.appendLog(h.streamID, "Progress: "+formatPosition(ev.PlaybackSeconds))
			}
		case ports.EventStderr:
			h.diag.Add(ev.Line)
			if isErrorLine(ev.Line) && !s.isDetached(h) {
				s.appendLog(h.streamID, ev.Line)
			}
		case ports.EventExit:
			s.handleExit(h, ev.Exit, logger)
		}
	}
}

func (s *Supervisor) isDetached(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.detached
}

func (s *Supervisor) handleExit(h *handle, status ports.ExitStatus, logger zerolog.Logger) {
	id := h.streamID
	session := s.tracker.EndSession(id, h.sessionID, s.clock.Now())
	metrics.ObserveSession(session)

	ctx, cancel := s.opContext()
	defer cancel()

	st, err := s.streams.FindByID(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load stream after encoder exit")
	}
	s.consumeMinutes(ctx, st, session, logger)

	s.mu.Lock()
	detached := h.detached || s.handles[id] != h
	if !detached {
		delete(s.handles, id)
		s.updateActiveGaugeLocked()
	}
	_, stopping := s.stopping[id]
	closed := s.closed
	terms := s.terms
	if !detached && session >= s.cfg.RetryResetAfter {
		delete(s.retries, id)
	}
	s.mu.Unlock()

	logger.Info().
		Str("status", status.String()).
		Dur("session", session).
		Bool("replaced", detached).
		Msg("encoder exited")

	if detached {
		return
	}
	if terms != nil {
		terms.CancelTermination(id)
	}
	if stopping || st == nil {
		return
	}
	if closed {
		s.shutdownExit(ctx, st, logger)
		return
	}
	if !st.HasRemainingTime() {
		s.finish(ctx, st, "remaining time exhausted", "exhausted", false, logger)
		return
	}
	if st.Status == model.StatusOffline {
		s.finish(ctx, st, "stopped", "external", false, logger)
		return
	}

	diag := h.diag.LastN(diagTail)
	class := Classify(status, diag)
	metrics.RecordExit(string(class))
	s.appendLog(id, fmt.Sprintf("Encoder exited with %s (%s)", status, class))

	switch class {
	case ExitFinished:
		s.finish(ctx, st, "completed", "completed", true, logger)
	case ExitStoppedExternally:
		s.finish(ctx, st, "stopped externally", "external", false, logger)
	case ExitCrash:
		s.retryOrFail(ctx, st, class, status, diag, s.cfg.CrashRuntimeCeiling, s.cfg.CrashBackoff, logger)
	case ExitTransient:
		s.retryOrFail(ctx, st, class, status, diag, s.cfg.TransientRuntimeCeiling, s.cfg.TransientBackoff, logger)
	default:
		s.fail(ctx, st, fmt.Errorf("encoder failed with %s", status), 0, diag, logger)
	}
}

// consumeMinutes charges the session against the remaining budget, rounded
// to the nearest minute, and updates st in place.
func (s *Supervisor) consumeMinutes(ctx context.Context, st *model.Stream, session time.Duration, logger zerolog.Logger) {
	if st == nil || st.RemainingMinutes == nil {
		return
	}
	used := int(math.Round(session.Minutes()))
	if used <= 0 {
		return
	}
	left := *st.RemainingMinutes - used
	if left < 0 {
		left = 0
	}
	if err := s.streams.UpdateFields(ctx, st.ID, model.Patch{RemainingMinutes: &left}); err != nil {
		logger.Warn().Err(err).Msg("failed to persist remaining minutes")
		return
	}
	st.RemainingMinutes = &left
	logger.Debug().Int(xglog.FieldRemainingMinutes, left).Int("used_minutes", used).Msg("remaining minutes updated")
}

func (s *Supervisor) retryOrFail(ctx context.Context, st *model.Stream, class ExitClass, status ports.ExitStatus, diag []string, ceiling, backoff time.Duration, logger zerolog.Logger) {
	info, _ := s.tracker.RuntimeInfo(st.ID)

	s.mu.Lock()
	attempts := s.retries[st.ID]
	s.mu.Unlock()

	if attempts >= s.cfg.MaxRetryAttempts {
		cause := fmt.Errorf("%w: %s after %d attempts", model.ErrMaxRetriesExceeded, status, attempts)
		s.fail(ctx, st, cause, attempts, diag, logger)
		return
	}
	if info.TotalRuntime >= ceiling {
		cause := fmt.Errorf("encoder %s with %s after %s of runtime", class, status, info.TotalRuntime.Round(time.Second))
		s.fail(ctx, st, cause, attempts, diag, logger)
		return
	}
	s.scheduleRestart(st.ID, class, backoff, logger)
}

// scheduleRestart takes the starting guard and re-enters the start sequence
// after backoff. Stop and shutdown cancel the wait.
func (s *Supervisor) scheduleRestart(id string, class ExitClass, backoff time.Duration, logger zerolog.Logger) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, busy := s.starting[id]; busy {
		s.mu.Unlock()
		return
	}
	s.starting[id] = struct{}{}
	s.retries[id]++
	attempt := s.retries[id]
	cancel := make(chan struct{})
	s.restarts[id] = cancel
	s.mu.Unlock()

	metrics.RecordRestart(string(class))
	s.appendLog(id, fmt.Sprintf("Restarting in %s (attempt %d/%d)", backoff, attempt, s.cfg.MaxRetryAttempts))
	logger.Warn().
		Str(xglog.FieldExitClass, string(class)).
		Int(xglog.FieldAttempt, attempt).
		Dur("backoff", backoff).
		Msg("scheduling encoder restart")

	if !s.workers.Go(func() { s.restartAfter(id, attempt, backoff, cancel, logger) }) {
		s.endRestart(id, cancel)
	}
}

func (s *Supervisor) restartAfter(id string, attempt int, backoff time.Duration, cancel chan struct{}, logger zerolog.Logger) {
	defer s.endRestart(id, cancel)

	fire := make(chan struct{})
	timer := s.clock.AfterFunc(backoff, func() { close(fire) })
	select {
	case <-fire:
	case <-cancel:
		timer.Stop()
		return
	case <-s.closing:
		timer.Stop()
		return
	}

	s.mu.Lock()
	current := s.restarts[id] == cancel
	if current {
		delete(s.restarts, id)
	}
	s.mu.Unlock()
	if !current {
		return
	}

	ctx, done := s.opContext()
	defer done()
	_, err := s.startSequence(ctx, id, triggerRestart)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrStopping), errors.Is(err, ErrClosed), errors.Is(err, model.ErrNoRemainingTime):
		return
	}

	st, ferr := s.streams.FindByID(ctx, id)
	if ferr != nil || st == nil {
		logger.Error().Err(err).Msg("restart failed and stream could not be loaded")
		return
	}
	s.fail(ctx, st, err, attempt, nil, logger)
}

func (s *Supervisor) endRestart(id string, cancel chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restarts[id] == cancel {
		delete(s.restarts, id)
	}
	delete(s.starting, id)
}

// finish records a regular end of the stream: offline, history, NotifyStop.
func (s *Supervisor) finish(ctx context.Context, st *model.Stream, reason, trigger string, resetTracker bool, logger zerolog.Logger) {
	info, _ := s.tracker.RuntimeInfo(st.ID)

	s.mu.Lock()
	delete(s.retries, st.ID)
	s.mu.Unlock()
	if resetTracker {
		s.tracker.Reset(st.ID)
	}

	wasLive := st.Status == model.StatusLive
	if err := s.streams.UpdateStatus(ctx, st.ID, model.StatusOffline, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark stream offline")
	}
	now := s.clock.Now()
	if err := s.streams.UpdateStopTime(ctx, st.ID, now); err != nil {
		logger.Warn().Err(err).Msg("failed to record stop time")
	}
	st.StopTime = model.TimePtr(now)
	if wasLive {
		s.recordHistory(ctx, st, logger)
	}

	metrics.RecordStop(trigger)
	s.appendLog(st.ID, "Stream ended: "+reason)
	logger.Info().Str("reason", reason).Int("runtime_minutes", info.TotalMinutes()).Msg("stream ended")
	s.notifyStop(ctx, st, info.TotalMinutes(), reason)
}

// fail records a terminal failure: status error, history, NotifyError.
// The operator log is kept for diagnosis.
func (s *Supervisor) fail(ctx context.Context, st *model.Stream, cause error, attempt int, diag []string, logger zerolog.Logger) {
	s.mu.Lock()
	s.lastErr[st.ID] = cause.Error()
	delete(s.retries, st.ID)
	s.mu.Unlock()

	wasLive := st.Status == model.StatusLive
	if err := s.streams.UpdateStatus(ctx, st.ID, model.StatusError, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark stream as errored")
	}
	now := s.clock.Now()
	if err := s.streams.UpdateStopTime(ctx, st.ID, now); err != nil {
		logger.Warn().Err(err).Msg("failed to record stop time")
	}
	st.StopTime = model.TimePtr(now)
	if wasLive {
		s.recordHistory(ctx, st, logger)
	}

	metrics.RecordStop("error")
	s.appendLog(st.ID, "Stream failed: "+cause.Error())
	logger.Error().Err(cause).Int(xglog.FieldAttempt, attempt).Msg("stream failed")
	s.notifyError(ctx, st, cause, attempt, diag)
}

// shutdownExit persists the end of a session interrupted by daemon shutdown.
// No notification is sent; the resume point stays in memory only.
func (s *Supervisor) shutdownExit(ctx context.Context, st *model.Stream, logger zerolog.Logger) {
	if err := s.streams.UpdateStatus(ctx, st.ID, model.StatusOffline, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark stream offline on shutdown")
	}
	now := s.clock.Now()
	if err := s.streams.UpdateStopTime(ctx, st.ID, now); err != nil {
		logger.Warn().Err(err).Msg("failed to record stop time")
	}
	if st.Status == model.StatusLive {
		st.StopTime = model.TimePtr(now)
		s.recordHistory(ctx, st, logger)
	}
	metrics.RecordStop("shutdown")
}
