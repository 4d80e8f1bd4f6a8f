// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
)

// Purge drops the in-memory state of a stream that is persisted live but
// has no running encoder. A handle that is unexpectedly present is killed.
func (s *Supervisor) Purge(id string) {
	s.mu.Lock()
	h := s.handles[id]
	if h != nil {
		h.detached = true
		delete(s.handles, id)
		s.updateActiveGaugeLocked()
	}
	if cancel, ok := s.restarts[id]; ok {
		close(cancel)
		delete(s.restarts, id)
	}
	delete(s.retries, id)
	s.mu.Unlock()

	if h != nil {
		_ = h.proc.Kill()
	}
}

// TerminateOrphan stops an encoder whose stream record is gone or no longer
// live, and forgets everything about the stream. Nothing is persisted.
func (s *Supervisor) TerminateOrphan(ctx context.Context, id string) error {
	s.mu.Lock()
	h := s.handles[id]
	if h == nil {
		s.mu.Unlock()
		return nil
	}
	h.detached = true
	delete(s.handles, id)
	s.updateActiveGaugeLocked()
	if cancel, ok := s.restarts[id]; ok {
		close(cancel)
		delete(s.restarts, id)
	}
	delete(s.retries, id)
	delete(s.lastErr, id)
	delete(s.logs, id)
	terms := s.terms
	s.mu.Unlock()

	if terms != nil {
		terms.CancelTermination(id)
	}

	logger := xglog.WithStreamID("supervisor", id)
	logger.Warn().
		Int(xglog.FieldPID, h.proc.PID()).
		Msg("terminating orphaned encoder")

	err := h.proc.Terminate(s.cfg.StopTimeout, s.cfg.KillTimeout)
	select {
	case <-h.finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.tracker.Reset(id)
	return err
}

// SweepZombies removes handles whose process has exited without its exit
// being handled. A handle must look dead on two consecutive sweeps before it
// is reaped, so exits that are being processed right now are left alone.
// It returns the reaped stream ids, sorted.
func (s *Supervisor) SweepZombies() []string {
	s.mu.Lock()
	candidates := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		candidates = append(candidates, h)
	}
	s.mu.Unlock()

	dead := make(map[*handle]bool, len(candidates))
	for _, h := range candidates {
		dead[h] = h.proc.Exited()
	}

	var reaped []*handle
	s.mu.Lock()
	for _, h := range candidates {
		if s.handles[h.streamID] != h {
			continue
		}
		if !dead[h] {
			h.zombieSeen = false
			continue
		}
		if !h.zombieSeen {
			h.zombieSeen = true
			continue
		}
		h.detached = true
		delete(s.handles, h.streamID)
		reaped = append(reaped, h)
	}
	s.updateActiveGaugeLocked()
	s.mu.Unlock()

	ids := make([]string, 0, len(reaped))
	for _, h := range reaped {
		ids = append(ids, h.streamID)
		s.reapZombie(h)
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) reapZombie(h *handle) {
	logger := xglog.WithStreamID("supervisor", h.streamID)
	metrics.ZombiesReapedTotal.Inc()
	s.tracker.EndSession(h.streamID, h.sessionID, s.clock.Now())
	s.appendLog(h.streamID, "Encoder vanished without exit status")
	logger.Warn().Int(xglog.FieldPID, h.proc.PID()).Msg("reaped zombie encoder handle")

	ctx, cancel := s.opContext()
	defer cancel()
	st, err := s.streams.FindByID(ctx, h.streamID)
	if err != nil || st == nil || st.Status != model.StatusLive {
		return
	}
	if err := s.streams.UpdateStatus(ctx, st.ID, model.StatusOffline, st.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark zombie stream offline")
	}
}

// Close terminates every encoder, cancels pending restarts and waits for all
// supervisor goroutines, bounded by ctx. Start fails with ErrClosed afterwards.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.logger.Info().Int("active", len(handles)).Msg("stopping all encoders")

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			if err := h.proc.Terminate(s.cfg.StopTimeout, s.cfg.KillTimeout); err != nil {
				s.logger.Error().Err(err).Str(xglog.FieldStreamID, h.streamID).Msg("encoder did not terminate on shutdown")
			}
		}(h)
	}
	wg.Wait()

	return s.workers.CloseAndWait(ctx)
}
