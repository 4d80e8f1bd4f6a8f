// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns the encoder child processes of all relay streams.
//
// One Supervisor serializes work per stream with two guard sets (starting
// and stopping) and keeps one handle per running process. A single mutex
// protects all in-memory maps; it is never held across repository calls,
// process signalling or notifications.
//
// Every handle has one watcher goroutine that drains the process event
// channel in order. The watcher waits until Start has persisted the live
// state before it looks at any event, so an early exit is always observed
// after the stream was recorded as live.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/domain/stream/tracker"
	"github.com/ManuGH/streamrelay/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
	"github.com/ManuGH/streamrelay/internal/telemetry"
)

var (
	// ErrClosed is returned by Start once shutdown has begun.
	ErrClosed = errors.New("supervisor is shutting down")
	// ErrStreamActive rejects operations that need an idle stream.
	ErrStreamActive = errors.New("stream is active")
	// ErrStopping aborts a start that raced with Stop.
	ErrStopping = errors.New("stream is stopping")
)

const (
	msgStarted         = "stream started"
	msgStartInProgress = "start already in progress"
	msgStopInProgress  = "stop in progress"
	msgStopped         = "stream stopped"
	msgAlreadyStopped  = "stream already stopped"
)

const (
	triggerExternal = "external"
	triggerRestart  = "restart"
)

// Terminations is the duration-limit hook the scheduler attaches.
type Terminations interface {
	ScheduleTermination(id string, after time.Duration)
	CancelTermination(id string) bool
}

// Deps are the collaborators of a Supervisor. Prober is optional.
type Deps struct {
	Streams  ports.StreamRepository
	Videos   ports.VideoRepository
	History  ports.HistoryRecorder
	Notifier ports.Notifier
	Spawner  ports.Spawner
	Prober   ports.DurationProber
	Clock    ports.Clock
	Tracker  *tracker.Tracker
}

// Result is the outcome of Start and Stop.
type Result struct {
	Message          string  `json:"message"`
	RemainingMinutes *int    `json:"remaining_minutes,omitempty"`
	ResumeOffset     float64 `json:"resume_offset_s,omitempty"`
}

// Started reports whether the call launched a new encoder.
func (r Result) Started() bool { return r.Message == msgStarted }

// RuntimeInfo is the operator view of a stream's runtime accounting.
type RuntimeInfo struct {
	Active         bool          `json:"active"`
	SessionMinutes int           `json:"session_runtime_minutes"`
	TotalMinutes   int           `json:"total_runtime_minutes"`
	ResumeOffset   float64       `json:"resume_offset_s"`
	SessionRuntime time.Duration `json:"-"`
}

type handle struct {
	streamID  string
	ownerID   string
	sessionID string
	proc      ports.Process
	diag      *LineRing
	startedAt time.Time

	// ready is closed once Start has finished persisting (or given up).
	ready chan struct{}
	// finished is closed when the watcher returns.
	finished chan struct{}

	// Guarded by Supervisor.mu. A detached handle is no longer the current
	// process of its stream; its exit only does bookkeeping.
	detached   bool
	zombieSeen bool
}

// Supervisor starts, stops and restarts encoder processes.
type Supervisor struct {
	cfg      Config
	streams  ports.StreamRepository
	videos   ports.VideoRepository
	history  ports.HistoryRecorder
	notifier ports.Notifier
	spawner  ports.Spawner
	prober   ports.DurationProber
	clock    ports.Clock
	tracker  *tracker.Tracker
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	handles  map[string]*handle
	starting map[string]struct{}
	stopping map[string]struct{}
	restarts map[string]chan struct{}
	retries  map[string]int
	lastErr  map[string]string
	logs     map[string]*LogRing
	terms    Terminations
	closed   bool
	closing  chan struct{}

	workers workerRegistry
}

// New returns a Supervisor. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Supervisor {
	cfg = cfg.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = ports.RealClock{}
	}
	tr := deps.Tracker
	if tr == nil {
		tr = tracker.New(clock, 0)
	}
	return &Supervisor{
		cfg:      cfg,
		streams:  deps.Streams,
		videos:   deps.Videos,
		history:  deps.History,
		notifier: deps.Notifier,
		spawner:  deps.Spawner,
		prober:   deps.Prober,
		clock:    clock,
		tracker:  tr,
		logger:   xglog.WithComponent("supervisor"),
		tracer:   telemetry.Tracer("streamrelay.supervisor"),
		handles:  make(map[string]*handle),
		starting: make(map[string]struct{}),
		stopping: make(map[string]struct{}),
		restarts: make(map[string]chan struct{}),
		retries:  make(map[string]int),
		lastErr:  make(map[string]string),
		logs:     make(map[string]*LogRing),
		closing:  make(chan struct{}),
	}
}

// SetTerminations attaches the scheduler. It is called once during wiring.
func (s *Supervisor) SetTerminations(t Terminations) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms = t
}

// Tracker exposes the runtime tracker shared with the scheduler.
func (s *Supervisor) Tracker() *tracker.Tracker { return s.tracker }

// Start launches the encoder for id. A start that is already running for
// the same id is a soft no-op.
func (s *Supervisor) Start(ctx context.Context, id string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "supervisor.start", trace.WithAttributes(telemetry.StreamAttributes(id, "", "")...))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}
	if _, busy := s.starting[id]; busy {
		s.mu.Unlock()
		metrics.RecordStart("noop", "start_in_progress", triggerExternal)
		return Result{Message: msgStartInProgress}, nil
	}
	if _, busy := s.stopping[id]; busy {
		s.mu.Unlock()
		metrics.RecordStart("noop", "stop_in_progress", triggerExternal)
		return Result{Message: msgStopInProgress}, nil
	}
	s.starting[id] = struct{}{}
	delete(s.retries, id)
	s.mu.Unlock()
	defer s.release(s.starting, id)

	res, err := s.startSequence(ctx, id, triggerExternal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.Code(err))
	}
	return res, err
}

func (s *Supervisor) release(set map[string]struct{}, id string) {
	s.mu.Lock()
	delete(set, id)
	s.mu.Unlock()
}

// startSequence runs with the starting guard held for id.
func (s *Supervisor) startSequence(ctx context.Context, id, trigger string) (Result, error) {
	began := s.clock.Now()
	logger := xglog.WithStreamID("supervisor", id)

	res, err := s.launch(ctx, id, trigger, logger)
	metrics.ObserveStartLatency(s.clock.Now().Sub(began))
	if err != nil {
		metrics.RecordStart("error", model.Code(err), trigger)
		s.setLastError(id, err)
		logger.Warn().Err(err).Str("trigger", trigger).Msg("stream start failed")
		return Result{}, err
	}
	metrics.RecordStart("ok", "ok", trigger)
	return res, nil
}

func (s *Supervisor) launch(ctx context.Context, id, trigger string, logger zerolog.Logger) (Result, error) {
	if err := s.teardownStale(id, logger); err != nil {
		return Result{}, err
	}

	st, err := s.streams.FindByID(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrRepositoryUnavailable, err)
	}
	if st == nil {
		return Result{}, model.ErrStreamNotFound
	}

	if !st.HasRemainingTime() {
		if err := s.streams.UpdateStatus(ctx, id, model.StatusOffline, st.OwnerID); err != nil {
			logger.Warn().Err(err).Msg("failed to mark exhausted stream offline")
		}
		return Result{}, model.ErrNoRemainingTime
	}

	if trigger == triggerExternal && s.tracker.IsStale(id, s.clock.Now()) {
		logger.Info().Msg("runtime state is stale, starting from the beginning")
		s.tracker.Reset(id)
	}

	video, path, err := s.resolveVideo(ctx, st)
	if err != nil {
		return Result{}, err
	}

	base, seek := s.resumePoint(ctx, id, st, video, path, logger)

	args, err := ffmpeg.BuildArgs(st, ffmpeg.InputSpec{Path: path, Offset: seek, Loop: st.Loop})
	if err != nil {
		return Result{}, err
	}

	sessionID := uuid.NewString()
	proc, err := s.spawner.Spawn(ctx, ports.ProcessSpec{
		StreamID:  id,
		SessionID: sessionID,
		Bin:       s.cfg.FFmpegBin,
		Args:      args,
	})
	if err != nil {
		if errors.Is(err, model.ErrProcessSpawnFailed) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", model.ErrProcessSpawnFailed, err)
	}

	now := s.clock.Now()
	h := &handle{
		streamID:  id,
		ownerID:   st.OwnerID,
		sessionID: sessionID,
		proc:      proc,
		diag:      NewLineRing(s.cfg.DiagnosticLines),
		startedAt: now,
		ready:     make(chan struct{}),
		finished:  make(chan struct{}),
	}
	if err := s.register(h); err != nil {
		_ = proc.Kill()
		return Result{}, err
	}
	s.tracker.BeginSession(id, sessionID, now, base)
	if !s.workers.Go(func() { s.watch(h) }) {
		s.detach(h)
		close(h.ready)
		_ = proc.Kill()
		return Result{}, ErrClosed
	}

	// The child is running; finish bookkeeping even if the caller gives up.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OpTimeout)
	defer cancel()
	if err := s.streams.UpdateStatus(pctx, id, model.StatusLive, st.OwnerID); err != nil {
		s.detach(h)
		close(h.ready)
		_ = proc.Terminate(s.cfg.StopTimeout, s.cfg.KillTimeout)
		return Result{}, fmt.Errorf("%w: %v", model.ErrRepositoryUnavailable, err)
	}

	patch := model.Patch{ClearScheduleTime: true, StartTime: model.TimePtr(now)}
	if st.RemainingMinutes != nil {
		patch.ExpectedStopTime = model.TimePtr(now.Add(time.Duration(*st.RemainingMinutes) * time.Minute))
	}
	if err := s.streams.UpdateFields(pctx, id, patch); err != nil {
		logger.Warn().Err(err).Msg("failed to stamp session start")
	}
	close(h.ready)

	s.mu.Lock()
	delete(s.lastErr, id)
	terms := s.terms
	current := s.handles[id] == h
	s.mu.Unlock()
	if terms != nil && current && st.RemainingMinutes != nil {
		terms.ScheduleTermination(id, time.Duration(*st.RemainingMinutes)*time.Minute)
	}

	s.appendLog(id, fmt.Sprintf("Stream started (resume at %s)", formatPosition(seek)))
	logger.Info().
		Str(xglog.FieldSessionID, sessionID).
		Int(xglog.FieldPID, proc.PID()).
		Float64(xglog.FieldResumeOffset, seek).
		Str("trigger", trigger).
		Msg("stream started")
	trace.SpanFromContext(ctx).SetAttributes(telemetry.ProcessAttributes(proc.PID(), sessionID, seek)...)

	s.notifyStart(pctx, st, seek, now)

	return Result{Message: msgStarted, RemainingMinutes: st.RemainingMinutes, ResumeOffset: seek}, nil
}

// teardownStale kills a handle left over from an earlier session of id and
// waits for its watcher to finish its bookkeeping. An encoder that outlives
// the wait stays registered and the start is refused, so two encoders never
// push to the same ingest.
func (s *Supervisor) teardownStale(id string, logger zerolog.Logger) error {
	s.mu.Lock()
	h := s.handles[id]
	if h != nil {
		h.detached = true
		delete(s.handles, id)
		s.updateActiveGaugeLocked()
	}
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	logger.Info().Int(xglog.FieldPID, h.proc.PID()).Msg("replacing running encoder")
	if err := h.proc.Terminate(s.cfg.StopTimeout, s.cfg.KillTimeout); err != nil {
		logger.Error().Err(err).Msg("failed to terminate replaced encoder")
	}
	if s.waitFinished(h) {
		return nil
	}

	s.mu.Lock()
	if _, taken := s.handles[id]; !taken && !h.proc.Exited() {
		h.detached = false
		s.handles[id] = h
		s.updateActiveGaugeLocked()
	}
	s.mu.Unlock()
	return fmt.Errorf("%w: previous encoder (pid %d) is still running", model.ErrProcessSpawnFailed, h.proc.PID())
}

func (s *Supervisor) resolveVideo(ctx context.Context, st *model.Stream) (*model.Video, string, error) {
	video, err := s.videos.FindVideoByID(ctx, st.VideoID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", model.ErrRepositoryUnavailable, err)
	}
	if video == nil || video.FilePath == "" {
		return nil, "", fmt.Errorf("%w: video %q", model.ErrMediaNotFound, st.VideoID)
	}
	path := video.FilePath
	if !filepath.IsAbs(path) && s.cfg.MediaRoot != "" {
		path = filepath.Join(s.cfg.MediaRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("%w: %s", model.ErrMediaNotFound, path)
	}
	return video, path, nil
}

// resumePoint returns the unlooped base offset for the tracker and the seek
// position for the command line.
func (s *Supervisor) resumePoint(ctx context.Context, id string, st *model.Stream, video *model.Video, path string, logger zerolog.Logger) (base, seek float64) {
	offset, ok := s.tracker.ComputeResumeOffset(id)
	if !ok || offset <= 0 {
		return 0, 0
	}

	duration := video.DurationSeconds
	if duration <= 0 && s.prober != nil {
		d, err := s.prober.ProbeDuration(ctx, path)
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("duration probe failed")
		} else {
			duration = d
		}
	}

	if st.Loop {
		if duration <= 0 {
			// Seeking past the end of a looped input is undefined; restart
			// the iteration but keep the accumulated position.
			return offset, 0
		}
		return offset, tracker.LoopOffset(offset, duration)
	}
	if duration > 0 && offset >= duration {
		logger.Info().Float64(xglog.FieldResumeOffset, offset).Msg("resume point is past the end, starting over")
		s.tracker.Reset(id)
		return 0, 0
	}
	return offset, offset
}

func (s *Supervisor) register(h *handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, stopping := s.stopping[h.streamID]; stopping {
		return ErrStopping
	}
	s.handles[h.streamID] = h
	s.updateActiveGaugeLocked()
	return nil
}

// detach marks h as no longer current and removes it if it is still registered.
func (s *Supervisor) detach(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.detached = true
	if s.handles[h.streamID] == h {
		delete(s.handles, h.streamID)
		s.updateActiveGaugeLocked()
	}
}

func (s *Supervisor) updateActiveGaugeLocked() {
	metrics.ActiveStreams.Set(float64(len(s.handles)))
}

// waitFinished bounds the wait for a watcher after its process was signalled.
func (s *Supervisor) waitFinished(h *handle) bool {
	timer := time.NewTimer(s.cfg.StopTimeout + s.cfg.KillTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-h.finished:
		return true
	case <-timer.C:
		s.logger.Error().
			Str(xglog.FieldStreamID, h.streamID).
			Int(xglog.FieldPID, h.proc.PID()).
			Msg("encoder watcher did not finish in time")
		return false
	}
}

// Stop terminates the encoder of id and records the stream offline.
// Stopping an already stopped stream is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "supervisor.stop", trace.WithAttributes(telemetry.StreamAttributes(id, "", "")...))
	defer span.End()
	logger := xglog.WithStreamID("supervisor", id)

	s.mu.Lock()
	if _, busy := s.stopping[id]; busy {
		s.mu.Unlock()
		return Result{Message: msgStopInProgress}, nil
	}
	s.stopping[id] = struct{}{}
	if cancel, ok := s.restarts[id]; ok {
		close(cancel)
		delete(s.restarts, id)
	}
	h := s.handles[id]
	terms := s.terms
	s.mu.Unlock()
	defer s.release(s.stopping, id)

	if terms != nil {
		terms.CancelTermination(id)
	}

	if h != nil {
		if err := h.proc.Terminate(s.cfg.StopTimeout, s.cfg.KillTimeout); err != nil {
			logger.Error().Err(err).Int(xglog.FieldPID, h.proc.PID()).Msg("encoder did not terminate")
		}
		s.waitFinished(h)
	}

	info, _ := s.tracker.RuntimeInfo(id)

	s.mu.Lock()
	if h != nil {
		h.detached = true
		if s.handles[id] == h {
			delete(s.handles, id)
			s.updateActiveGaugeLocked()
		}
	}
	delete(s.retries, id)
	delete(s.lastErr, id)
	delete(s.logs, id)
	s.mu.Unlock()
	s.tracker.Reset(id)

	st, err := s.streams.FindByID(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrRepositoryUnavailable, err)
	}
	if st == nil {
		if h != nil {
			return Result{Message: msgStopped}, nil
		}
		return Result{Message: msgAlreadyStopped}, nil
	}
	wasLive := st.Status == model.StatusLive
	if h == nil && !wasLive {
		return Result{Message: msgAlreadyStopped}, nil
	}

	if err := s.streams.UpdateStatus(ctx, id, model.StatusOffline, st.OwnerID); err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrRepositoryUnavailable, err)
	}
	now := s.clock.Now()
	if err := s.streams.UpdateStopTime(ctx, id, now); err != nil {
		logger.Warn().Err(err).Msg("failed to record stop time")
	}
	st.StopTime = model.TimePtr(now)
	if wasLive {
		s.recordHistory(ctx, st, logger)
	}

	metrics.RecordStop("manual")
	logger.Info().Int("runtime_minutes", info.TotalMinutes()).Msg("stream stopped")
	s.notifyStop(ctx, st, info.TotalMinutes(), "manual stop")

	return Result{Message: msgStopped, RemainingMinutes: st.RemainingMinutes}, nil
}

// IsActive reports whether id has a running encoder.
func (s *Supervisor) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok
}

// IsStarting reports whether a start, or a restart backoff, is in progress for id.
func (s *Supervisor) IsStarting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.starting[id]
	return ok
}

// IsStopping reports whether a stop is in progress for id.
func (s *Supervisor) IsStopping(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stopping[id]
	return ok
}

// ListActive returns the ids with a running encoder, sorted.
func (s *Supervisor) ListActive() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// GetRuntimeInfo reports runtime accounting for id. ok is false when
// nothing is known about the stream.
func (s *Supervisor) GetRuntimeInfo(id string) (RuntimeInfo, bool) {
	info, ok := s.tracker.RuntimeInfo(id)
	active := s.IsActive(id)
	if !ok && !active {
		return RuntimeInfo{}, false
	}
	offset, _ := s.tracker.ComputeResumeOffset(id)
	return RuntimeInfo{
		Active:         active,
		SessionMinutes: info.SessionMinutes(),
		TotalMinutes:   info.TotalMinutes(),
		ResumeOffset:   offset,
		SessionRuntime: info.SessionRuntime,
	}, true
}

// GetLogs returns the operator log of id, oldest first.
func (s *Supervisor) GetLogs(id string) []LogEntry {
	s.mu.Lock()
	ring := s.logs[id]
	s.mu.Unlock()
	if ring == nil {
		return []LogEntry{}
	}
	return ring.Entries()
}

// LastError returns the most recent failure reason of id, if any.
func (s *Supervisor) LastError(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[id]
}

// ResetRuntime forgets the runtime and resume position of an idle stream.
func (s *Supervisor) ResetRuntime(id string) error {
	if s.IsActive(id) || s.IsStarting(id) {
		return ErrStreamActive
	}
	s.tracker.Reset(id)
	return nil
}

func (s *Supervisor) setLastError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr[id] = err.Error()
}

func (s *Supervisor) appendLog(id, msg string) {
	s.mu.Lock()
	ring := s.logs[id]
	if ring == nil {
		ring = NewLogRing(s.cfg.LogLines)
		s.logs[id] = ring
	}
	s.mu.Unlock()
	ring.Append(s.clock.Now(), msg)
}

func (s *Supervisor) recordHistory(ctx context.Context, st *model.Stream, logger zerolog.Logger) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordSessionHistory(ctx, *st); err != nil {
		logger.Warn().Err(err).Msg("failed to record session history")
	}
}

func (s *Supervisor) notifyStart(ctx context.Context, st *model.Stream, seek float64, at time.Time) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyStart(ctx, st.OwnerID, ports.StreamSummary{
		StreamID:         st.ID,
		Title:            st.Title,
		Platform:         st.Platform,
		RemainingMinutes: st.RemainingMinutes,
		ResumeOffset:     seek,
		StartedAt:        at,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldStreamID, st.ID).Msg("start notification failed")
	}
}

func (s *Supervisor) notifyStop(ctx context.Context, st *model.Stream, minutes int, reason string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyStop(ctx, st.OwnerID, st.ID, ports.RuntimeSummary{RuntimeMinutes: minutes, Reason: reason})
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldStreamID, st.ID).Msg("stop notification failed")
	}
}

func (s *Supervisor) notifyError(ctx context.Context, st *model.Stream, cause error, attempt int, diag []string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyError(ctx, st.OwnerID, st.ID, ports.ErrorInfo{
		Code:    model.Code(cause),
		Message: cause.Error(),
		Attempt: attempt,
		Stderr:  diag,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldStreamID, st.ID).Msg("error notification failed")
	}
}

func (s *Supervisor) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.OpTimeout)
}

// formatPosition renders seconds as HH:MM:SS.
func formatPosition(seconds float64) string {
	total := int(math.Max(seconds, 0))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
