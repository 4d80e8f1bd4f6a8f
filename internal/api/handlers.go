// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamrelay/internal/api/middleware"
	"github.com/ManuGH/streamrelay/internal/auth"
	"github.com/ManuGH/streamrelay/internal/domain/stream/scheduler"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
	"github.com/ManuGH/streamrelay/internal/log"
)

// RuntimeResponse is the body of GET /api/streams/{id}/runtime.
type RuntimeResponse struct {
	StreamID string `json:"stream_id"`
	supervisor.RuntimeInfo
	LastError   string                     `json:"last_error,omitempty"`
	Termination *scheduler.TerminationInfo `json:"termination,omitempty"`
}

// ActiveResponse is the body of GET /api/streams/active.
type ActiveResponse struct {
	Streams []string `json:"streams"`
}

// LogsResponse is the body of GET /api/streams/{id}/logs.
type LogsResponse struct {
	StreamID string                `json:"stream_id"`
	Entries  []supervisor.LogEntry `json:"entries"`
}

func (s *Server) streamID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	middleware.AnnotateStream(r, id)
	return id
}

func (s *Server) auditLog(r *http.Request, action, id string) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	ev := logger.Info().
		Str(log.FieldEvent, "api."+action).
		Str(log.FieldStreamID, id)
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		ev = ev.Str("principal", p.ID)
	}
	ev.Msg("operator action")
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := s.streamID(r)
	s.auditLog(r, "start", id)
	res, err := s.deps.Supervisor.Start(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Started() {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := s.streamID(r)
	s.auditLog(r, "stop", id)
	res, err := s.deps.Supervisor.Stop(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetRuntime(w http.ResponseWriter, r *http.Request) {
	id := s.streamID(r)
	s.auditLog(r, "reset_runtime", id)
	if err := s.deps.Supervisor.ResetRuntime(id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListActive(w http.ResponseWriter, _ *http.Request) {
	ids := s.deps.Supervisor.ListActive()
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, ActiveResponse{Streams: ids})
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	id := s.streamID(r)
	info, ok := s.deps.Supervisor.GetRuntimeInfo(id)
	if !ok {
		writeNotFound(w, r, "no runtime information for stream")
		return
	}
	resp := RuntimeResponse{
		StreamID:    id,
		RuntimeInfo: info,
		LastError:   s.deps.Supervisor.LastError(id),
	}
	if s.deps.Terminations != nil {
		if term, ok := s.deps.Terminations.GetScheduledTerminations()[id]; ok {
			resp.Termination = &term
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := s.streamID(r)
	entries := s.deps.Supervisor.GetLogs(id)
	if entries == nil {
		entries = []supervisor.LogEntry{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{StreamID: id, Entries: entries})
}

func (s *Server) handleTerminations(w http.ResponseWriter, _ *http.Request) {
	terms := map[string]scheduler.TerminationInfo{}
	if s.deps.Terminations != nil {
		terms = s.deps.Terminations.GetScheduledTerminations()
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.auditLog(r, "sync", "")
	rep := s.deps.Syncer.SyncStatuses(r.Context())
	status := http.StatusOK
	if rep.QueryFailed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}
