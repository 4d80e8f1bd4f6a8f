// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists streams, videos and session history.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// Store is the full persistence surface: the core ports plus the
// administrative writes the daemon and API use.
type Store interface {
	ports.StreamRepository
	ports.VideoRepository
	ports.HistoryRecorder

	PutStream(ctx context.Context, s *model.Stream) error
	DeleteStream(ctx context.Context, id string) error
	PutVideo(ctx context.Context, v *model.Video) error
	ListHistory(ctx context.Context, streamID string) ([]model.HistoryEntry, error)
	Close() error
}

// Open creates a Store for the configured backend.
func Open(backend, path string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

func copyStream(s *model.Stream) *model.Stream {
	if s == nil {
		return nil
	}
	c := *s
	c.ScheduleTime = copyTime(s.ScheduleTime)
	c.RemainingMinutes = copyInt(s.RemainingMinutes)
	c.RequestedMinutes = copyInt(s.RequestedMinutes)
	c.StatusUpdatedAt = copyTime(s.StatusUpdatedAt)
	c.StartTime = copyTime(s.StartTime)
	c.StopTime = copyTime(s.StopTime)
	c.ExpectedStopTime = copyTime(s.ExpectedStopTime)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
