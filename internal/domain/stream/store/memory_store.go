// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and the "memory" backend.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*model.Stream
	videos  map[string]*model.Video
	history []model.HistoryEntry

	// Now stamps status_updated_at; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*model.Stream),
		videos:  make(map[string]*model.Video),
		Now:     time.Now,
	}
}

func (m *MemoryStore) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) PutStream(_ context.Context, s *model.Stream) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("put stream: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := copyStream(s)
	if c.Status == "" {
		c.Status = model.StatusOffline
	}
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.streams[s.ID] = c
	return nil
}

func (m *MemoryStore) DeleteStream(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
	return nil
}

func (m *MemoryStore) PutVideo(_ context.Context, v *model.Video) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("put video: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *v
	m.videos[v.ID] = &c
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStream(m.streams[id]), nil
}

func (m *MemoryStore) FindVideoByID(_ context.Context, id string) (*model.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status model.Status, ownerID string) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok || (ownerID != "" && s.OwnerID != ownerID) {
		return model.ErrStreamNotFound
	}
	now := m.now()
	s.Status = status
	s.StatusUpdatedAt = &now
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) UpdateFields(_ context.Context, id string, patch model.Patch) error {
	if patch.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return model.ErrStreamNotFound
	}
	applyPatch(s, patch)
	s.UpdatedAt = m.now()
	return nil
}

func applyPatch(s *model.Stream, p model.Patch) {
	if p.RemainingMinutes != nil {
		s.RemainingMinutes = copyInt(p.RemainingMinutes)
	}
	if p.ClearScheduleTime {
		s.ScheduleTime = nil
	} else if p.ScheduleTime != nil {
		s.ScheduleTime = copyTime(p.ScheduleTime)
	}
	if p.StartTime != nil {
		s.StartTime = copyTime(p.StartTime)
	}
	if p.StopTime != nil {
		s.StopTime = copyTime(p.StopTime)
	}
	if p.ExpectedStopTime != nil {
		s.ExpectedStopTime = copyTime(p.ExpectedStopTime)
	}
}

func (m *MemoryStore) FindScheduledInRange(_ context.Context, from, to time.Time) ([]*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Stream
	for _, s := range m.streams {
		if s.Status != model.StatusScheduled || s.ScheduleTime == nil {
			continue
		}
		if s.ScheduleTime.Before(from) || s.ScheduleTime.After(to) {
			continue
		}
		out = append(out, copyStream(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleTime.Before(*out[j].ScheduleTime) })
	return out, nil
}

func (m *MemoryStore) FindAllByStatus(_ context.Context, status model.Status) ([]*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Stream
	for _, s := range m.streams {
		if s.Status == status {
			out = append(out, copyStream(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateStopTime(ctx context.Context, id string, at time.Time) error {
	return m.UpdateFields(ctx, id, model.Patch{StopTime: &at})
}

func (m *MemoryStore) UpdateExpectedStopTime(ctx context.Context, id string, at time.Time) error {
	return m.UpdateFields(ctx, id, model.Patch{ExpectedStopTime: &at})
}

func (m *MemoryStore) RecordSessionHistory(_ context.Context, snapshot model.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var videoTitle string
	if v, ok := m.videos[snapshot.VideoID]; ok {
		videoTitle = v.Title
	}
	m.history = append(m.history, newHistoryEntry(uuid.NewString(), snapshot, videoTitle, m.now()))
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, streamID string) ([]model.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.HistoryEntry
	for _, h := range m.history {
		if streamID == "" || h.StreamID == streamID {
			out = append(out, h)
		}
	}
	return out, nil
}

func newHistoryEntry(id string, s model.Stream, videoTitle string, now time.Time) model.HistoryEntry {
	end := now
	if s.StopTime != nil {
		end = *s.StopTime
	}
	minutes := 0
	if s.StartTime != nil && end.After(*s.StartTime) {
		minutes = int(end.Sub(*s.StartTime) / time.Minute)
	}
	return model.HistoryEntry{
		ID:          id,
		StreamID:    s.ID,
		OwnerID:     s.OwnerID,
		Title:       s.Title,
		Platform:    s.Platform,
		VideoID:     s.VideoID,
		VideoTitle:  videoTitle,
		Encoding:    s.Encoding,
		BitrateKbps: s.BitrateKbps,
		Resolution:  s.Resolution,
		FPS:         s.FPS,
		StartTime:   copyTime(s.StartTime),
		EndTime:     &end,
		Minutes:     minutes,
		CreatedAt:   now,
	}
}
