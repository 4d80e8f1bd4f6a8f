// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemoryStore()
	mem.Now = func() time.Time { return fixedNow }

	sq, err := NewSqliteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	sq.Now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"memory": mem, "sqlite": sq}
}

func sampleStream(id string) *model.Stream {
	return &model.Stream{
		ID:               id,
		OwnerID:          "owner-1",
		Title:            "Lofi " + id,
		VideoID:          "vid-1",
		IngestURL:        "rtmp://live.example.com/app",
		StreamKey:        "secret",
		Platform:         "youtube",
		Status:           model.StatusOffline,
		RemainingMinutes: model.IntPtr(60),
		RequestedMinutes: model.IntPtr(60),
		Loop:             true,
		Encoding:         model.EncodingTranscode,
		BitrateKbps:      4000,
		Resolution:       "1920x1080",
		FPS:              60,
	}
}

func TestStore_PutAndFind(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sched := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
			st := sampleStream("s1")
			st.ScheduleTime = &sched
			require.NoError(t, s.PutStream(ctx, st))

			got, err := s.FindByID(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "owner-1", got.OwnerID)
			assert.Equal(t, model.EncodingTranscode, got.Encoding)
			assert.True(t, got.Loop)
			assert.Equal(t, 60, *got.RemainingMinutes)
			require.NotNil(t, got.ScheduleTime)
			assert.True(t, sched.Equal(*got.ScheduleTime))

			missing, err := s.FindByID(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStore_UpdateStatusIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutStream(ctx, sampleStream("s1")))

			err := s.UpdateStatus(ctx, "s1", model.StatusLive, "someone-else")
			assert.ErrorIs(t, err, model.ErrStreamNotFound)

			require.NoError(t, s.UpdateStatus(ctx, "s1", model.StatusLive, "owner-1"))
			got, err := s.FindByID(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusLive, got.Status)
			require.NotNil(t, got.StatusUpdatedAt)
			assert.True(t, fixedNow.Equal(*got.StatusUpdatedAt))

			// Empty owner means "any owner".
			require.NoError(t, s.UpdateStatus(ctx, "s1", model.StatusOffline, ""))
			assert.Error(t, s.UpdateStatus(ctx, "s1", model.Status("bogus"), ""))
		})
	}
}

func TestStore_UpdateFields(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := sampleStream("s1")
			st.ScheduleTime = model.TimePtr(fixedNow.Add(time.Hour))
			require.NoError(t, s.PutStream(ctx, st))

			start := fixedNow.Add(-10 * time.Minute)
			require.NoError(t, s.UpdateFields(ctx, "s1", model.Patch{
				RemainingMinutes:  model.IntPtr(42),
				ClearScheduleTime: true,
				StartTime:         &start,
			}))
			require.NoError(t, s.UpdateStopTime(ctx, "s1", fixedNow))
			require.NoError(t, s.UpdateExpectedStopTime(ctx, "s1", fixedNow.Add(42*time.Minute)))

			got, err := s.FindByID(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 42, *got.RemainingMinutes)
			assert.Equal(t, 60, *got.RequestedMinutes)
			assert.Nil(t, got.ScheduleTime)
			assert.True(t, start.Equal(*got.StartTime))
			assert.True(t, fixedNow.Equal(*got.StopTime))
			assert.True(t, fixedNow.Add(42*time.Minute).Equal(*got.ExpectedStopTime))

			assert.NoError(t, s.UpdateFields(ctx, "missing", model.Patch{}), "empty patch is a no-op")
			assert.ErrorIs(t, s.UpdateFields(ctx, "missing", model.Patch{StopTime: &start}), model.ErrStreamNotFound)
		})
	}
}

func TestStore_FindScheduledInRange(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			mk := func(id string, status model.Status, at *time.Time) {
				st := sampleStream(id)
				st.Status = status
				st.ScheduleTime = at
				require.NoError(t, s.PutStream(ctx, st))
			}
			mk("early", model.StatusScheduled, model.TimePtr(fixedNow.Add(-10*time.Minute)))
			mk("b", model.StatusScheduled, model.TimePtr(fixedNow.Add(30*time.Second)))
			mk("a", model.StatusScheduled, model.TimePtr(fixedNow.Add(10*time.Second)))
			mk("late", model.StatusScheduled, model.TimePtr(fixedNow.Add(5*time.Minute)))
			mk("live", model.StatusLive, model.TimePtr(fixedNow.Add(20*time.Second)))
			mk("unscheduled", model.StatusScheduled, nil)

			got, err := s.FindScheduledInRange(ctx, fixedNow.Add(-5*time.Minute), fixedNow.Add(time.Minute))
			require.NoError(t, err)
			var ids []string
			for _, st := range got {
				ids = append(ids, st.ID)
			}
			assert.Equal(t, []string{"a", "b"}, ids)

			live, err := s.FindAllByStatus(ctx, model.StatusLive)
			require.NoError(t, err)
			require.Len(t, live, 1)
			assert.Equal(t, "live", live[0].ID)
		})
	}
}

func TestStore_VideosAndHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutVideo(ctx, &model.Video{ID: "vid-1", Title: "Rain", FilePath: "/media/rain.mp4", DurationSeconds: 30}))
			v, err := s.FindVideoByID(ctx, "vid-1")
			require.NoError(t, err)
			assert.Equal(t, "/media/rain.mp4", v.FilePath)

			none, err := s.FindVideoByID(ctx, "vid-2")
			require.NoError(t, err)
			assert.Nil(t, none)

			snap := *sampleStream("s1")
			snap.StartTime = model.TimePtr(fixedNow.Add(-25 * time.Minute))
			snap.StopTime = model.TimePtr(fixedNow)
			require.NoError(t, s.RecordSessionHistory(ctx, snap))

			hist, err := s.ListHistory(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, hist, 1)
			assert.NotEmpty(t, hist[0].ID)
			assert.Equal(t, "Rain", hist[0].VideoTitle)
			assert.Equal(t, 25, hist[0].Minutes)
			assert.Equal(t, model.EncodingTranscode, hist[0].Encoding)

			other, err := s.ListHistory(ctx, "s2")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestSqliteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s1, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.PutStream(ctx, sampleStream("s1")))
	require.NoError(t, s1.Close())

	s2, err := NewSqliteStore(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	var version int
	require.NoError(t, s2.DB.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)

	got, err := s2.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lofi s1", got.Title)
}

func TestOpen_Backends(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("bolt", "")
	assert.Error(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutStream(ctx, sampleStream("s1")))

	got, err := s.FindByID(ctx, "s1")
	require.NoError(t, err)
	*got.RemainingMinutes = 1

	again, err := s.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60, *again.RemainingMinutes)
}
