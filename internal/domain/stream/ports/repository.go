package ports

import (
	"context"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
)

// StreamRepository is the persisted source of truth for stream status.
// FindByID returns (nil, nil) when the record does not exist.
type StreamRepository interface {
	FindByID(ctx context.Context, id string) (*model.Stream, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, ownerID string) error
	UpdateFields(ctx context.Context, id string, patch model.Patch) error
	FindScheduledInRange(ctx context.Context, from, to time.Time) ([]*model.Stream, error)
	FindAllByStatus(ctx context.Context, status model.Status) ([]*model.Stream, error)
	UpdateStopTime(ctx context.Context, id string, at time.Time) error
	UpdateExpectedStopTime(ctx context.Context, id string, at time.Time) error
}

// VideoRepository resolves source media. FindVideoByID returns (nil, nil)
// when the record does not exist.
type VideoRepository interface {
	FindVideoByID(ctx context.Context, id string) (*model.Video, error)
}

// HistoryRecorder archives a finished live session.
type HistoryRecorder interface {
	RecordSessionHistory(ctx context.Context, snapshot model.Stream) error
}
