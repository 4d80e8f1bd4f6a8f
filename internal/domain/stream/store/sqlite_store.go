// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/persistence/sqlite"
	"github.com/google/uuid"
)

const (
	schemaVersion = 2 // v2: requested_duration, video_codec, expected_stop_time

	// timeLayout is fixed-width UTC so that TEXT columns compare lexically.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB

	// Now stamps status_updated_at and updated_at; defaults to time.Now.
	Now func() time.Time
}

// NewSqliteStore opens (or creates) the relay database and migrates it.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db, Now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stream store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		filepath TEXT NOT NULL,
		duration REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		video_id TEXT NOT NULL,
		rtmp_url TEXT NOT NULL,
		stream_key TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		bitrate INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		fps INTEGER NOT NULL DEFAULT 0,
		loop_video INTEGER NOT NULL DEFAULT 0,
		schedule_time TEXT,
		duration INTEGER,
		status TEXT NOT NULL DEFAULT 'offline',
		status_updated_at TEXT,
		start_time TEXT,
		end_time TEXT,
		use_advanced_settings INTEGER NOT NULL DEFAULT 0,
		user_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_streams_status_schedule ON streams(status, schedule_time);

	CREATE TABLE IF NOT EXISTS stream_history (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		video_id TEXT NOT NULL DEFAULT '',
		video_title TEXT NOT NULL DEFAULT '',
		use_advanced_settings INTEGER NOT NULL DEFAULT 0,
		bitrate INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		fps INTEGER NOT NULL DEFAULT 0,
		start_time TEXT,
		end_time TEXT,
		duration INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_stream ON stream_history(stream_id, created_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}

	if currentVersion < 2 {
		// Older databases predate these columns; ALTER fails harmlessly on fresh ones.
		_, _ = tx.Exec("ALTER TABLE streams ADD COLUMN requested_duration INTEGER")
		_, _ = tx.Exec("ALTER TABLE streams ADD COLUMN video_codec TEXT NOT NULL DEFAULT ''")
		_, _ = tx.Exec("ALTER TABLE streams ADD COLUMN expected_stop_time TEXT")
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Videos ---

func (s *SqliteStore) PutVideo(ctx context.Context, v *model.Video) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("put video: id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO videos (id, title, filepath, duration) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		filepath = excluded.filepath,
		duration = excluded.duration`,
		v.ID, v.Title, v.FilePath, v.DurationSeconds)
	return err
}

func (s *SqliteStore) FindVideoByID(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video
	err := s.DB.QueryRowContext(ctx, "SELECT id, title, filepath, duration FROM videos WHERE id = ?", id).
		Scan(&v.ID, &v.Title, &v.FilePath, &v.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// --- Streams ---

const streamColumns = `id, title, video_id, rtmp_url, stream_key, platform, bitrate, resolution, fps,
	loop_video, schedule_time, duration, requested_duration, status, status_updated_at, start_time,
	end_time, expected_stop_time, use_advanced_settings, video_codec, user_id, created_at, updated_at`

func (s *SqliteStore) PutStream(ctx context.Context, st *model.Stream) error {
	if st == nil || st.ID == "" {
		return fmt.Errorf("put stream: id is required")
	}
	status := st.Status
	if status == "" {
		status = model.StatusOffline
	}
	if !status.Valid() {
		return fmt.Errorf("put stream: invalid status %q", status)
	}
	now := s.now()
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO streams (`+streamColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		video_id = excluded.video_id,
		rtmp_url = excluded.rtmp_url,
		stream_key = excluded.stream_key,
		platform = excluded.platform,
		bitrate = excluded.bitrate,
		resolution = excluded.resolution,
		fps = excluded.fps,
		loop_video = excluded.loop_video,
		schedule_time = excluded.schedule_time,
		duration = excluded.duration,
		requested_duration = excluded.requested_duration,
		status = excluded.status,
		status_updated_at = excluded.status_updated_at,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		expected_stop_time = excluded.expected_stop_time,
		use_advanced_settings = excluded.use_advanced_settings,
		video_codec = excluded.video_codec,
		user_id = excluded.user_id,
		updated_at = excluded.updated_at`,
		st.ID, st.Title, st.VideoID, st.IngestURL, st.StreamKey, st.Platform, st.BitrateKbps, st.Resolution, st.FPS,
		boolToInt(st.Loop), timeToNull(st.ScheduleTime), intToNull(st.RemainingMinutes), intToNull(st.RequestedMinutes),
		string(status), timeToNull(st.StatusUpdatedAt), timeToNull(st.StartTime),
		timeToNull(st.StopTime), timeToNull(st.ExpectedStopTime), boolToInt(st.Encoding == model.EncodingTranscode),
		st.VideoCodec, st.OwnerID, formatTime(created), formatTime(now),
	)
	return err
}

func (s *SqliteStore) DeleteStream(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM streams WHERE id = ?", id)
	return err
}

func (s *SqliteStore) FindByID(ctx context.Context, id string) (*model.Stream, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+streamColumns+" FROM streams WHERE id = ?", id)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

func (s *SqliteStore) UpdateStatus(ctx context.Context, id string, status model.Status, ownerID string) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	now := formatTime(s.now())
	query := "UPDATE streams SET status = ?, status_updated_at = ?, updated_at = ? WHERE id = ?"
	args := []any{string(status), now, now, id}
	if ownerID != "" {
		query += " AND user_id = ?"
		args = append(args, ownerID)
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SqliteStore) UpdateFields(ctx context.Context, id string, patch model.Patch) error {
	if patch.Empty() {
		return nil
	}
	query := "UPDATE streams SET updated_at = ?"
	args := []any{formatTime(s.now())}
	if patch.RemainingMinutes != nil {
		query += ", duration = ?"
		args = append(args, *patch.RemainingMinutes)
	}
	if patch.ClearScheduleTime {
		query += ", schedule_time = NULL"
	} else if patch.ScheduleTime != nil {
		query += ", schedule_time = ?"
		args = append(args, formatTime(*patch.ScheduleTime))
	}
	if patch.StartTime != nil {
		query += ", start_time = ?"
		args = append(args, formatTime(*patch.StartTime))
	}
	if patch.StopTime != nil {
		query += ", end_time = ?"
		args = append(args, formatTime(*patch.StopTime))
	}
	if patch.ExpectedStopTime != nil {
		query += ", expected_stop_time = ?"
		args = append(args, formatTime(*patch.ExpectedStopTime))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SqliteStore) FindScheduledInRange(ctx context.Context, from, to time.Time) ([]*model.Stream, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+streamColumns+` FROM streams
		WHERE status = ? AND schedule_time IS NOT NULL AND schedule_time >= ? AND schedule_time <= ?
		ORDER BY schedule_time ASC`,
		string(model.StatusScheduled), formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	return collectStreams(rows)
}

func (s *SqliteStore) FindAllByStatus(ctx context.Context, status model.Status) ([]*model.Stream, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+streamColumns+" FROM streams WHERE status = ? ORDER BY id ASC", string(status))
	if err != nil {
		return nil, err
	}
	return collectStreams(rows)
}

func (s *SqliteStore) UpdateStopTime(ctx context.Context, id string, at time.Time) error {
	return s.UpdateFields(ctx, id, model.Patch{StopTime: &at})
}

func (s *SqliteStore) UpdateExpectedStopTime(ctx context.Context, id string, at time.Time) error {
	return s.UpdateFields(ctx, id, model.Patch{ExpectedStopTime: &at})
}

// --- History ---

func (s *SqliteStore) RecordSessionHistory(ctx context.Context, snapshot model.Stream) error {
	var videoTitle string
	if v, err := s.FindVideoByID(ctx, snapshot.VideoID); err == nil && v != nil {
		videoTitle = v.Title
	}
	h := newHistoryEntry(uuid.NewString(), snapshot, videoTitle, s.now())

	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO stream_history (
		id, stream_id, user_id, title, platform, video_id, video_title, use_advanced_settings,
		bitrate, resolution, fps, start_time, end_time, duration, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.StreamID, h.OwnerID, h.Title, h.Platform, h.VideoID, h.VideoTitle,
		boolToInt(h.Encoding == model.EncodingTranscode), h.BitrateKbps, h.Resolution, h.FPS,
		timeToNull(h.StartTime), timeToNull(h.EndTime), h.Minutes, formatTime(h.CreatedAt),
	)
	return err
}

func (s *SqliteStore) ListHistory(ctx context.Context, streamID string) ([]model.HistoryEntry, error) {
	query := `SELECT id, stream_id, user_id, title, platform, video_id, video_title, use_advanced_settings,
		bitrate, resolution, fps, start_time, end_time, duration, created_at FROM stream_history`
	var args []any
	if streamID != "" {
		query += " WHERE stream_id = ?"
		args = append(args, streamID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.HistoryEntry
	for rows.Next() {
		var (
			h          model.HistoryEntry
			transcode  int
			start, end sql.NullString
			created    string
		)
		if err := rows.Scan(&h.ID, &h.StreamID, &h.OwnerID, &h.Title, &h.Platform, &h.VideoID, &h.VideoTitle,
			&transcode, &h.BitrateKbps, &h.Resolution, &h.FPS, &start, &end, &h.Minutes, &created); err != nil {
			return nil, err
		}
		h.Encoding = encodingFromFlag(transcode)
		if h.StartTime, err = nullToTime(start); err != nil {
			return nil, err
		}
		if h.EndTime, err = nullToTime(end); err != nil {
			return nil, err
		}
		if h.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(r rowScanner) (*model.Stream, error) {
	var (
		st                   model.Stream
		status               string
		loop, transcode      int
		remaining, requested sql.NullInt64
		created, updated     string
	)
	var schedule, statusAt, start, end, exp sql.NullString
	if err := r.Scan(&st.ID, &st.Title, &st.VideoID, &st.IngestURL, &st.StreamKey, &st.Platform,
		&st.BitrateKbps, &st.Resolution, &st.FPS, &loop, &schedule, &remaining, &requested, &status,
		&statusAt, &start, &end, &exp, &transcode, &st.VideoCodec, &st.OwnerID, &created, &updated); err != nil {
		return nil, err
	}

	st.Status = model.Status(status)
	st.Loop = loop != 0
	st.Encoding = encodingFromFlag(transcode)
	st.RemainingMinutes = nullToInt(remaining)
	st.RequestedMinutes = nullToInt(requested)

	var err error
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{schedule, &st.ScheduleTime},
		{statusAt, &st.StatusUpdatedAt},
		{start, &st.StartTime},
		{end, &st.StopTime},
		{exp, &st.ExpectedStopTime},
	} {
		if *f.dst, err = nullToTime(f.src); err != nil {
			return nil, fmt.Errorf("stream %s: %w", st.ID, err)
		}
	}
	if st.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("stream %s: %w", st.ID, err)
	}
	if st.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("stream %s: %w", st.ID, err)
	}
	return &st, nil
}

func collectStreams(rows *sql.Rows) ([]*model.Stream, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrStreamNotFound
	}
	return nil
}

func encodingFromFlag(v int) model.EncodingMode {
	if v != 0 {
		return model.EncodingTranscode
	}
	return model.EncodingPassthrough
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Rows written by other tools may carry RFC3339 offsets.
		t, err = time.Parse(time.RFC3339Nano, v)
	}
	return t, err
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func intToNull(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullToInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
