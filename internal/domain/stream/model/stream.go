// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the persisted relay entities and the error taxonomy
// shared by the supervisor, scheduler and reconciler.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the persisted lifecycle state of a stream.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusError     Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusScheduled, StatusLive, StatusError:
		return true
	}
	return false
}

// EncodingMode selects between stream copy and an explicit transcode.
type EncodingMode string

const (
	EncodingPassthrough EncodingMode = "passthrough"
	EncodingTranscode   EncodingMode = "transcode"
)

// Transcode defaults applied when a stream leaves a parameter unset.
const (
	DefaultBitrateKbps = 2500
	DefaultResolution  = "1280x720"
	DefaultFPS         = 30
	DefaultVideoCodec  = "libx264"
)

var resolutionPattern = regexp.MustCompile(`^[1-9][0-9]{1,4}x[1-9][0-9]{1,4}$`)

// Stream is a configured relay target.
//
// RemainingMinutes is scheduling state, not configuration: it is decremented
// after every session so a restarted stream resumes with the budget it has
// left. nil means unlimited. RequestedMinutes keeps the original request.
type Stream struct {
	ID        string
	OwnerID   string
	Title     string
	VideoID   string
	IngestURL string
	StreamKey string
	Platform  string

	Status           Status
	ScheduleTime     *time.Time
	RemainingMinutes *int
	RequestedMinutes *int
	Loop             bool

	Encoding    EncodingMode
	BitrateKbps int
	Resolution  string
	FPS         int
	VideoCodec  string

	StatusUpdatedAt  *time.Time
	StartTime        *time.Time
	StopTime         *time.Time
	ExpectedStopTime *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasRemainingTime reports whether the stream may start. Unlimited streams always may.
func (s *Stream) HasRemainingTime() bool {
	return s.RemainingMinutes == nil || *s.RemainingMinutes > 0
}

// Destination returns the ingest endpoint: base URL joined with the secret key.
func (s *Stream) Destination() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(s.IngestURL), "/")
	key := strings.Trim(strings.TrimSpace(s.StreamKey), "/")
	if base == "" {
		return "", fmt.Errorf("%w: ingest url is empty", ErrBuildCommand)
	}
	if !strings.HasPrefix(base, "rtmp://") && !strings.HasPrefix(base, "rtmps://") {
		return "", fmt.Errorf("%w: ingest url must be rtmp:// or rtmps://", ErrBuildCommand)
	}
	if key == "" {
		return "", fmt.Errorf("%w: stream key is empty", ErrBuildCommand)
	}
	return base + "/" + key, nil
}

// TranscodeParams returns the effective transcode parameters with defaults
// applied, validating what the operator set explicitly.
func (s *Stream) TranscodeParams() (TranscodeParams, error) {
	p := TranscodeParams{
		BitrateKbps: s.BitrateKbps,
		Resolution:  s.Resolution,
		FPS:         s.FPS,
		VideoCodec:  s.VideoCodec,
	}
	if p.BitrateKbps == 0 {
		p.BitrateKbps = DefaultBitrateKbps
	}
	if p.Resolution == "" {
		p.Resolution = DefaultResolution
	}
	if p.FPS == 0 {
		p.FPS = DefaultFPS
	}
	if p.VideoCodec == "" {
		p.VideoCodec = DefaultVideoCodec
	}
	if p.BitrateKbps < 0 {
		return p, fmt.Errorf("%w: bitrate %d", ErrBuildCommand, p.BitrateKbps)
	}
	if p.FPS < 0 || p.FPS > 240 {
		return p, fmt.Errorf("%w: fps %d", ErrBuildCommand, p.FPS)
	}
	if !resolutionPattern.MatchString(p.Resolution) {
		return p, fmt.Errorf("%w: resolution %q", ErrBuildCommand, p.Resolution)
	}
	return p, nil
}

// TranscodeParams are the explicit encoder parameters of a transcode stream.
type TranscodeParams struct {
	BitrateKbps int
	Resolution  string
	FPS         int
	VideoCodec  string
}

// Video is the source media a stream plays.
type Video struct {
	ID              string
	Title           string
	FilePath        string
	DurationSeconds float64
}

// Patch is a partial update of a stream. nil fields are left untouched;
// the Clear* flags null out the corresponding column.
type Patch struct {
	RemainingMinutes  *int
	ScheduleTime      *time.Time
	ClearScheduleTime bool
	StartTime         *time.Time
	StopTime          *time.Time
	ExpectedStopTime  *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.RemainingMinutes == nil && p.ScheduleTime == nil && !p.ClearScheduleTime &&
		p.StartTime == nil && p.StopTime == nil && p.ExpectedStopTime == nil
}

// HistoryEntry is one archived session of a stream.
type HistoryEntry struct {
	ID          string
	StreamID    string
	OwnerID     string
	Title       string
	Platform    string
	VideoID     string
	VideoTitle  string
	Encoding    EncodingMode
	BitrateKbps int
	Resolution  string
	FPS         int
	StartTime   *time.Time
	EndTime     *time.Time
	Minutes     int
	CreatedAt   time.Time
}

// IntPtr is a small helper for optional minute fields.
func IntPtr(v int) *int { return &v }

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }
