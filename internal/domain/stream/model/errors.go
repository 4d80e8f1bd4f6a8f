// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "errors"

var (
	ErrNoRemainingTime       = errors.New("no remaining minutes")
	ErrMediaNotFound         = errors.New("video file not found on disk")
	ErrBuildCommand          = errors.New("failed to build encoder command")
	ErrProcessSpawnFailed    = errors.New("failed to start encoder process")
	ErrStartInProgress       = errors.New("start already in progress")
	ErrMaxRetriesExceeded    = errors.New("maximum restart attempts exceeded")
	ErrRepositoryUnavailable = errors.New("stream repository unavailable")
	ErrStreamNotFound        = errors.New("stream not found")
)

var reasons = []error{
	ErrNoRemainingTime,
	ErrMediaNotFound,
	ErrBuildCommand,
	ErrProcessSpawnFailed,
	ErrStartInProgress,
	ErrMaxRetriesExceeded,
	ErrRepositoryUnavailable,
	ErrStreamNotFound,
}

// Reason maps err onto the user-facing text of the taxonomy entry it wraps.
// Unknown errors return their own message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return err.Error()
}

// Code returns a stable machine-readable code for err, used in metrics labels
// and API responses.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoRemainingTime):
		return "no_remaining_time"
	case errors.Is(err, ErrMediaNotFound):
		return "media_not_found"
	case errors.Is(err, ErrBuildCommand):
		return "build_command_failed"
	case errors.Is(err, ErrProcessSpawnFailed):
		return "process_spawn_failed"
	case errors.Is(err, ErrStartInProgress):
		return "start_in_progress"
	case errors.Is(err, ErrMaxRetriesExceeded):
		return "max_retries_exceeded"
	case errors.Is(err, ErrRepositoryUnavailable):
		return "repository_unavailable"
	case errors.Is(err, ErrStreamNotFound):
		return "stream_not_found"
	default:
		return "internal"
	}
}
