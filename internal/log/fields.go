// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldStreamID      = "stream_id"
	FieldOwnerID       = "owner_id"
	FieldVideoID       = "video_id"
	FieldSessionID     = "session_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldTraceID       = "trace_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldSignal    = "signal"
	FieldAttempt   = "attempt"
	FieldExitClass = "exit_class"

	// Scheduling fields
	FieldRemainingMinutes = "remaining_minutes"
	FieldResumeOffset     = "resume_offset_s"
	FieldFiresAt          = "fires_at"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
