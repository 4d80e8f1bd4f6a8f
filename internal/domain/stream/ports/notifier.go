package ports

import (
	"context"
	"time"
)

// StreamSummary describes a stream that just went live.
type StreamSummary struct {
	StreamID         string    `json:"stream_id"`
	Title            string    `json:"title"`
	Platform         string    `json:"platform,omitempty"`
	RemainingMinutes *int      `json:"remaining_minutes,omitempty"`
	ResumeOffset     float64   `json:"resume_offset_s,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// ErrorInfo describes a terminal failure of a stream.
type ErrorInfo struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Attempt int      `json:"attempt,omitempty"`
	Stderr  []string `json:"stderr,omitempty"`
}

// RuntimeSummary describes how long a stream ran before it stopped.
type RuntimeSummary struct {
	RuntimeMinutes int    `json:"runtime_minutes"`
	Reason         string `json:"reason"`
}

// Notifier receives lifecycle notifications. Callers treat it as
// fire-and-forget: failures are logged and never block orchestration.
type Notifier interface {
	NotifyStart(ctx context.Context, ownerID string, summary StreamSummary) error
	NotifyError(ctx context.Context, ownerID, streamID string, info ErrorInfo) error
	NotifyStop(ctx context.Context, ownerID, streamID string, summary RuntimeSummary) error
}
