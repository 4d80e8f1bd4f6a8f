// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers stream lifecycle notifications to owners.
//
// The Dispatcher implements the supervisor's Notifier port. It never blocks
// the caller: events are queued, rate limited per owner and handed to every
// configured Sink by a single worker.
package notify

import (
	"context"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// Kind names a notification type.
type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
	KindError Kind = "error"
)

// Event is the serialized form of one notification.
type Event struct {
	Kind     Kind                  `json:"kind"`
	OwnerID  string                `json:"owner_id"`
	StreamID string                `json:"stream_id"`
	At       time.Time             `json:"at"`
	Start    *ports.StreamSummary  `json:"start,omitempty"`
	Stop     *ports.RuntimeSummary `json:"stop,omitempty"`
	Error    *ports.ErrorInfo      `json:"error,omitempty"`
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}
