// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/streamrelay/internal/log"
)

// LogSink writes notifications to the structured log. It is always enabled.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging under the "notify" component.
func NewLogSink() *LogSink {
	return &LogSink{logger: xglog.WithComponent("notify")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	e := s.logger.Info()
	if ev.Kind == KindError {
		e = s.logger.Warn()
	}
	e = e.Str(xglog.FieldEvent, "notify."+string(ev.Kind)).
		Str(xglog.FieldOwnerID, ev.OwnerID).
		Str(xglog.FieldStreamID, ev.StreamID)

	switch {
	case ev.Start != nil:
		e = e.Str("title", ev.Start.Title).Float64(xglog.FieldResumeOffset, ev.Start.ResumeOffset)
		if ev.Start.RemainingMinutes != nil {
			e = e.Int(xglog.FieldRemainingMinutes, *ev.Start.RemainingMinutes)
		}
	case ev.Stop != nil:
		e = e.Int("runtime_minutes", ev.Stop.RuntimeMinutes).Str("reason", ev.Stop.Reason)
	case ev.Error != nil:
		e = e.Str("code", ev.Error.Code).Str("error", ev.Error.Message).Int(xglog.FieldAttempt, ev.Error.Attempt)
	}
	e.Msg("stream notification")
	return nil
}
