// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/metrics"
)

// ErrClosed is returned for events submitted after Close.
var ErrClosed = errors.New("notification dispatcher closed")

// Limiter decides whether an owner may receive another event of a kind.
type Limiter interface {
	Allow(key, kind string) bool
}

// Config tunes the dispatcher.
type Config struct {
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Dispatcher is the asynchronous ports.Notifier.
type Dispatcher struct {
	cfg     Config
	sinks   []Sink
	limiter Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

var _ ports.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts the delivery worker. limiter may be nil.
func NewDispatcher(cfg Config, limiter Limiter, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		limiter: limiter,
		logger:  xglog.WithComponent("notify"),
		now:     time.Now,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) NotifyStart(_ context.Context, ownerID string, s ports.StreamSummary) error {
	return d.enqueue(Event{Kind: KindStart, OwnerID: ownerID, StreamID: s.StreamID, Start: &s})
}

func (d *Dispatcher) NotifyStop(_ context.Context, ownerID, streamID string, s ports.RuntimeSummary) error {
	return d.enqueue(Event{Kind: KindStop, OwnerID: ownerID, StreamID: streamID, Stop: &s})
}

func (d *Dispatcher) NotifyError(_ context.Context, ownerID, streamID string, info ports.ErrorInfo) error {
	return d.enqueue(Event{Kind: KindError, OwnerID: ownerID, StreamID: streamID, Error: &info})
}

func (d *Dispatcher) enqueue(ev Event) error {
	ev.At = d.now().UTC()
	kind := string(ev.Kind)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.RecordNotification(kind, "closed")
		return ErrClosed
	}
	if d.limiter != nil && !d.limiter.Allow(ev.OwnerID, kind) {
		metrics.RecordNotification(kind, "rate_limited")
		d.logger.Debug().Str(xglog.FieldOwnerID, ev.OwnerID).Str("kind", kind).Msg("notification rate limited")
		return nil
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		metrics.RecordNotification(kind, "dropped")
		return fmt.Errorf("notification queue full (%d)", cap(d.queue))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	kind := string(ev.Kind)
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		err := sink.Deliver(ctx, ev)
		cancel()
		if err != nil {
			metrics.RecordNotification(kind, "failed")
			d.logger.Warn().Err(err).
				Str("sink", sink.Name()).
				Str(xglog.FieldStreamID, ev.StreamID).
				Str("kind", kind).
				Msg("notification delivery failed")
			continue
		}
		metrics.RecordNotification(kind, "delivered")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain: %w", ctx.Err())
	}
}
