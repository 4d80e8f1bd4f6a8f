// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/metrics"
	"github.com/ManuGH/streamrelay/internal/ratelimit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type denyAll struct{}

func (denyAll) Allow(string, string) bool { return false }

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_DeliversToAllSinksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a, b := &recordingSink{}, &recordingSink{err: errors.New("webhook down")}
	d := NewDispatcher(Config{}, nil, a, b)
	ctx := context.Background()

	require.NoError(t, d.NotifyStart(ctx, "owner-1", ports.StreamSummary{StreamID: "s1", Title: "Lofi", RemainingMinutes: model.IntPtr(10)}))
	require.NoError(t, d.NotifyError(ctx, "owner-1", "s1", ports.ErrorInfo{Code: "max_retries_exceeded", Attempt: 3}))
	require.NoError(t, d.NotifyStop(ctx, "owner-1", "s1", ports.RuntimeSummary{RuntimeMinutes: 25, Reason: "stopped"}))
	closeDispatcher(t, d)

	for _, sink := range []*recordingSink{a, b} {
		evs := sink.Events()
		require.Len(t, evs, 3)
		assert.Equal(t, []Kind{KindStart, KindError, KindStop}, []Kind{evs[0].Kind, evs[1].Kind, evs[2].Kind})
		assert.Equal(t, "s1", evs[1].StreamID)
		assert.Equal(t, 25, evs[2].Stop.RuntimeMinutes)
		assert.False(t, evs[0].At.IsZero())
	}
}

func TestDispatcher_RateLimitedEventsAreDropped(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{}, denyAll{}, sink)

	before := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("stop", "rate_limited"))
	require.NoError(t, d.NotifyStop(context.Background(), "owner-1", "s1", ports.RuntimeSummary{}))
	closeDispatcher(t, d)

	assert.Empty(t, sink.Events())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("stop", "rate_limited")))
}

func TestDispatcher_PerOwnerLimit(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.PerKeyBurst = 2
	sink := &recordingSink{}
	d := NewDispatcher(Config{}, ratelimit.New(cfg), sink)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.NotifyStop(context.Background(), "noisy", "s1", ports.RuntimeSummary{}))
	}
	require.NoError(t, d.NotifyStop(context.Background(), "quiet", "s2", ports.RuntimeSummary{}))
	closeDispatcher(t, d)

	counts := map[string]int{}
	for _, ev := range sink.Events() {
		counts[ev.OwnerID]++
	}
	assert.Equal(t, map[string]int{"noisy": 2, "quiet": 1}, counts)
}

func TestDispatcher_QueueFullAndClosed(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{QueueSize: 1}, nil, sink)
	ctx := context.Background()

	// The worker takes the first event and blocks in the sink; the second
	// fills the queue.
	require.NoError(t, d.NotifyStop(ctx, "o", "s1", ports.RuntimeSummary{}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.NotifyStop(ctx, "o", "s2", ports.RuntimeSummary{}))
	require.Error(t, d.NotifyStop(ctx, "o", "s3", ports.RuntimeSummary{}))

	close(sink.block)
	closeDispatcher(t, d)
	assert.Len(t, sink.Events(), 2)

	assert.ErrorIs(t, d.NotifyStop(ctx, "o", "s4", ports.RuntimeSummary{}), ErrClosed)
	closeDispatcher(t, d)
}

func TestDispatcher_CloseTimesOut(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{}, nil, sink)
	require.NoError(t, d.NotifyStop(context.Background(), "o", "s1", ports.RuntimeSummary{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
	closeDispatcher(t, d)
}

func setupRedisSink(t *testing.T, history int) (*miniredis.Miniredis, *redis.Client, *RedisSink) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, NewRedisSink(client, "", history)
}

func TestRedisSink_PublishesToOwnerChannel(t *testing.T) {
	_, client, sink := setupRedisSink(t, 0)
	ctx := context.Background()

	sub := client.Subscribe(ctx, sink.Channel("owner-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev := Event{Kind: KindError, OwnerID: "owner-1", StreamID: "s1", Error: &ports.ErrorInfo{Code: "media_not_found"}}
	require.NoError(t, sink.Deliver(ctx, ev))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "relay:notify:owner-1", msg.Channel)
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "media_not_found", got.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisSink_KeepsCappedRecentList(t *testing.T) {
	mr, _, sink := setupRedisSink(t, 2)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, sink.Deliver(ctx, Event{Kind: KindStop, OwnerID: "owner-1", StreamID: id}))
	}

	raw, err := mr.List(sink.RecentKey("owner-1"))
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	recent, err := sink.Recent(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s3", recent[0].StreamID)
	assert.Equal(t, "s2", recent[1].StreamID)
}

func TestRedisSink_DeliverFailsWhenServerIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	sink := NewRedisSink(client, "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, sink.Deliver(ctx, Event{Kind: KindStart, OwnerID: "o"}))
}

func TestLogSink_NeverFails(t *testing.T) {
	s := NewLogSink()
	for _, ev := range []Event{
		{Kind: KindStart, Start: &ports.StreamSummary{Title: "x", RemainingMinutes: model.IntPtr(3)}},
		{Kind: KindStop, Stop: &ports.RuntimeSummary{RuntimeMinutes: 1}},
		{Kind: KindError, Error: &ports.ErrorInfo{Code: "internal"}},
	} {
		assert.NoError(t, s.Deliver(context.Background(), ev))
	}
}
