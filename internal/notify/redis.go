// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces notification channels and lists.
const DefaultRedisPrefix = "relay:notify:"

// RedisSink publishes each event on a per-owner channel and keeps the most
// recent events in a capped per-owner list for clients that were not
// subscribed at the time.
type RedisSink struct {
	client  *redis.Client
	prefix  string
	history int64
}

// NewRedisSink returns a sink on an existing client. history <= 0 disables
// the recent-events list.
func NewRedisSink(client *redis.Client, prefix string, history int) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix, history: int64(history)}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for an owner.
func (s *RedisSink) Channel(ownerID string) string {
	return s.prefix + ownerID
}

// RecentKey returns the key of the owner's recent-events list.
func (s *RedisSink) RecentKey(ownerID string) string {
	return s.prefix + "recent:" + ownerID
}

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, s.Channel(ev.OwnerID), payload)
		if s.history > 0 {
			key := s.RecentKey(ev.OwnerID)
			p.LPush(ctx, key, payload)
			p.LTrim(ctx, key, 0, s.history-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Recent returns up to n of the owner's latest events, newest first.
func (s *RedisSink) Recent(ctx context.Context, ownerID string, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.RecentKey(ownerID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
