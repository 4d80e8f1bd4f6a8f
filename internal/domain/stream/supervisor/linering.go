// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"sync"
	"time"
)

// LineRing keeps the last N encoder diagnostic lines of one session.
// They are used for exit classification and attached to error notifications.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	count int
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Add appends one line, evicting the oldest when full. Empty lines are dropped.
func (r *LineRing) Add(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// LastN returns the last n lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	start := (r.head - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// LogEntry is one operator-visible log line of a stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// LogRing is the bounded per-stream log shown to operators. It survives
// restarts of the same stream and is cleared by a manual stop.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
}

// NewLogRing creates a LogRing holding at most max entries.
func NewLogRing(max int) *LogRing {
	if max < 1 {
		max = 100
	}
	return &LogRing{max: max}
}

// Append adds an entry and evicts the oldest beyond capacity.
func (r *LogRing) Append(at time.Time, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, LogEntry{Timestamp: at.UTC(), Message: msg})
	if over := len(r.entries) - r.max; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

// Entries returns a copy, oldest first.
func (r *LogRing) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}
