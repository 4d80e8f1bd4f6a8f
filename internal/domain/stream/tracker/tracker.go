// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tracker accounts for how much of each stream has played and
// where the next session should resume.
//
// Positions are kept on the unlooped timeline: a session that started from
// base offset B and reports S seconds of output has reached B+S, even when
// the source is looped and B+S exceeds the source length. Reduction to a
// single loop iteration happens only when building the next command line
// (see LoopOffset), so the observed position never moves backwards across
// restarts.
package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// DefaultStaleAfter is how long a stream may be idle before its position is forgotten.
const DefaultStaleAfter = time.Hour

// Record is the per-stream runtime state.
type Record struct {
	SessionID            string
	SessionStartedAt     time.Time
	SessionBaseOffset    float64
	LastActivityAt       time.Time
	AccumulatedRuntime   time.Duration
	LastObservedPlayback float64
	InSession            bool
}

// Info is the read-only view returned to operators.
type Info struct {
	SessionRuntime       time.Duration
	TotalRuntime         time.Duration
	LastObservedPlayback float64
	InSession            bool
}

// SessionMinutes is the current session length in whole minutes.
func (i Info) SessionMinutes() int { return int(i.SessionRuntime / time.Minute) }

// TotalMinutes is the accumulated runtime in whole minutes.
func (i Info) TotalMinutes() int { return int(i.TotalRuntime / time.Minute) }

// Tracker is safe for concurrent use.
type Tracker struct {
	clock      ports.Clock
	staleAfter time.Duration

	mu      sync.Mutex
	records map[string]*Record
}

// New returns a Tracker. A zero staleAfter selects DefaultStaleAfter.
func New(clock ports.Clock, staleAfter time.Duration) *Tracker {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		clock:      clock,
		staleAfter: staleAfter,
		records:    make(map[string]*Record),
	}
}

// BeginSession marks the start of a session that resumes from baseOffset.
// Progress and end calls must carry the same sessionID; calls from an older
// session are ignored.
func (t *Tracker) BeginSession(id, sessionID string, at time.Time, baseOffset float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(id)
	r.SessionID = sessionID
	r.SessionStartedAt = at
	r.SessionBaseOffset = baseOffset
	r.LastActivityAt = at
	r.InSession = true
}

// RecordProgress stores the session-relative playback position reported by
// the encoder. The absolute position never decreases within a session.
func (t *Tracker) RecordProgress(id, sessionID string, seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok || !r.InSession || r.SessionID != sessionID {
		return
	}
	if pos := r.SessionBaseOffset + seconds; pos > r.LastObservedPlayback {
		r.LastObservedPlayback = pos
	}
	r.LastActivityAt = t.clock.Now()
}

// EndSession closes the running session and returns its length. It returns
// zero when sessionID is not the open session.
func (t *Tracker) EndSession(id, sessionID string, at time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok || !r.InSession || r.SessionID != sessionID {
		return 0
	}
	d := at.Sub(r.SessionStartedAt)
	if d < 0 {
		d = 0
	}
	r.AccumulatedRuntime += d
	r.LastActivityAt = at
	r.InSession = false
	return d
}

// ComputeResumeOffset returns where the next session should start: the last
// observed position, else the accumulated runtime, else nothing.
func (t *Tracker) ComputeResumeOffset(id string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return 0, false
	}
	if r.LastObservedPlayback > 0 {
		return r.LastObservedPlayback, true
	}
	if r.AccumulatedRuntime > 0 {
		return r.AccumulatedRuntime.Seconds(), true
	}
	return 0, false
}

// RuntimeInfo reports session and total runtime. ok is false for unknown streams.
func (t *Tracker) RuntimeInfo(id string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return Info{}, false
	}
	info := Info{
		TotalRuntime:         r.AccumulatedRuntime,
		LastObservedPlayback: r.LastObservedPlayback,
		InSession:            r.InSession,
	}
	if r.InSession {
		if d := t.clock.Now().Sub(r.SessionStartedAt); d > 0 {
			info.SessionRuntime = d
			info.TotalRuntime += d
		}
	}
	return info, true
}

// Snapshot returns a copy of the record.
func (t *Tracker) Snapshot(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Reset forgets everything about id.
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// IsStale reports whether id has been idle for longer than the staleness
// threshold. A running session is never stale.
func (t *Tracker) IsStale(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok || r.InSession {
		return false
	}
	return now.Sub(r.LastActivityAt) > t.staleAfter
}

func (t *Tracker) recordLocked(id string) *Record {
	r, ok := t.records[id]
	if !ok {
		r = &Record{}
		t.records[id] = r
	}
	return r
}

// LoopOffset reduces offset to a single iteration of a source that is
// sourceSeconds long. Unknown lengths leave the offset untouched.
func LoopOffset(offset, sourceSeconds float64) float64 {
	if sourceSeconds <= 0 || offset <= 0 {
		return math.Max(offset, 0)
	}
	return math.Mod(offset, sourceSeconds)
}
