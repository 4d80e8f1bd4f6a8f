package streamtest

import (
	"context"
	"sync"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// Notification is one recorded notifier call.
type Notification struct {
	Kind     string // start, error, stop
	OwnerID  string
	StreamID string
	Start    ports.StreamSummary
	Error    ports.ErrorInfo
	Stop     ports.RuntimeSummary
}

// RecordingNotifier captures notifications in call order.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	Err   error
}

func (n *RecordingNotifier) NotifyStart(_ context.Context, ownerID string, s ports.StreamSummary) error {
	n.add(Notification{Kind: "start", OwnerID: ownerID, StreamID: s.StreamID, Start: s})
	return n.Err
}

func (n *RecordingNotifier) NotifyError(_ context.Context, ownerID, streamID string, info ports.ErrorInfo) error {
	n.add(Notification{Kind: "error", OwnerID: ownerID, StreamID: streamID, Error: info})
	return n.Err
}

func (n *RecordingNotifier) NotifyStop(_ context.Context, ownerID, streamID string, s ports.RuntimeSummary) error {
	n.add(Notification{Kind: "stop", OwnerID: ownerID, StreamID: streamID, Stop: s})
	return n.Err
}

func (n *RecordingNotifier) add(c Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

// Calls returns a copy of the recorded notifications.
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.calls...)
}

// Kinds returns the kinds of all recorded notifications, in order.
func (n *RecordingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.Kind)
	}
	return out
}
