package ports

import (
	"context"
	"fmt"
	"syscall"
	"time"
)

// ProcessSpec is everything needed to launch one encoder session.
type ProcessSpec struct {
	StreamID  string
	SessionID string
	Bin       string
	Args      []string
}

// ProcessEventKind discriminates ProcessEvent.
type ProcessEventKind int

const (
	EventProgress ProcessEventKind = iota + 1
	EventStderr
	EventExit
)

func (k ProcessEventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventStderr:
		return "stderr"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ExitStatus is how a child process ended. Signal is zero for a normal exit.
type ExitStatus struct {
	Code   int
	Signal syscall.Signal
}

// Signaled reports whether the process was terminated by a signal.
func (e ExitStatus) Signaled() bool { return e.Signal != 0 }

func (e ExitStatus) String() string {
	if e.Signaled() {
		return fmt.Sprintf("signal %d (%s)", int(e.Signal), e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ProcessEvent is one observation of a child process. Events for a single
// process are delivered in order on one channel; EventExit is always last.
type ProcessEvent struct {
	Kind            ProcessEventKind
	At              time.Time
	PlaybackSeconds float64 // EventProgress: position within this session
	Line            string  // EventStderr
	Exit            ExitStatus
}

// Process is a live child-process handle.
type Process interface {
	PID() int
	// Events is closed after the EventExit event has been delivered.
	Events() <-chan ProcessEvent
	// Terminate sends a graceful signal, waits up to grace, then kills and
	// waits up to timeout. It is safe to call on an exited process.
	Terminate(grace, timeout time.Duration) error
	// Kill sends a forceful kill without waiting.
	Kill() error
	// Exited reports whether the OS process has been reaped.
	Exited() bool
}

// Spawner launches encoder processes.
type Spawner interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
}

// DurationProber measures source media length in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}
