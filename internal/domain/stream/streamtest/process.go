package streamtest

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// FakeProcess is a scriptable ports.Process.
type FakeProcess struct {
	Spec ports.ProcessSpec

	pid    int
	events chan ports.ProcessEvent

	mu          sync.Mutex
	exited      bool
	vanished    bool
	terminated  int
	killed      int
	exitOnTerm  bool
	terminateFn func(p *FakeProcess)
}

// NewFakeProcess returns a running process. Terminate makes it exit with SIGTERM.
func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{
		pid:        pid,
		events:     make(chan ports.ProcessEvent, 256),
		exitOnTerm: true,
	}
}

func (p *FakeProcess) PID() int                          { return p.pid }
func (p *FakeProcess) Events() <-chan ports.ProcessEvent { return p.events }

// IgnoreTerminate keeps the process running when Terminate is called.
func (p *FakeProcess) IgnoreTerminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitOnTerm = false
}

// OnTerminate replaces the default Terminate behaviour.
func (p *FakeProcess) OnTerminate(fn func(p *FakeProcess)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateFn = fn
}

// Progress emits a progress event.
func (p *FakeProcess) Progress(seconds float64) {
	p.send(ports.ProcessEvent{Kind: ports.EventProgress, At: time.Now(), PlaybackSeconds: seconds})
}

// Stderr emits a diagnostic line.
func (p *FakeProcess) Stderr(line string) {
	p.send(ports.ProcessEvent{Kind: ports.EventStderr, At: time.Now(), Line: line})
}

// Exit emits the final event and closes the channel. Later calls are no-ops.
func (p *FakeProcess) Exit(status ports.ExitStatus) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.mu.Unlock()
	p.events <- ports.ProcessEvent{Kind: ports.EventExit, At: time.Now(), Exit: status}
	close(p.events)
}

// ExitCode is shorthand for Exit with a plain exit code.
func (p *FakeProcess) ExitCode(code int) { p.Exit(ports.ExitStatus{Code: code}) }

// ExitSignal is shorthand for Exit with a signal.
func (p *FakeProcess) ExitSignal(sig syscall.Signal) { p.Exit(ports.ExitStatus{Code: -1, Signal: sig}) }

func (p *FakeProcess) send(ev ports.ProcessEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.events <- ev
}

func (p *FakeProcess) Terminate(grace, timeout time.Duration) error {
	p.mu.Lock()
	p.terminated++
	fn, exitOnTerm := p.terminateFn, p.exitOnTerm
	p.mu.Unlock()
	if fn != nil {
		fn(p)
		return nil
	}
	if exitOnTerm {
		p.ExitSignal(syscall.SIGTERM)
	}
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.ExitSignal(syscall.SIGKILL)
	return nil
}

func (p *FakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited || p.vanished
}

// Vanish makes Exited report true without delivering an exit event, as if
// the exit notification was lost. Exit still works afterwards.
func (p *FakeProcess) Vanish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vanished = true
}

// TerminateCalls is the number of Terminate calls so far.
func (p *FakeProcess) TerminateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// KillCalls is the number of Kill calls so far.
func (p *FakeProcess) KillCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// FakeSpawner hands out FakeProcesses and records every spec.
type FakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	specs   []ports.ProcessSpec
	procs   []*FakeProcess
	err     error
	spawned chan *FakeProcess
}

// NewFakeSpawner returns a spawner that always succeeds.
func NewFakeSpawner() *FakeSpawner {
	return &FakeSpawner{nextPID: 1000, spawned: make(chan *FakeProcess, 64)}
}

// FailWith makes subsequent spawns fail with err; nil restores success.
func (s *FakeSpawner) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *FakeSpawner) Spawn(ctx context.Context, spec ports.ProcessSpec) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.nextPID++
	p := NewFakeProcess(s.nextPID)
	p.Spec = spec
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)
	s.mu.Unlock()

	select {
	case s.spawned <- p:
	default:
	}
	return p, nil
}

// Count returns how many processes were spawned.
func (s *FakeSpawner) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Specs returns a copy of all recorded specs.
func (s *FakeSpawner) Specs() []ports.ProcessSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ProcessSpec(nil), s.specs...)
}

// Processes returns every spawned process in spawn order.
func (s *FakeSpawner) Processes() []*FakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeProcess(nil), s.procs...)
}

// Last returns the most recently spawned process, or nil.
func (s *FakeSpawner) Last() *FakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// Next waits for the next spawn.
func (s *FakeSpawner) Next(timeout time.Duration) (*FakeProcess, error) {
	select {
	case p := <-s.spawned:
		return p, nil
	case <-time.After(timeout):
		return nil, errors.New("streamtest: no spawn within timeout")
	}
}

// FixedProber reports the same duration for every path.
type FixedProber struct {
	Seconds float64
	Err     error

	mu    sync.Mutex
	calls int
}

func (p *FixedProber) ProbeDuration(_ context.Context, _ string) (float64, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.Seconds, p.Err
}

// Calls returns the number of probes performed.
func (p *FixedProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
