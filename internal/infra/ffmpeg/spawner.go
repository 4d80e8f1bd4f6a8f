// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/procgroup"
	"github.com/rs/zerolog"
)

const eventBuffer = 128

// Spawner launches ffmpeg children in their own process group.
type Spawner struct {
	BinPath string
}

// NewSpawner returns a Spawner for binPath ("ffmpeg" when empty).
func NewSpawner(binPath string) *Spawner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Spawner{BinPath: binPath}
}

var _ ports.Spawner = (*Spawner)(nil)

// Spawn starts the process. ctx bounds only the launch: the child outlives
// the request that started it and is stopped through Terminate or Kill.
func (s *Spawner) Spawn(ctx context.Context, spec ports.ProcessSpec) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawnFailed, err)
	}
	bin := spec.Bin
	if bin == "" {
		bin = s.BinPath
	}

	cmd := exec.Command(bin, spec.Args...) // #nosec G204 -- args are built without a shell
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", model.ErrProcessSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", model.ErrProcessSpawnFailed, err)
	}

	logger := log.WithStreamID("ffmpeg", spec.StreamID).With().Str(log.FieldSessionID, spec.SessionID).Logger()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawnFailed, err)
	}
	logger.Info().Int(log.FieldPID, cmd.Process.Pid).Str("command", cmd.String()).Msg("ffmpeg started")

	p := &process{
		cmd:      cmd,
		events:   make(chan ports.ProcessEvent, eventBuffer),
		lines:    make(chan ports.ProcessEvent),
		waitDone: make(chan struct{}),
		logger:   logger,
	}
	go p.pump(stdout, stderr)
	return p, nil
}

// process adapts an *exec.Cmd to ports.Process.
type process struct {
	cmd    *exec.Cmd
	events chan ports.ProcessEvent
	lines  chan ports.ProcessEvent
	logger zerolog.Logger

	waitDone chan struct{}
	waitErr  error

	termMu sync.Mutex
}

func (p *process) PID() int                          { return p.cmd.Process.Pid }
func (p *process) Events() <-chan ports.ProcessEvent { return p.events }

// pump forwards reader output in arrival order, reaps the child once both
// pipes are drained, and emits the exit event last.
func (p *process) pump(stdout, stderr io.Reader) {
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readProgress(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readStderr(stderr)
	}()
	go func() {
		readers.Wait()
		close(p.lines)
	}()

	for ev := range p.lines {
		if ev.Kind == ports.EventProgress {
			select {
			case p.events <- ev:
			default:
				// A newer progress block follows shortly.
			}
			continue
		}
		p.events <- ev
	}

	p.waitErr = p.cmd.Wait()
	close(p.waitDone)

	status := exitStatus(p.waitErr)
	p.logger.Info().Int(log.FieldPID, p.cmd.Process.Pid).Str(log.FieldExitCode, status.String()).Msg("ffmpeg exited")
	p.events <- ports.ProcessEvent{Kind: ports.EventExit, At: time.Now(), Exit: status}
	close(p.events)
}

func (p *process) readProgress(r io.Reader) {
	var parser ProgressParser
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if secs, ok := parser.ParseLine(sc.Text()); ok {
			p.lines <- ports.ProcessEvent{Kind: ports.EventProgress, At: time.Now(), PlaybackSeconds: secs}
		}
	}
}

func (p *process) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		// Stats lines only appear when -nostats was dropped by an operator override.
		if secs, ok := TimemarkFromStats(line); ok {
			p.lines <- ports.ProcessEvent{Kind: ports.EventProgress, At: time.Now(), PlaybackSeconds: secs}
			continue
		}
		p.lines <- ports.ProcessEvent{Kind: ports.EventStderr, At: time.Now(), Line: line}
	}
}

// Terminate signals the whole group and waits for the pump to reap the child.
func (p *process) Terminate(grace, timeout time.Duration) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()

	if p.Exited() {
		return nil
	}
	waitCh := make(chan error, 1)
	go func() {
		<-p.waitDone
		waitCh <- p.waitErr
	}()
	err := procgroup.Terminate(p.cmd, waitCh, grace, timeout)
	if errors.Is(err, procgroup.ErrKillFailed) {
		return err
	}
	// An exit error after our own signal is the expected outcome.
	return nil
}

func (p *process) Kill() error {
	return procgroup.Kill(p.cmd, syscall.SIGKILL)
}

func (p *process) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return !procgroup.Alive(p.cmd.Process.Pid)
	}
}

func exitStatus(err error) ports.ExitStatus {
	if err == nil {
		return ports.ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ports.ExitStatus{Code: -1, Signal: ws.Signal()}
		}
		return ports.ExitStatus{Code: exitErr.ExitCode()}
	}
	return ports.ExitStatus{Code: -1}
}
