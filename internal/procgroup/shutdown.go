// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/streamrelay/internal/metrics"
)

// Terminate stops a process group started with Set.
// It sends SIGTERM, waits up to grace for waitCh to yield, then sends SIGKILL
// and waits up to timeout. It returns the error received from waitCh, or
// ErrKillFailed when the process survived both phases.
// waitCh must deliver exactly once when the process is reaped; a closed
// channel counts as already reaped. Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	case <-time.After(timeout):
		metrics.IncProcWait("unreaped")
		return ErrKillFailed
	}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
