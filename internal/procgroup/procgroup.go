// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts encoder children in their own process group and
// tears the whole group down on stop.
package procgroup

import (
	"errors"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// KillGroup terminates an entire process group tree that this package did
// not start itself: SIGTERM, wait grace, SIGKILL, wait timeout.
// The process MUST have been spawned with procgroup.Set(cmd).
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
