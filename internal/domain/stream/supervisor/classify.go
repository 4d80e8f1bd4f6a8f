// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"strings"
	"syscall"

	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
)

// ExitClass is the supervisor's reading of how an encoder ended.
type ExitClass string

const (
	ExitFinished          ExitClass = "finished"
	ExitStoppedExternally ExitClass = "stopped_externally"
	ExitCrash             ExitClass = "crash"
	ExitTransient         ExitClass = "transient"
	ExitFailed            ExitClass = "failed"
)

// fatalSignals are crashes that are worth a restart.
var fatalSignals = map[syscall.Signal]bool{
	syscall.SIGSEGV: true,
	syscall.SIGBUS:  true,
	syscall.SIGABRT: true,
	syscall.SIGILL:  true,
	syscall.SIGFPE:  true,
	syscall.SIGKILL: true,
}

// transientPatterns match diagnostics of network trouble on the ingest side.
// Matching is case-insensitive.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"connection timed out",
	"connection refused",
	"operation timed out",
	"network is unreachable",
	"no route to host",
	"input/output error",
	"end of file",
	"error number -104",
	"error number -110",
	"error number -32",
	"rtmp_sendpacket",
	"failed to update header",
	"error writing trailer",
	"server returned 5",
	"timeout",
}

// Classify maps an exit status plus the session's trailing diagnostics to
// an ExitClass. It never reports a stop we requested ourselves; the caller
// checks that first.
func Classify(status ports.ExitStatus, diag []string) ExitClass {
	if status.Signaled() {
		switch {
		case status.Signal == syscall.SIGTERM || status.Signal == syscall.SIGINT:
			return ExitStoppedExternally
		case fatalSignals[status.Signal]:
			return ExitCrash
		}
		return ExitFailed
	}

	switch {
	case status.Code == 0:
		return ExitFinished
	case status.Code == 255 && receivedStopSignal(diag):
		// ffmpeg traps SIGINT/SIGTERM and exits 255 after flushing.
		return ExitStoppedExternally
	case status.Code > 128 && fatalSignals[syscall.Signal(status.Code-128)]:
		return ExitCrash
	case IsTransient(diag):
		return ExitTransient
	}
	return ExitFailed
}

// IsTransient reports whether any line matches a transient failure pattern.
func IsTransient(lines []string) bool {
	for _, line := range lines {
		l := strings.ToLower(line)
		for _, p := range transientPatterns {
			if strings.Contains(l, p) {
				return true
			}
		}
	}
	return false
}

func receivedStopSignal(lines []string) bool {
	for _, line := range lines {
		l := strings.ToLower(line)
		if strings.Contains(l, "received signal 15") || strings.Contains(l, "received signal 2") {
			return true
		}
	}
	return false
}

// isErrorLine selects the stderr lines that make it into the operator log.
func isErrorLine(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "error") || strings.Contains(l, "failed")
}
