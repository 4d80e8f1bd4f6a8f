// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the relay daemon.
// Labels are bounded enums; stream ids never appear as label values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamStartTotal counts start attempts by result and reason code.
	StreamStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_start_total",
		Help: "Total number of stream start attempts by result and reason",
	}, []string{"result", "reason", "trigger"})

	// StreamStartLatency tracks the time from start request to persisted live status.
	StreamStartLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_stream_start_latency_seconds",
		Help:    "Time from start request to persisted live status",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// StreamExitTotal counts encoder exits by classification.
	StreamExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_exit_total",
		Help: "Total number of encoder exits by classification",
	}, []string{"class"})

	// StreamRestartTotal counts automatic restarts by cause.
	StreamRestartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_restart_total",
		Help: "Total number of automatic encoder restarts by cause",
	}, []string{"cause"})

	// StreamStopTotal counts stop outcomes.
	StreamStopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_stop_total",
		Help: "Total number of stream stops by trigger",
	}, []string{"trigger"})

	// ActiveStreams is the number of live encoder handles.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_streams",
		Help: "Current number of supervised encoder processes",
	})

	// SessionDuration observes how long each encoder session ran.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_session_duration_seconds",
		Help:    "Duration of individual encoder sessions",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
	})

	// ReconcileCorrectionsTotal counts status corrections made by the reconciler.
	ReconcileCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconcile_corrections_total",
		Help: "Total number of status corrections by kind",
	}, []string{"kind"})

	// ReconcileRunsTotal counts reconciliation sweeps by outcome.
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconcile_runs_total",
		Help: "Total number of reconciliation sweeps by outcome",
	}, []string{"outcome"})

	// ZombiesReapedTotal counts handles whose process had silently exited.
	ZombiesReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_zombies_reaped_total",
		Help: "Total number of dead encoder handles removed by the sweeper",
	})

	// SchedulerTriggersTotal counts scheduler actions.
	SchedulerTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_scheduler_triggers_total",
		Help: "Total number of scheduler actions by kind and result",
	}, []string{"kind", "result"})

	// PendingTerminations is the number of armed termination timers.
	PendingTerminations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_terminations",
		Help: "Current number of armed stream termination timers",
	})

	// NotificationsTotal counts notifier deliveries by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notifications_total",
		Help: "Total number of notifications by kind and result",
	}, []string{"kind", "result"})

	// ProbeTotal counts source duration lookups by source.
	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_probe_total",
		Help: "Total number of source duration lookups by source (record, cache, ffprobe, error)",
	}, []string{"source"})

	// ProcTerminateTotal counts signals sent to encoder process groups.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_proc_terminate_total",
		Help: "Total number of termination signals sent by signal and result",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts how terminated processes were reaped.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_proc_wait_total",
		Help: "Total number of reaped processes by outcome",
	}, []string{"outcome"})
)

// RecordStart records the outcome of a start attempt.
func RecordStart(result, reason, trigger string) {
	StreamStartTotal.WithLabelValues(result, reason, trigger).Inc()
}

// ObserveStartLatency records a successful start latency.
func ObserveStartLatency(d time.Duration) {
	StreamStartLatency.Observe(d.Seconds())
}

// RecordExit records an encoder exit classification.
func RecordExit(class string) {
	StreamExitTotal.WithLabelValues(class).Inc()
}

// RecordRestart records an automatic restart.
func RecordRestart(cause string) {
	StreamRestartTotal.WithLabelValues(cause).Inc()
}

// RecordStop records a stop by trigger (manual, duration, reconcile, shutdown).
func RecordStop(trigger string) {
	StreamStopTotal.WithLabelValues(trigger).Inc()
}

// ObserveSession records the duration of one encoder session.
func ObserveSession(d time.Duration) {
	SessionDuration.Observe(d.Seconds())
}

// RecordReconcileCorrection records a reconciler correction.
func RecordReconcileCorrection(kind string) {
	ReconcileCorrectionsTotal.WithLabelValues(kind).Inc()
}

// RecordReconcileRun records the outcome of a reconciliation sweep.
func RecordReconcileRun(outcome string) {
	ReconcileRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordSchedulerTrigger records a scheduler action.
func RecordSchedulerTrigger(kind, result string) {
	SchedulerTriggersTotal.WithLabelValues(kind, result).Inc()
}

// RecordNotification records a notifier delivery.
func RecordNotification(kind, result string) {
	NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordProbe records where a source duration came from.
func RecordProbe(source string) {
	ProbeTotal.WithLabelValues(source).Inc()
}

// IncProcTerminate records a termination signal.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
