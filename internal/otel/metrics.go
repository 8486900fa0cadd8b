package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	transitionsCounter  metric.Int64Counter
	transitionDuration  metric.Float64Histogram
	claimConflicts      metric.Int64Counter
	notifyFailures      metric.Int64Counter
	sseEventsCounter    metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		transitionsCounter, err = m.Int64Counter("taskflow_transitions_total", metric.WithDescription("Total successful task transitions (assign, claim, submit, approve, reject, reassign)"))
		if err != nil {
			return
		}
		transitionDuration, err = m.Float64Histogram("taskflow_transition_duration_seconds", metric.WithDescription("Transition operation duration in seconds"))
		if err != nil {
			return
		}
		claimConflicts, err = m.Int64Counter("taskflow_claim_conflicts_total", metric.WithDescription("Claims lost to a concurrent worker"))
		if err != nil {
			return
		}
		notifyFailures, err = m.Int64Counter("taskflow_notify_failures_total", metric.WithDescription("Notification deliveries that failed (logged and swallowed)"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("taskflow_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("taskflow_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTransition records one successful transition and its duration.
func RecordTransition(ctx context.Context, event, from, to string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrEvent.String(event), AttrFrom.String(from), AttrTo.String(to))
	if transitionsCounter != nil {
		transitionsCounter.Add(ctx, 1, attrs)
	}
	if transitionDuration != nil {
		transitionDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordClaimConflict records a claim that lost the race for a pool task.
func RecordClaimConflict(ctx context.Context, role string) {
	if claimConflicts != nil {
		claimConflicts.Add(ctx, 1, metric.WithAttributes(AttrRole.String(role)))
	}
}

// RecordNotifyFailure records a failed notification delivery.
func RecordNotifyFailure(ctx context.Context, sink string) {
	if notifyFailures != nil {
		notifyFailures.Add(ctx, 1, metric.WithAttributes(AttrSink.String(sink)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns task counts keyed by status, for the tasks gauge.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and optionally registers a callback
// for the tasks-by-status gauge. If taskCount is nil, the gauge is not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("taskflow_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range taskCount() {
			o.ObserveFloat64(tasksGauge, float64(n), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
