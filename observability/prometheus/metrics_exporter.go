package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-sequencer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	fenceBlockedTotal   *prom.CounterVec
	wakeUpScheduledSecs *prom.HistogramVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "sequencer"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"queue", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"queue"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"queue", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth.",
	}, []string{"queue"})
	fenceBlockedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fence_blocked_total",
		Help:      "Total number of times a queue reported a fence-blocked task.",
	}, []string{"queue"})
	wakeUpVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "wake_up_delay_seconds",
		Help:      "Delay from now until a queue's newly scheduled wake-up.",
		Buckets:   prom.DefBuckets,
	}, []string{"queue"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if fenceBlockedVec, err = registerCollector(reg, fenceBlockedVec); err != nil {
		return nil, err
	}
	if wakeUpVec, err = registerCollector(reg, wakeUpVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		fenceBlockedTotal:   fenceBlockedVec,
		wakeUpScheduledSecs: wakeUpVec,
	}, nil
}

// RecordTaskExecuted records a completed task's execution duration.
func (m *MetricsExporter) RecordTaskExecuted(queueName string, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(queueName, "unknown"), priorityLabel(priority)).Observe(duration.Seconds())
}

// RecordPanic records a task panic on queueName.
func (m *MetricsExporter) RecordPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordQueueDepth records queueName's current pending task count.
func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queueName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records a rejected post to queueName.
func (m *MetricsExporter) RecordTaskRejected(queueName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordFenceBlocked records that queueName currently has a task
// blocked behind its fence.
func (m *MetricsExporter) RecordFenceBlocked(queueName string) {
	if m == nil {
		return
	}
	m.fenceBlockedTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordWakeUpScheduled records the delay until queueName's newly
// scheduled wake-up.
func (m *MetricsExporter) RecordWakeUpScheduled(queueName string, delay time.Duration) {
	if m == nil {
		return
	}
	m.wakeUpScheduledSecs.WithLabelValues(normalizeLabel(queueName, "unknown")).Observe(delay.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func priorityLabel(priority core.Priority) string {
	return priority.String()
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
