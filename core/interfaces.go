package core

import "time"

// =============================================================================
// PanicHandler: called when a task panics during execution
// =============================================================================

// PanicHandler is invoked with the queue name, the task that panicked,
// and the recovered panic value. A nil PanicHandler on
// SequenceManagerConfig falls back to logging the panic via the
// configured Logger; either way the manager's dispatch loop always
// recovers and continues with the next task.
type PanicHandler func(queueName string, t *Task, panicInfo any)

// =============================================================================
// Metrics: observability hooks for the dispatch loop
// =============================================================================

// Metrics defines the interface for collecting task-scheduling metrics.
// Implementations can send metrics to monitoring systems (Prometheus,
// StatsD, etc.). All methods should be non-blocking and fast, since
// they are called from the main dispatch loop.
type Metrics interface {
	// RecordTaskExecuted records that a task ran to completion (or
	// panicked, counted separately via RecordPanic) on queueName, with
	// its priority and how long it took.
	RecordTaskExecuted(queueName string, priority Priority, duration time.Duration)

	// RecordPanic records that a task on queueName panicked.
	RecordPanic(queueName string, panicInfo any)

	// RecordTaskRejected records that a post to queueName was rejected
	// by the queue. The only reason reported is "unregistered"; a post
	// refused by a poster's closed operations gate is not recorded.
	RecordTaskRejected(queueName string, reason string)

	// RecordQueueDepth records queueName's current pending task count.
	// Intended to be sampled periodically, not on every post.
	RecordQueueDepth(queueName string, depth int)

	// RecordFenceBlocked records that queueName currently has a task
	// blocked behind its fence.
	RecordFenceBlocked(queueName string)

	// RecordWakeUpScheduled records that queueName's next wake-up moved,
	// with the delay from now until that wake-up.
	RecordWakeUpScheduled(queueName string, delay time.Duration)
}

// NoOpMetrics discards every recorded metric. It is the default when
// no Metrics implementation is configured.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordTaskExecuted(queueName string, priority Priority, duration time.Duration) {}
func (NoOpMetrics) RecordPanic(queueName string, panicInfo any)                                    {}
func (NoOpMetrics) RecordTaskRejected(queueName string, reason string)                              {}
func (NoOpMetrics) RecordQueueDepth(queueName string, depth int)                                    {}
func (NoOpMetrics) RecordFenceBlocked(queueName string)                                             {}
func (NoOpMetrics) RecordWakeUpScheduled(queueName string, delay time.Duration)                     {}

// =============================================================================
// RejectedTaskHandler: called when a post is rejected
// =============================================================================

// RejectedTaskHandler is invoked when a TaskQueue refuses a post, with
// the queue name and a short reason (always "unregistered"). A nil
// handler on SequenceManagerConfig means rejections are silently dropped, matching §7's "rejected posts return false;
// callers decide what that means" error-handling stance.
type RejectedTaskHandler func(queueName string, reason string)
