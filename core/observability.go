package core

import "time"

// TaskQueueSnapshot is a point-in-time diagnostic view of one
// TaskQueue, shaped after §6's tracing document: enough to answer "why
// isn't this queue running" without exposing internal pointers.
type TaskQueueSnapshot struct {
	Name                  string
	Enabled               bool
	Unregistered          bool
	Priority              Priority
	TaskQueueID           uint64
	TimeDomainName        string
	ImmediatePendingTasks int
	DelayedPendingTasks   int
	HasActiveFence        bool
	DelayedFenceSeconds   *float64
	NextWakeUp            *time.Time

	// Tasks lists every task currently held across the any-thread
	// staging queue, immediate work queue, delayed work queue, and
	// delayed incoming heap, in that order. Only populated by SequenceManager.SnapshotVerbose; nil
	// otherwise, consistent with §6's split between the summary and
	// verbose tracing documents.
	Tasks []TaskSnapshot
}

// TaskSnapshot is a point-in-time diagnostic view of a single task
// still held by a queue, per §6's verbose per-task listing.
type TaskSnapshot struct {
	PostedFrom                        Location
	EnqueueOrder                      EnqueueOrder
	SequenceNum                       uint64
	Nestable                          bool
	IsHighRes                         bool
	IsCancelled                       bool
	DelayedRunTime                    *time.Time
	DelayedRunTimeMillisecondsFromNow *float64
	IPCHash                           uint64
}

// Snapshot is a point-in-time view of every queue a SequenceManager
// owns.
type Snapshot struct {
	Queues []TaskQueueSnapshot
}

// snapshot captures q's current diagnostic state. Main-thread-only for
// the fields it reads without q.mu, consistent with every other
// main-thread-only TaskQueue method. verbose additionally populates
// the per-task listing; summary-only callers (the Prometheus
// SnapshotPoller, sampled every tick) skip the allocation.
func (q *TaskQueue) snapshot(verbose bool) TaskQueueSnapshot {
	q.mu.Lock()
	unregistered := q.unregistered
	staged := len(q.immediateIncomingQueue)
	var timeDomainName string
	if q.timeDomain != nil {
		timeDomainName = q.timeDomain.Name()
	}
	q.mu.Unlock()

	snap := TaskQueueSnapshot{
		Name:                  q.name,
		Enabled:               q.enabled,
		Unregistered:          unregistered,
		Priority:              q.priority,
		TaskQueueID:           q.id,
		TimeDomainName:        timeDomainName,
		ImmediatePendingTasks: q.immediateWorkQueue.Size() + staged,
		DelayedPendingTasks:   q.delayedWorkQueue.Size() + q.delayedIncomingQueue.Len(),
		HasActiveFence:        q.HasActiveFence(),
		NextWakeUp:            q.scheduledWakeUp,
	}
	if q.delayedFence != nil {
		now := q.manager.now()
		secs := q.delayedFence.Sub(now).Seconds()
		snap.DelayedFenceSeconds = &secs
	}
	if verbose {
		snap.Tasks = q.verboseTaskSnapshots()
	}
	return snap
}

// verboseTaskSnapshots lists every task currently held by q, across
// the staging queue, both work queues and the delayed incoming heap,
// as TaskSnapshots.
func (q *TaskQueue) verboseTaskSnapshots() []TaskSnapshot {
	now := q.manager.now()

	q.mu.Lock()
	staged := append([]*Task(nil), q.immediateIncomingQueue...)
	q.mu.Unlock()

	tasks := make([]TaskSnapshot, 0, len(staged)+q.immediateWorkQueue.Size()+q.delayedWorkQueue.Size()+q.delayedIncomingQueue.Len())
	for _, t := range staged {
		tasks = append(tasks, taskToSnapshot(t, now))
	}
	for _, t := range q.immediateWorkQueue.tasks {
		tasks = append(tasks, taskToSnapshot(t, now))
	}
	for _, t := range q.delayedWorkQueue.tasks {
		tasks = append(tasks, taskToSnapshot(t, now))
	}
	for _, t := range q.delayedIncomingQueue.heap {
		tasks = append(tasks, taskToSnapshot(t, now))
	}
	return tasks
}

func taskToSnapshot(t *Task, now time.Time) TaskSnapshot {
	ts := TaskSnapshot{
		PostedFrom:   t.Location,
		EnqueueOrder: t.EnqueueOrder,
		SequenceNum:  t.Sequence,
		Nestable:     t.Nestability == Nestable,
		IsHighRes:    t.HighResolution,
		IsCancelled:  t.IsCancelled(),
		IPCHash:      t.IPCHash,
	}
	if !t.DelayedRunTime.IsZero() {
		runTime := t.DelayedRunTime
		ts.DelayedRunTime = &runTime
		ms := float64(t.DelayedRunTime.Sub(now).Milliseconds())
		ts.DelayedRunTimeMillisecondsFromNow = &ms
	}
	return ts
}
