package core

import "container/heap"

// delayedTaskHeap implements heap.Interface over *Task, ordered by
// (DelayedRunTime, Sequence) so tasks due at the same instant on the
// same queue still come out in post order.
type delayedTaskHeap []*Task

func (h delayedTaskHeap) Len() int { return len(h) }

func (h delayedTaskHeap) Less(i, j int) bool {
	ti, tj := h[i].DelayedRunTime, h[j].DelayedRunTime
	if ti.Equal(tj) {
		return h[i].Sequence < h[j].Sequence
	}
	return ti.Before(tj)
}

func (h delayedTaskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedTaskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// DelayedIncomingQueue is a main-thread-only min-heap of not-yet-due
// delayed tasks, ordered by (delayed-run-time, sequence). It tracks how
// many currently-held tasks are high-resolution, and supports a sweep
// that removes cancelled tasks in a single O(n) pass.
type DelayedIncomingQueue struct {
	heap                delayedTaskHeap
	highResolutionCount int
}

// NewDelayedIncomingQueue returns an empty queue.
func NewDelayedIncomingQueue() *DelayedIncomingQueue {
	return &DelayedIncomingQueue{}
}

// Empty reports whether the queue holds no tasks.
func (q *DelayedIncomingQueue) Empty() bool {
	return len(q.heap) == 0
}

// Len returns the number of tasks currently held, cancelled or not.
func (q *DelayedIncomingQueue) Len() int {
	return len(q.heap)
}

// Peek returns the task with the smallest (DelayedRunTime, Sequence),
// or nil if empty. Cancelled tasks are not skipped by Peek; callers
// doing ready-task promotion must pop-and-discard cancelled entries
// themselves (see TaskQueue.moveReadyDelayedTasksToWorkQueue).
func (q *DelayedIncomingQueue) Peek() *Task {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Push inserts a delayed task, assigning it a heap position. The
// task's EnqueueOrder must still be EnqueueOrderNone; it is allocated
// only when the task leaves this queue for a WorkQueue.
func (q *DelayedIncomingQueue) Push(t *Task) {
	if t.HighResolution {
		q.highResolutionCount++
	}
	heap.Push(&q.heap, t)
}

// Pop removes and returns the due-most task.
func (q *DelayedIncomingQueue) Pop() (*Task, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	t := heap.Pop(&q.heap).(*Task)
	if t.HighResolution {
		q.highResolutionCount--
	}
	return t, true
}

// HighResolutionCount returns how many high-resolution tasks are
// currently held. Invariant: always equals the number of such tasks
// actually present in the heap.
func (q *DelayedIncomingQueue) HighResolutionCount() int {
	return q.highResolutionCount
}

// Sweep removes every cancelled task in a single pass and restores the
// heap invariant only if something was actually removed. It is O(n)
// and is meant to be called from ReclaimMemory, not the hot path.
func (q *DelayedIncomingQueue) Sweep() (removed int) {
	if len(q.heap) == 0 {
		return 0
	}

	kept := q.heap[:0:0]
	for _, t := range q.heap {
		if t.IsCancelled() {
			if t.HighResolution {
				q.highResolutionCount--
			}
			t.destroy()
			removed++
			continue
		}
		kept = append(kept, t)
	}
	if removed == 0 {
		return 0
	}

	q.heap = kept
	heap.Init(&q.heap)
	return removed
}

// DrainAll removes and returns every task currently held, cancelled or
// not, in no particular order, and forgets the queue's own tasks.
// Used when a queue is unregistered: nothing will ever promote these to
// a work queue again.
func (q *DelayedIncomingQueue) DrainAll() []*Task {
	drained := []*Task(q.heap)
	q.heap = nil
	q.highResolutionCount = 0
	return drained
}
