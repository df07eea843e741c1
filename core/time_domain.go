package core

import (
	"container/heap"
	"time"
)

// wakeUpEntry is one TaskQueue's next-wake-up registration in a
// TimeDomain's heap.
type wakeUpEntry struct {
	queue   *TaskQueue
	wakeUp  time.Time
	highRes bool
	index   int
}

type wakeUpHeap []*wakeUpEntry

func (h wakeUpHeap) Len() int            { return len(h) }
func (h wakeUpHeap) Less(i, j int) bool  { return h[i].wakeUp.Before(h[j].wakeUp) }
func (h wakeUpHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeUpHeap) Push(x any) {
	e := x.(*wakeUpEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *wakeUpHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimeDomain owns a min-heap of per-queue next-wake-ups, ordered by
// wake-up time; queues with equal wake-up times come out in no defined
// order. Each queue appears at most once. It is main-thread-only and
// holds no locks of its own.
type TimeDomain struct {
	name    string
	manager *SequenceManager

	heap    wakeUpHeap
	byQueue map[*TaskQueue]*wakeUpEntry

	highResCount int
}

// NewTimeDomain returns an empty TimeDomain bound to manager. name is
// used only for diagnostics.
func NewTimeDomain(name string, manager *SequenceManager) *TimeDomain {
	return &TimeDomain{
		name:    name,
		manager: manager,
		byQueue: make(map[*TaskQueue]*wakeUpEntry),
	}
}

// Name returns the domain's diagnostic name.
func (td *TimeDomain) Name() string { return td.name }

// Now returns the current time as observed by this domain's clock,
// which is its manager's SequenceManager.now(): wall-clock time.Now().
// All queues bound to one manager share that one notion of "now"; there
// is no virtual-clock hook.
func (td *TimeDomain) Now() time.Time {
	return td.manager.now()
}

func (td *TimeDomain) peekMin() (time.Time, bool) {
	if len(td.heap) == 0 {
		return time.Time{}, false
	}
	return td.heap[0].wakeUp, true
}

// SetNextWakeUpForQueue inserts, updates, or removes q's entry in the
// heap depending on whether wakeUp is non-nil. After the change, if
// the heap's minimum moved, the manager is told to reprogram its timer
// (or, if the new minimum already lies in the past, to dispatch
// immediately).
func (td *TimeDomain) SetNextWakeUpForQueue(q *TaskQueue, wakeUp *time.Time) {
	oldMin, hadMin := td.peekMin()

	entry, tracked := td.byQueue[q]
	highRes := false
	if peek := q.delayedIncomingQueue.Peek(); peek != nil {
		highRes = peek.HighResolution
	}

	switch {
	case wakeUp == nil:
		if tracked {
			td.removeEntry(entry)
		}
	case tracked:
		entry.wakeUp = *wakeUp
		if entry.highRes != highRes {
			if highRes {
				td.highResCount++
			} else {
				td.highResCount--
			}
			entry.highRes = highRes
		}
		heap.Fix(&td.heap, entry.index)
		td.manager.config.Metrics.RecordWakeUpScheduled(q.name, wakeUp.Sub(td.manager.now()))
	default:
		e := &wakeUpEntry{queue: q, wakeUp: *wakeUp, highRes: highRes}
		heap.Push(&td.heap, e)
		td.byQueue[q] = e
		if highRes {
			td.highResCount++
		}
		td.manager.config.Metrics.RecordWakeUpScheduled(q.name, wakeUp.Sub(td.manager.now()))
	}

	newMin, hasMin := td.peekMin()
	if !hasMin {
		return
	}
	if hadMin && newMin.Equal(oldMin) {
		return
	}

	if !newMin.After(td.manager.now()) {
		td.manager.RequestDoWork()
	} else {
		td.manager.SetNextDelayedDoWork(newMin)
	}
}

func (td *TimeDomain) removeEntry(e *wakeUpEntry) {
	heap.Remove(&td.heap, e.index)
	delete(td.byQueue, e.queue)
	if e.highRes {
		td.highResCount--
	}
}

// UnregisterQueue removes q's entry from the heap, if any. Must be
// called on the owning thread.
func (td *TimeDomain) UnregisterQueue(q *TaskQueue) {
	if e, ok := td.byQueue[q]; ok {
		td.removeEntry(e)
	}
}

// NextScheduledRunTime returns the heap's minimum wake-up time, or
// false if no queue has one registered.
func (td *TimeDomain) NextScheduledRunTime() (time.Time, bool) {
	return td.peekMin()
}

// HighResolutionWakeUpCount returns how many registered queues have a
// high-resolution task as their next wake-up.
func (td *TimeDomain) HighResolutionWakeUpCount() int {
	return td.highResCount
}

// MoveReadyDelayedTasksToWorkQueues pops every (wake-up, queue) whose
// wake-up has arrived and promotes that queue's ready delayed tasks
// into its delayed work queue.
func (td *TimeDomain) MoveReadyDelayedTasksToWorkQueues(now time.Time) {
	for {
		minTime, ok := td.peekMin()
		if !ok || minTime.After(now) {
			return
		}
		entry := heap.Pop(&td.heap).(*wakeUpEntry)
		delete(td.byQueue, entry.queue)
		if entry.highRes {
			td.highResCount--
		}
		entry.queue.moveReadyDelayedTasksToWorkQueue(now)
	}
}
