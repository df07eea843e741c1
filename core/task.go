package core

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// TaskID uniquely identifies a posted Task for tracing and history
// purposes. It carries no ordering guarantee; EnqueueOrder is what
// orders execution.
type TaskID uint64

var taskIDGenerator atomic.Uint64

// GenerateTaskID returns a fresh, process-unique TaskID.
func GenerateTaskID() TaskID {
	return TaskID(taskIDGenerator.Add(1))
}

// IsZero reports whether the TaskID is the unset value.
func (id TaskID) IsZero() bool {
	return id == 0
}

// String renders the TaskID for logs and tracing.
func (id TaskID) String() string {
	return fmt.Sprintf("task-%d", uint64(id))
}

// Nestability controls whether a task may run inside a nested run loop.
// Non-nestable tasks posted while a nested loop is active are deferred
// to the outermost loop.
type Nestability int

const (
	Nestable Nestability = iota
	NonNestable
)

// Location identifies where a task was posted from, for diagnostics.
type Location struct {
	File     string
	Line     int
	Function string
}

func (l Location) String() string {
	if l.File == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Function)
}

// CaptureLocation walks up `skip` stack frames from its caller and
// records the call site. Callers typically pass skip=1 so the recorded
// location is their own caller's, not CaptureLocation's.
func CaptureLocation(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{}
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return Location{File: file, Line: line, Function: name}
}

// CancelHandle lets a poster cancel a task it no longer needs to run.
// It models the weak-reference cancellation spec.md describes as
// "the bound receiver's reference has expired" with an explicit,
// deterministic flag instead of relying on garbage-collector timing.
type CancelHandle struct {
	cancelled atomic.Bool
}

// NewCancelHandle returns a handle in the not-cancelled state.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{}
}

// Cancel marks the handle cancelled. Idempotent.
func (h *CancelHandle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
}

// IsCancelled reports the handle's current state.
func (h *CancelHandle) IsCancelled() bool {
	return h != nil && h.cancelled.Load()
}

// Callback is the unit of work a Task wraps.
type Callback func(ctx context.Context)

// Task is a posted unit of work as it travels through a TaskQueue: from
// incoming queue, to work queue, to execution. A Task is conceptually
// movable, not copyable; it is destroyed after it runs or is dropped.
type Task struct {
	ID       TaskID
	Callback Callback
	Location Location

	// QueueTime is stamped when the task is appended to its queue
	// (immediate path) and is used to evaluate delayed-fence
	// activation against cross-thread posts.
	QueueTime time.Time

	// Sequence is assigned at post time, unique within the owning
	// TaskQueue. It breaks ties between delayed tasks sharing a
	// DelayedRunTime and is never reused.
	Sequence uint64

	// EnqueueOrder is EnqueueOrderNone until the task enters a work
	// queue. For immediate tasks it is allocated at post time and
	// equals the sequence-of-posting; for delayed tasks it is
	// allocated only when the task is moved from the
	// DelayedIncomingQueue into a WorkQueue.
	EnqueueOrder EnqueueOrder

	// DelayedRunTime is the zero Time for immediate tasks.
	DelayedRunTime time.Time

	Nestability    Nestability
	HighResolution bool

	// IPCHash is opaque tracing metadata threaded through unchanged;
	// nothing in this package interprets it.
	IPCHash uint64

	// Cancel is nil for tasks that cannot be cancelled.
	Cancel *CancelHandle

	// onDestroy, if set, runs exactly once at the point this task
	// reaches the end of its life: right as it starts running, or when
	// it is dropped without ever running. Timer uses it to learn that
	// a task it posted is gone, the same event timer.cc's
	// scheduled_task_ weak back-pointer observes via invalidation,
	// without this package relying on garbage-collector timing.
	onDestroy func()
	destroyed atomic.Bool
}

// destroy runs the task's onDestroy hook, if any, exactly once. Safe to
// call more than once and safe to call on a task with no hook.
func (t *Task) destroy() {
	if t == nil || t.onDestroy == nil {
		return
	}
	if t.destroyed.CompareAndSwap(false, true) {
		t.onDestroy()
	}
}

// IsDelayed reports whether this task was posted with a delay.
func (t *Task) IsDelayed() bool {
	return !t.DelayedRunTime.IsZero()
}

// IsCancelled reports whether the task's cancel handle, if any, has
// fired.
func (t *Task) IsCancelled() bool {
	return t.Cancel != nil && t.Cancel.IsCancelled()
}

// Run invokes the callback. The callback is not copied out first since
// Task is already heap-allocated and passed by pointer; callers that
// need "destroy before observer notification" semantics drop their
// reference to the Task immediately after this returns.
//
// destroy runs before the callback, not after: a RepeatingTimer's
// callback re-arms the next occurrence of itself before returning, and
// that re-arm must be free to mark the timer running again without this
// task's own destruction immediately undoing it.
func (t *Task) Run(ctx context.Context) {
	if t.Callback == nil {
		panic(fmt.Sprintf("%s: nil callback", t.ID))
	}
	t.destroy()
	t.Callback(ctx)
}

// sequenceGenerator allocates per-queue monotonic sequence numbers.
type sequenceGenerator struct {
	counter atomic.Uint64
}

func (g *sequenceGenerator) next() uint64 {
	return g.counter.Add(1)
}
