package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// FenceMode selects how InsertFence computes the new fence value.
type FenceMode int

const (
	// FenceNow blocks only tasks posted after the fence is installed.
	FenceNow FenceMode = iota
	// FenceBeginningOfTime blocks the queue entirely until removed.
	FenceBeginningOfTime
)

// TaskQueueSpec carries TaskQueue construction options.
type TaskQueueSpec struct {
	Name                    string
	Priority                Priority
	ShouldMonitorQuiescence bool
	ShouldNotifyObservers   bool
	DelayedFenceAllowed     bool
}

// DefaultTaskQueueSpec returns a spec with observers enabled and normal
// priority, matching the common case.
func DefaultTaskQueueSpec(name string) TaskQueueSpec {
	return TaskQueueSpec{
		Name:                  name,
		Priority:              PriorityNormal,
		ShouldNotifyObservers: true,
	}
}

// TaskQueueObserver is notified when a queue's next wake-up time
// changes, on the main thread, while no queue lock is held.
type TaskQueueObserver interface {
	OnQueueNextWakeUpChanged(wakeUp time.Time)
}

// TaskObserver receives per-task lifecycle notifications when a queue's
// ShouldNotifyObservers spec option is set.
type TaskObserver interface {
	WillProcessTask(t *Task, wasBlockedOrLowPriority bool)
	DidProcessTask(t *Task)
}

var taskQueueIDGenerator atomic.Uint64

// TaskQueue is the user-visible queue: one pair of main-thread-only
// work queues (immediate, delayed), one cross-thread staging queue, a
// current fence and optional delayed fence, enabled/disabled state,
// observers, and a priority. It mediates cross-thread posting through
// GuardedTaskPoster-backed TaskRunners.
type TaskQueue struct {
	id uint64

	manager *SequenceManager
	seqGen  sequenceGenerator

	// ---- main-thread-only state; touched only by the owning
	// SequenceManager's dispatch loop. ----
	name                    string
	priority                Priority
	shouldMonitorQuiescence bool
	shouldNotifyObservers   bool
	delayedFenceAllowed     bool

	immediateWorkQueue   *WorkQueue
	delayedWorkQueue     *WorkQueue
	delayedIncomingQueue *DelayedIncomingQueue

	needsReload atomic.Bool

	currentFence EnqueueOrder
	delayedFence *time.Time

	enabled      bool
	disabledAt   *time.Time
	observer     TaskQueueObserver
	taskObservers []TaskObserver

	scheduledWakeUp *time.Time

	// unblockedAtNormalOrHigherPriority is the enqueue order at which
	// this queue most recently became unblocked while running at
	// normal-or-higher priority (spec §4.4). wasBlockedOrLowPriority
	// compares a task's own enqueue order against it.
	unblockedAtNormalOrHigherPriority EnqueueOrder

	// ---- any-thread state; guarded by mu. ----
	mu                                   sync.Mutex
	immediateIncomingQueue               []*Task
	timeDomain                           *TimeDomain
	unregistered                        bool
	postImmediateTaskShouldScheduleWork bool
}

// NewTaskQueue creates an enabled TaskQueue bound to manager. The queue
// is not yet added to manager's WorkQueueSets and is left unbound from
// any TimeDomain; SequenceManager.RegisterTaskQueue does both.
func NewTaskQueue(manager *SequenceManager, spec TaskQueueSpec) *TaskQueue {
	name := spec.Name
	if name == "" {
		name = "task_queue"
	}

	q := &TaskQueue{
		id:                      taskQueueIDGenerator.Add(1),
		manager:                 manager,
		name:                    name,
		priority:                spec.Priority,
		shouldMonitorQuiescence: spec.ShouldMonitorQuiescence,
		shouldNotifyObservers:   spec.ShouldNotifyObservers,
		delayedFenceAllowed:     spec.DelayedFenceAllowed,
		immediateWorkQueue:      NewWorkQueue(name + ":immediate"),
		delayedWorkQueue:        NewWorkQueue(name + ":delayed"),
		delayedIncomingQueue:    NewDelayedIncomingQueue(),
		enabled:                 true,
	}
	q.immediateWorkQueue.owner = q
	q.delayedWorkQueue.owner = q
	q.mu.Lock()
	q.refreshAnyThreadHintsLocked()
	q.mu.Unlock()
	return q
}

// ID returns the queue's tracing identifier.
func (q *TaskQueue) ID() uint64 { return q.id }

// Name returns the debug/tracing name.
func (q *TaskQueue) Name() string { return q.name }

// GetQueuePriority returns the current priority band.
func (q *TaskQueue) GetQueuePriority() Priority { return q.priority }

// SetQueuePriority moves the queue to a new priority band in the
// manager's WorkQueueSets. Main-thread-only.
func (q *TaskQueue) SetQueuePriority(p Priority) {
	if p == q.priority {
		return
	}
	q.manager.changeQueuePriority(q, q.priority, p)
	q.priority = p
}

// SetQueueEnabled enables or disables the queue. A disabled queue never
// contributes ready tasks to selection, even if unfenced.
func (q *TaskQueue) SetQueueEnabled(enabled bool) {
	if q.enabled == enabled {
		return
	}
	q.enabled = enabled
	if !enabled {
		now := q.manager.now()
		q.disabledAt = &now
	} else {
		q.disabledAt = nil
		if ready(q.immediateWorkQueue) || ready(q.delayedWorkQueue) {
			q.manager.ScheduleWork()
		}
	}
	q.mu.Lock()
	q.refreshAnyThreadHintsLocked()
	q.mu.Unlock()
}

// IsQueueEnabled reports the queue's enabled state.
func (q *TaskQueue) IsQueueEnabled() bool { return q.enabled }

// SetTimeDomain binds (or rebinds) the queue to a TimeDomain.
func (q *TaskQueue) SetTimeDomain(td *TimeDomain) {
	q.mu.Lock()
	old := q.timeDomain
	q.timeDomain = td
	q.mu.Unlock()

	if old != nil {
		old.UnregisterQueue(q)
	}
	q.updateScheduledWakeUp()
}

// GetTimeDomain returns the queue's bound TimeDomain, or nil.
func (q *TaskQueue) GetTimeDomain() *TimeDomain {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timeDomain
}

// CreateTaskRunner returns a reference-counted-in-spirit handle bound
// to this queue with a fixed task-type tag. The runner remains valid
// after the queue is unregistered; posting through it is then simply
// rejected.
func (q *TaskQueue) CreateTaskRunner(taskType string) *TaskRunner {
	return &TaskRunner{
		poster: &GuardedTaskPoster{
			queue: q,
			gate:  newOperationsGate(),
		},
		taskType: taskType,
	}
}

// InsertFence installs a fence per mode, returning true iff the front
// task's blocked state changed as a result.
func (q *TaskQueue) InsertFence(mode FenceMode) bool {
	var order EnqueueOrder
	switch mode {
	case FenceBeginningOfTime:
		order = EnqueueOrderBlockingFence
	default:
		order = q.manager.enqueueOrder.GenerateNext()
	}
	return q.installFence(order)
}

// InsertFenceAt installs a delayed fence: a deadline at which the
// queue auto-installs a FenceNow fence the moment an incoming task's
// queue-time crosses it. Requires DelayedFenceAllowed.
func (q *TaskQueue) InsertFenceAt(t time.Time) {
	if !q.delayedFenceAllowed {
		panic("task_queue: InsertFenceAt requires DelayedFenceAllowed")
	}
	deadline := t
	q.delayedFence = &deadline
}

func (q *TaskQueue) installFence(order EnqueueOrder) bool {
	changedImmediate := q.immediateWorkQueue.InsertFence(order)
	changedDelayed := q.delayedWorkQueue.InsertFence(order)
	q.currentFence = order
	changed := changedImmediate || changedDelayed
	if (changedImmediate && q.immediateWorkQueue.BlockedByFence()) || (changedDelayed && q.delayedWorkQueue.BlockedByFence()) {
		q.manager.config.Metrics.RecordFenceBlocked(q.name)
	}
	return changed
}

// RemoveFence clears any installed fence, waking the manager if that
// unblocked a front task.
func (q *TaskQueue) RemoveFence() {
	unblockedImmediate := q.immediateWorkQueue.RemoveFence()
	unblockedDelayed := q.delayedWorkQueue.RemoveFence()
	q.currentFence = EnqueueOrderNone
	q.delayedFence = nil

	if (unblockedImmediate || unblockedDelayed) && q.enabled {
		q.recordUnblocked()
		q.manager.ScheduleWork()
	}
}

func (q *TaskQueue) recordUnblocked() {
	if q.priority <= PriorityNormal {
		q.unblockedAtNormalOrHigherPriority = q.manager.enqueueOrder.GenerateNext()
	}
}

// wasBlockedOrLowPriority reports whether a task with the given
// enqueue order was either sitting behind a fence that has since been
// removed, or is only now running because its queue's priority is low
// enough that normal-or-higher priority work kept cutting in front of
// it: both cases share the same observable signal, enqueue_order
// falling behind the order at which the queue most recently became
// unblocked at normal-or-higher priority.
func (q *TaskQueue) wasBlockedOrLowPriority(enqueueOrder EnqueueOrder) bool {
	return enqueueOrder < q.unblockedAtNormalOrHigherPriority
}

// HasActiveFence reports whether a fence is currently installed.
func (q *TaskQueue) HasActiveFence() bool {
	return q.currentFence != EnqueueOrderNone
}

// BlockedByFence reports whether every one of the immediate work
// queue, delayed work queue, and the any-thread incoming queue's front
// task is blocked (or absent), per the data-model invariant.
func (q *TaskQueue) BlockedByFence() bool {
	if !q.HasActiveFence() {
		return false
	}
	if !q.immediateWorkQueue.Empty() && !q.immediateWorkQueue.BlockedByFence() {
		return false
	}
	if !q.delayedWorkQueue.Empty() && !q.delayedWorkQueue.BlockedByFence() {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.immediateIncomingQueue) > 0 {
		if q.immediateIncomingQueue[0].EnqueueOrder < q.currentFence {
			return false
		}
	}
	return true
}

// GetNumberOfPendingTasks returns the total task count across both
// work queues, the delayed incoming heap, and the staging queue.
func (q *TaskQueue) GetNumberOfPendingTasks() int {
	q.mu.Lock()
	staged := len(q.immediateIncomingQueue)
	q.mu.Unlock()
	return q.immediateWorkQueue.Size() + q.delayedWorkQueue.Size() + q.delayedIncomingQueue.Len() + staged
}

// HasTaskToRunImmediately reports whether either work queue has a
// ready (unblocked) front task while the queue is enabled. Tasks still
// staged in the any-thread incoming queue count too: they become ready
// on the next reload and callers like SequenceManager.IsIdle must not
// treat them as absent just because that reload hasn't run yet.
func (q *TaskQueue) HasTaskToRunImmediately() bool {
	if !q.enabled {
		return false
	}
	if ready(q.immediateWorkQueue) || ready(q.delayedWorkQueue) {
		return true
	}
	q.mu.Lock()
	staged := len(q.immediateIncomingQueue) > 0
	q.mu.Unlock()
	return staged
}

// IsEmpty reports whether the queue holds no tasks anywhere.
func (q *TaskQueue) IsEmpty() bool {
	return q.GetNumberOfPendingTasks() == 0
}

// AddTaskObserver registers a per-task observer.
func (q *TaskQueue) AddTaskObserver(o TaskObserver) {
	q.taskObservers = append(q.taskObservers, o)
}

// RemoveTaskObserver unregisters a per-task observer.
func (q *TaskQueue) RemoveTaskObserver(o TaskObserver) {
	for i, existing := range q.taskObservers {
		if existing == o {
			q.taskObservers = append(q.taskObservers[:i], q.taskObservers[i+1:]...)
			return
		}
	}
}

// SetObserver installs the wake-up-change observer, replacing any
// previous one.
func (q *TaskQueue) SetObserver(o TaskQueueObserver) {
	q.observer = o
}

// ReclaimMemory sweeps cancelled tasks out of the delayed incoming
// queue and shrinks over-provisioned work-queue backing arrays. Safe
// to call periodically; it is not on the hot path.
func (q *TaskQueue) ReclaimMemory(now time.Time) {
	q.delayedIncomingQueue.Sweep()
	q.immediateWorkQueue.MaybeShrink()
	q.delayedWorkQueue.MaybeShrink()
}

// Unregister marks the queue unregistered and drops every task it is
// still holding: staged any-thread posts, both work queues, and the
// delayed incoming queue. The caller is responsible for detaching q
// from its TimeDomain and from WorkQueueSets selection first
// (SequenceManager.removeQueueFromSelection does this before calling
// Unregister), since those are main-thread-only structures this method
// must not touch on its own. Every dropped task's destruction hook, if
// any, runs before this returns, so a Timer watching one of them learns
// immediately that it will never run.
func (q *TaskQueue) Unregister() []*Task {
	q.mu.Lock()
	q.unregistered = true
	dropped := q.immediateIncomingQueue
	q.immediateIncomingQueue = nil
	q.timeDomain = nil
	q.mu.Unlock()

	dropped = append(dropped, q.immediateWorkQueue.DrainAll()...)
	dropped = append(dropped, q.delayedWorkQueue.DrainAll()...)
	dropped = append(dropped, q.delayedIncomingQueue.DrainAll()...)

	for _, t := range dropped {
		t.destroy()
	}
	return dropped
}

// refreshAnyThreadHintsLocked recomputes the cached any-thread hints
// that posters consult without taking the main-thread-only state's
// locks. Must be called with mu held.
func (q *TaskQueue) refreshAnyThreadHintsLocked() {
	q.postImmediateTaskShouldScheduleWork = q.enabled && (q.observer != nil || !q.HasActiveFence())
}

func (q *TaskQueue) updateScheduledWakeUp() {
	q.mu.Lock()
	td := q.timeDomain
	q.mu.Unlock()
	if td == nil {
		return
	}

	next := q.delayedIncomingQueue.Peek()
	var wakeUp *time.Time
	if next != nil {
		t := next.DelayedRunTime
		wakeUp = &t
	}
	if wakeUp == nil && q.scheduledWakeUp == nil {
		return
	}
	if wakeUp != nil && q.scheduledWakeUp != nil && wakeUp.Equal(*q.scheduledWakeUp) {
		return
	}
	q.scheduledWakeUp = wakeUp
	td.SetNextWakeUpForQueue(q, wakeUp)
	if q.observer != nil {
		if wakeUp != nil {
			q.observer.OnQueueNextWakeUpChanged(*wakeUp)
		} else {
			q.observer.OnQueueNextWakeUpChanged(time.Time{})
		}
	}
}

// postImmediateTask implements the §4.2 immediate posting path. It is
// called both for same-thread and cross-thread posts; the any-thread
// lock is what makes this safe from either caller.
func (q *TaskQueue) postImmediateTask(t *Task) bool {
	q.mu.Lock()
	if q.unregistered {
		q.mu.Unlock()
		q.rejectTask("unregistered")
		return false
	}

	t.EnqueueOrder = q.manager.enqueueOrder.GenerateNext()
	t.QueueTime = q.manager.now()
	t.Sequence = q.seqGen.next()

	// needsReload is armed on every empty->non-empty transition of the
	// staging queue, regardless of whether the main-thread-only work
	// queue happens to be empty: reload is what moves a task from here
	// into the work queue, so skipping the flag whenever the work queue
	// still has older tasks would strand this one once that queue is
	// eventually drained with nobody left to re-arm the flag.
	wasEmpty := len(q.immediateIncomingQueue) == 0
	q.immediateIncomingQueue = append(q.immediateIncomingQueue, t)
	if wasEmpty {
		q.needsReload.Store(true)
	}
	shouldScheduleWork := q.postImmediateTaskShouldScheduleWork
	q.mu.Unlock()

	if shouldScheduleWork {
		q.manager.ScheduleWork()
	}
	return true
}

// drainImmediateIncomingQueue swaps out the staged tasks and returns
// them in FIFO order, for the manager's reload pass. Because enqueue
// orders are assigned inside the lock at post time and the staging
// slice preserves append order, the returned slice is already
// monotonic in enqueue order.
func (q *TaskQueue) drainImmediateIncomingQueue() []*Task {
	q.mu.Lock()
	drained := q.immediateIncomingQueue
	q.immediateIncomingQueue = nil
	q.mu.Unlock()
	return drained
}

// drainIfFlagged drains the staging queue only if a poster flagged it
// for reload since the last drain. This is the lock-free-read half of
// the "empty queues to reload" mechanism: the flag itself is a plain
// atomic.Bool rather than a packed bitset shared across queues, since
// per-manager queue counts are small enough that one atomic per queue
// already gives the required lock-free read without a bitset's added
// bookkeeping.
func (q *TaskQueue) drainIfFlagged() []*Task {
	if !q.needsReload.CompareAndSwap(true, false) {
		return nil
	}
	return q.drainImmediateIncomingQueue()
}

// appendToImmediateWorkQueue moves drained staging tasks into the
// main-thread-only immediate work queue, applying delayed-fence
// auto-activation as each task's queue-time is observed.
func (q *TaskQueue) appendToImmediateWorkQueue(tasks []*Task) {
	for _, t := range tasks {
		q.maybeActivateDelayedFenceLocked(t)
		q.immediateWorkQueue.Push(t)
	}
	if len(tasks) > 0 {
		q.mu.Lock()
		q.refreshAnyThreadHintsLocked()
		q.mu.Unlock()
	}
}

// maybeActivateDelayedFenceLocked fires a delayed fence the moment an
// incoming task's queue-time crosses the fence deadline, taking the
// spec's own conservative resolution for the cross-thread race: fire
// at the first task whose queue-time crosses the deadline, checked
// here at the point queue-time is already stamped.
func (q *TaskQueue) maybeActivateDelayedFenceLocked(t *Task) {
	if q.delayedFence == nil {
		return
	}
	if t.QueueTime.Before(*q.delayedFence) {
		return
	}
	q.installFence(t.EnqueueOrder)
	q.delayedFence = nil
}

// moveReadyDelayedTasksToWorkQueue pops cancelled tasks from the top of
// the delayed incoming queue, then promotes every task whose
// DelayedRunTime has arrived into the delayed work queue, assigning
// enqueue orders only now (not at post time).
func (q *TaskQueue) moveReadyDelayedTasksToWorkQueue(now time.Time) {
	for {
		next := q.delayedIncomingQueue.Peek()
		if next == nil {
			break
		}
		if next.IsCancelled() {
			cancelled, _ := q.delayedIncomingQueue.Pop()
			cancelled.destroy()
			continue
		}
		if next.DelayedRunTime.After(now) {
			break
		}

		t, _ := q.delayedIncomingQueue.Pop()
		q.maybeActivateDelayedFenceAgainstDeadline(t)
		t.EnqueueOrder = q.manager.enqueueOrder.GenerateNext()
		q.delayedWorkQueue.Push(t)
	}
	q.updateScheduledWakeUp()
}

func (q *TaskQueue) maybeActivateDelayedFenceAgainstDeadline(t *Task) {
	if q.delayedFence == nil {
		return
	}
	if t.DelayedRunTime.Before(*q.delayedFence) {
		return
	}
	order := q.manager.enqueueOrder.GenerateNext()
	q.installFence(order)
	q.delayedFence = nil
}

// postDelayedTaskDirect pushes a delayed task straight onto the
// main-thread-only delayed incoming queue. Callers must already be
// running on the SequenceManager's owning goroutine: this is the
// direct half of the §4.3 posting path, used internally when a helper
// task (itself always run on the main loop) delivers a cross-thread
// delayed post.
func (q *TaskQueue) postDelayedTaskDirect(t *Task) bool {
	if q.unregisteredSnapshot() {
		q.rejectTask("unregistered")
		return false
	}
	t.Sequence = q.seqGen.next()
	t.QueueTime = q.manager.now()
	q.delayedIncomingQueue.Push(t)
	q.updateScheduledWakeUp()
	return true
}

func (q *TaskQueue) unregisteredSnapshot() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unregistered
}

// rejectTask notifies the manager's Metrics and RejectedTaskHandler, if
// any, that a post to this queue was refused.
func (q *TaskQueue) rejectTask(reason string) {
	q.manager.config.Metrics.RecordTaskRejected(q.name, reason)
	if h := q.manager.config.RejectedTaskHandler; h != nil {
		h(q.name, reason)
	}
}

// =============================================================================
// operationsGate: tracks in-flight posting operations so Shutdown can
// reject new ones and wait for existing ones to quiesce.
// =============================================================================

type operationsGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inflight int
	closed   bool
}

func newOperationsGate() *operationsGate {
	g := &operationsGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *operationsGate) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inflight++
	return true
}

func (g *operationsGate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
	if g.inflight == 0 {
		g.cond.Broadcast()
	}
}

func (g *operationsGate) ShutdownAndWait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for g.inflight > 0 {
		g.cond.Wait()
	}
}

// =============================================================================
// GuardedTaskPoster and TaskRunner
// =============================================================================

// GuardedTaskPoster is the re-entrancy-guarded, shutdown-aware posting
// path shared by every TaskRunner over one TaskQueue. Re-entrant posts
// through the same poster (for example, a tracing callback invoked
// from inside PostTask that itself calls PostTask) are deferred and
// replayed after the outer post completes, rather than recursing,
// breaking potential lock cycles. Go has no OS-thread-local storage, so
// the guard tracks posting per poster instance, with a posting flag
// guarded by deferredMu, rather than per calling thread. A post from
// another goroutine that arrives through the same poster while a post
// is in progress is therefore deferred too, and replayed by the
// in-progress call before it returns.
type GuardedTaskPoster struct {
	queue *TaskQueue
	gate  *operationsGate

	deferredMu   sync.Mutex
	posting      bool
	deferredPost []*Task
}

func (p *GuardedTaskPoster) postImmediate(t *Task) bool {
	if !p.gate.TryBegin() {
		return false
	}
	defer p.gate.End()

	p.deferredMu.Lock()
	if p.posting {
		p.deferredPost = append(p.deferredPost, t)
		p.deferredMu.Unlock()
		return true
	}
	p.posting = true
	p.deferredMu.Unlock()

	accepted := p.queue.postImmediateTask(t)
	p.finishPostingAndReplay()
	return accepted
}

// finishPostingAndReplay replays whatever was appended to deferredPost
// while this call held the posting flag, and clears the flag only in the
// same critical section that finds nothing left to replay. A concurrent
// postImmediate that decided to defer (because it observed posting
// still true) is therefore guaranteed to have its task replayed here,
// and since the flag stays set during the replay, a later post from the
// same goroutine is deferred behind its earlier one instead of
// overtaking it.
func (p *GuardedTaskPoster) finishPostingAndReplay() {
	for {
		p.deferredMu.Lock()
		pending := p.deferredPost
		p.deferredPost = nil
		if len(pending) == 0 {
			p.posting = false
			p.deferredMu.Unlock()
			return
		}
		p.deferredMu.Unlock()

		for _, t := range pending {
			p.queue.postImmediateTask(t)
		}
	}
}

// postDelayed implements the §4.3 delayed posting path uniformly for
// both same-thread and cross-thread callers: it posts an immediate
// helper task that, once it runs on the owning SequenceManager's
// dispatch loop, delivers the delayed task directly into the queue's
// delayed incoming queue. Go has no cheap, reliable way to detect
// "already running on the owning goroutine" from an arbitrary call
// site, so this implementation does not special-case the main-thread
// direct-push optimization spec.md describes; correctness is
// unaffected, only the extra indirection's cost, which spec.md itself
// notes is "explicitly not the hot path" for the cross-thread case.
func (p *GuardedTaskPoster) postDelayed(t *Task) bool {
	if !p.gate.TryBegin() {
		return false
	}
	defer p.gate.End()

	queue := p.queue
	helper := &Task{
		ID:       GenerateTaskID(),
		Location: t.Location,
		Callback: func(_ context.Context) {
			queue.postDelayedTaskDirect(t)
		},
	}
	// A helper dropped without running, because its queue was
	// unregistered first, takes t with it so t's destruction hook fires.
	helper.onDestroy = func() {
		if queue.unregisteredSnapshot() {
			t.destroy()
		}
	}
	return queue.postImmediateTask(helper)
}

// TaskRunner is a handle for posting tasks to a specific queue with a
// fixed task-type tag, per §4.1 / §6.
type TaskRunner struct {
	poster   *GuardedTaskPoster
	taskType string
}

// TaskType returns this runner's fixed task-type tag.
func (r *TaskRunner) TaskType() string { return r.taskType }

// PostDelayedTask posts cb, nestable, to run no earlier than delay from
// now. Returns false iff the post was rejected (queue unregistered, or
// the poster's operations gate shut down).
func (r *TaskRunner) PostDelayedTask(loc Location, cb Callback, delay time.Duration) bool {
	return r.postDelayedTask(loc, cb, delay, Nestable, 0)
}

// PostNonNestableDelayedTask is PostDelayedTask with Nestability set so
// the task is deferred rather than run inside a nested loop.
func (r *TaskRunner) PostNonNestableDelayedTask(loc Location, cb Callback, delay time.Duration) bool {
	return r.postDelayedTask(loc, cb, delay, NonNestable, 0)
}

// PostDelayedTaskWithIPCHash behaves like PostDelayedTask, additionally
// stamping the posted task with ipcHash: opaque tracing metadata this
// package never interprets, carried through unchanged into
// SnapshotVerbose()'s per-task listing.
func (r *TaskRunner) PostDelayedTaskWithIPCHash(loc Location, cb Callback, delay time.Duration, ipcHash uint64) bool {
	return r.postDelayedTask(loc, cb, delay, Nestable, ipcHash)
}

func (r *TaskRunner) postDelayedTask(loc Location, cb Callback, delay time.Duration, nestability Nestability, ipcHash uint64) bool {
	t := &Task{
		ID:             GenerateTaskID(),
		Callback:       cb,
		Location:       loc,
		Nestability:    nestability,
		HighResolution: delay > 0 && delay < 2*r.poster.queue.manager.config.HighResolutionThreshold,
		IPCHash:        ipcHash,
	}

	if delay <= 0 {
		return r.poster.postImmediate(t)
	}

	t.DelayedRunTime = r.poster.queue.manager.now().Add(delay)
	return r.poster.postDelayed(t)
}

// RunsTasksInCurrentSequence reports whether ctx was handed to the
// currently executing task by this runner's TaskQueue's
// SequenceManager. It relies on the same context-based "current
// runner" idiom the dispatch loop uses to stamp every task's context;
// it returns false for a context not produced by a running task.
func (r *TaskRunner) RunsTasksInCurrentSequence(ctx context.Context) bool {
	return GetCurrentSequenceManager(ctx) == r.poster.queue.manager
}
