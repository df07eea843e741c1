package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// SequenceManagerConfig carries the optional collaborators and tunables
// a SequenceManager is constructed with. Every field has a usable
// default via DefaultSequenceManagerConfig, following the *Config /
// DefaultXxxConfig idiom used throughout this package for optional
// collaborators.
type SequenceManagerConfig struct {
	Logger              Logger
	Metrics             Metrics
	PanicHandler        PanicHandler
	RejectedTaskHandler RejectedTaskHandler

	// HighResolutionThreshold is the delay below which (doubled) a
	// delayed task is flagged HighResolution, per §4.6.
	HighResolutionThreshold time.Duration

	// TaskExecutionHistorySize bounds the ring buffer of recently
	// executed tasks kept for diagnostics/tracing.
	TaskExecutionHistorySize int
}

// DefaultSequenceManagerConfig returns a config with no-op collaborators
// and the spec's suggested high-resolution threshold of 100us.
func DefaultSequenceManagerConfig() *SequenceManagerConfig {
	return &SequenceManagerConfig{
		Logger:                   &NoOpLogger{},
		Metrics:                  NoOpMetrics{},
		PanicHandler:             nil,
		RejectedTaskHandler:      nil,
		HighResolutionThreshold:  100 * time.Microsecond,
		TaskExecutionHistorySize: 64,
	}
}

// ThreadController abstracts the main loop's host: something that can
// be told "there's immediate work" or "wake me at this time". A
// sequencer.Controller is the production implementation; tests may bind
// a fake.
type ThreadController interface {
	ScheduleWork()
	SetNextDelayedDoWork(t time.Time)
}

// deferredTask pairs a non-nestable task with the queue it was popped
// from, so it can be re-posted to the right place once nesting ends.
type deferredTask struct {
	queue *TaskQueue
	task  *Task
}

type sequenceManagerContextKey struct{}

// GetCurrentSequenceManager returns the SequenceManager currently
// executing a task on ctx's goroutine, or nil if ctx was not handed to
// a task by a SequenceManager's dispatch loop. Mirrors the
// context.Value "current runner" idiom used throughout this package.
func GetCurrentSequenceManager(ctx context.Context) *SequenceManager {
	m, _ := ctx.Value(sequenceManagerContextKey{}).(*SequenceManager)
	return m
}

// SequenceManager owns one set of TaskQueues, one WorkQueueSets
// selection structure, one EnqueueOrder generator, and the main
// dispatch loop that moves tasks from incoming queues through to
// execution. It is not safe for concurrent use by more than one
// goroutine calling DispatchNextTask/RunNested: those must be called
// from the single "main thread" this manager represents, matching
// spec.md's single-threaded execution model. Posting APIs (TaskRunner,
// GuardedTaskPoster) remain safe from any goroutine.
type SequenceManager struct {
	config *SequenceManagerConfig

	enqueueOrder *enqueueOrderGenerator

	mu         sync.Mutex
	queues     map[*TaskQueue]struct{}
	timeDomain *TimeDomain

	workQueueSets *WorkQueueSets

	controller ThreadController

	running      atomic.Bool
	nestingDepth atomic.Int32

	deferredNonNestableMu sync.Mutex
	deferredNonNestable   []deferredTask

	history *executionHistory
}

// NewSequenceManager constructs a SequenceManager with cfg, or
// DefaultSequenceManagerConfig() if cfg is nil. It comes with a single
// default TimeDomain, named "default", already bound. Additional
// TimeDomains can be constructed with NewTimeDomain and bound to queues
// via TaskQueue.SetTimeDomain, but DispatchNextTask and NextWakeUp
// consult only the default TimeDomain: delayed tasks of a queue bound
// to another TimeDomain are not promoted by this manager's dispatch.
func NewSequenceManager(cfg *SequenceManagerConfig) *SequenceManager {
	if cfg == nil {
		cfg = DefaultSequenceManagerConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoOpLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoOpMetrics{}
	}

	m := &SequenceManager{
		config:        cfg,
		enqueueOrder:  newEnqueueOrderGenerator(),
		queues:        make(map[*TaskQueue]struct{}),
		workQueueSets: NewWorkQueueSets(),
		history:       newExecutionHistory(cfg.TaskExecutionHistorySize),
	}
	m.timeDomain = NewTimeDomain("default", m)
	return m
}

// BindController attaches the ThreadController this manager's
// ScheduleWork/SetNextDelayedDoWork calls forward to. Must be called
// before any TaskQueue is posted to.
func (m *SequenceManager) BindController(c ThreadController) {
	m.controller = c
}

// DefaultTimeDomain returns the manager's implicitly-created default
// TimeDomain.
func (m *SequenceManager) DefaultTimeDomain() *TimeDomain {
	return m.timeDomain
}

func (m *SequenceManager) now() time.Time {
	return time.Now()
}

// RegisterTaskQueue creates a new TaskQueue bound to this manager,
// registers it with the WorkQueueSets under spec's priority, and binds
// it to the manager's default TimeDomain.
func (m *SequenceManager) RegisterTaskQueue(spec TaskQueueSpec) *TaskQueue {
	q := NewTaskQueue(m, spec)

	m.mu.Lock()
	m.queues[q] = struct{}{}
	m.mu.Unlock()

	m.workQueueSets.AddQueue(q.immediateWorkQueue, q.priority)
	m.workQueueSets.AddQueue(q.delayedWorkQueue, q.priority)
	q.SetTimeDomain(m.timeDomain)
	return q
}

// UnregisterTaskQueue removes q from selection and its TimeDomain,
// drops every task q still holds, and forgets it. Per the
// self-deletion-safety invariant, the tasks Unregister returns are
// dropped here, outside any lock this method holds.
func (m *SequenceManager) UnregisterTaskQueue(q *TaskQueue) {
	m.removeQueueFromSelection(q)
	m.finishUnregisterTaskQueue(q)
}

// removeQueueFromSelection drops q from workQueueSets and its
// TimeDomain. Both are main-thread-only structures per invariant 5 and
// have no locking of their own: callers that fan this out across
// goroutines, as UnregisterAndDrainAll does, must call it for every
// queue from a single goroutine before any concurrent work starts.
func (m *SequenceManager) removeQueueFromSelection(q *TaskQueue) {
	m.workQueueSets.RemoveQueue(q.immediateWorkQueue, q.priority)
	m.workQueueSets.RemoveQueue(q.delayedWorkQueue, q.priority)
	m.timeDomain.UnregisterQueue(q)
}

// finishUnregisterTaskQueue forgets q and drops every task it holds. Both
// steps only touch state already guarded by m.mu or q.mu, so unlike
// removeQueueFromSelection this is safe to call concurrently for
// distinct queues.
func (m *SequenceManager) finishUnregisterTaskQueue(q *TaskQueue) {
	m.mu.Lock()
	delete(m.queues, q)
	m.mu.Unlock()

	q.Unregister()
}

// UnregisterAndDrainAll unregisters every queue in queues. Removing
// each queue from selection happens single-threaded, in queues order,
// since workQueueSets and each queue's TimeDomain are main-thread-only
// structures that cannot tolerate concurrent mutation; the remaining
// per-queue drain work, which only touches already-guarded state, then
// fans out via golang.org/x/sync/errgroup so that draining many
// independent queues on shutdown does not serialize on each other's
// work. None of the unregistered queues' dropped tasks are run; their
// callbacks are simply released.
//
// Like UnregisterTaskQueue, this must only be called from the thread
// that also calls SequenceManager.DispatchNextTask: callers outside the
// manager's own dispatch loop, such as a graceful shutdown, must route
// the call through that loop rather than invoking it from a separate
// goroutine.
func (m *SequenceManager) UnregisterAndDrainAll(queues []*TaskQueue) error {
	for _, q := range queues {
		m.removeQueueFromSelection(q)
	}

	var g errgroup.Group
	for _, q := range queues {
		q := q
		g.Go(func() error {
			m.finishUnregisterTaskQueue(q)
			return nil
		})
	}
	return g.Wait()
}

// changeQueuePriority is called by TaskQueue.SetQueuePriority to move
// both of the queue's WorkQueues between WorkQueueSets bands.
func (m *SequenceManager) changeQueuePriority(q *TaskQueue, oldPriority, newPriority Priority) {
	m.workQueueSets.ChangePriority(q.immediateWorkQueue, oldPriority, newPriority)
	m.workQueueSets.ChangePriority(q.delayedWorkQueue, oldPriority, newPriority)
}

// ScheduleWork tells the bound ThreadController there may be immediate
// work ready, if any controller is bound yet. Safe to call before
// BindController; becomes a no-op in that case rather than a panic, so
// tests can exercise queue/task-queue logic without a full controller.
func (m *SequenceManager) ScheduleWork() {
	if m.controller != nil {
		m.controller.ScheduleWork()
	}
}

// RequestDoWork is ScheduleWork's name from the TimeDomain's point of
// view: "a wake-up time has already arrived, run now."
func (m *SequenceManager) RequestDoWork() {
	m.ScheduleWork()
}

// SetNextDelayedDoWork forwards to the bound controller, or is a no-op
// if none is bound.
func (m *SequenceManager) SetNextDelayedDoWork(t time.Time) {
	if m.controller != nil {
		m.controller.SetNextDelayedDoWork(t)
	}
}

// reloadEmptyQueues drains every queue flagged for reload since the
// last call and appends the drained tasks into each queue's immediate
// work queue. This is the §4.2 "reload" half of the main loop.
func (m *SequenceManager) reloadEmptyQueues() {
	m.mu.Lock()
	queues := make([]*TaskQueue, 0, len(m.queues))
	for q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		if drained := q.drainIfFlagged(); len(drained) > 0 {
			q.appendToImmediateWorkQueue(drained)
		}
	}
}

// DispatchNextTask runs the single highest-priority ready task across
// every registered queue, if any, per §4.5's main-loop iteration:
// reload staged tasks, move due delayed tasks into their work queues,
// select, dispatch. It returns false when nothing was ready to run.
func (m *SequenceManager) DispatchNextTask(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		panic("sequence_manager: DispatchNextTask called concurrently")
	}
	defer m.running.Store(false)

	m.reloadEmptyQueues()
	m.timeDomain.MoveReadyDelayedTasksToWorkQueues(m.now())

	wq := m.workQueueSets.SelectHighestPriorityReady()
	if wq == nil {
		return false
	}

	q := wq.owner
	t, ok := wq.PopFront()
	if !ok {
		return false
	}

	if t.IsCancelled() {
		t.destroy()
		return true
	}

	if t.Nestability == NonNestable && m.nestingDepth.Load() > 0 {
		m.deferredNonNestableMu.Lock()
		m.deferredNonNestable = append(m.deferredNonNestable, deferredTask{queue: q, task: t})
		m.deferredNonNestableMu.Unlock()
		return true
	}

	m.runTask(ctx, q, t)
	return true
}

func (m *SequenceManager) runTask(ctx context.Context, q *TaskQueue, t *Task) {
	taskCtx := context.WithValue(ctx, sequenceManagerContextKey{}, m)

	wasBlockedOrLowPriority := q.wasBlockedOrLowPriority(t.EnqueueOrder)
	for _, obs := range q.taskObservers {
		obs.WillProcessTask(t, wasBlockedOrLowPriority)
	}

	start := m.now()
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				m.config.Metrics.RecordPanic(q.name, r)
				if m.config.PanicHandler != nil {
					m.config.PanicHandler(q.name, t, r)
				} else {
					m.config.Logger.Error("task panicked", F("queue", q.name), F("task", t.ID.String()), F("panic", fmt.Sprint(r)))
				}
			}
		}()
		t.Run(taskCtx)
	}()
	duration := m.now().Sub(start)

	for _, obs := range q.taskObservers {
		obs.DidProcessTask(t)
	}

	m.config.Metrics.RecordTaskExecuted(q.name, q.priority, duration)
	m.history.record(q.name, t, start, duration, panicked)
}

// NextWakeUp returns the earliest time any queue bound to the manager's
// default TimeDomain wants to run a delayed task. Queues bound to
// another TimeDomain are not consulted.
func (m *SequenceManager) NextWakeUp() (time.Time, bool) {
	return m.timeDomain.NextScheduledRunTime()
}

// RunNested drives DispatchNextTask in a loop until until returns
// true, tracking nesting depth so non-nestable tasks posted during the
// loop are deferred rather than run, per §4.8. Intended for hosts that
// need to pump the queue to a quiescence point without returning to
// their own caller, for example a modal dialog's event loop.
func (m *SequenceManager) RunNested(ctx context.Context, until func() bool) {
	m.nestingDepth.Add(1)
	defer func() {
		depth := m.nestingDepth.Add(-1)
		if depth == 0 {
			m.flushDeferredNonNestableInto(ctx)
		}
	}()

	for !until() {
		if !m.DispatchNextTask(ctx) {
			return
		}
	}
}

// flushDeferredNonNestableInto re-posts every deferred non-nestable
// task back onto its own queue's immediate work queue, preserving
// relative order, then runs nothing itself: the manager's ordinary
// dispatch loop picks them up on its next iteration.
func (m *SequenceManager) flushDeferredNonNestableInto(ctx context.Context) {
	m.deferredNonNestableMu.Lock()
	deferred := m.deferredNonNestable
	m.deferredNonNestable = nil
	m.deferredNonNestableMu.Unlock()

	for i := len(deferred) - 1; i >= 0; i-- {
		deferred[i].queue.immediateWorkQueue.PushFront(deferred[i].task)
	}
	if len(deferred) > 0 {
		m.ScheduleWork()
	}
}

// IsIdle reports whether no registered queue has a task ready to run
// right now, across either work queue.
func (m *SequenceManager) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for q := range m.queues {
		if q.HasTaskToRunImmediately() {
			return false
		}
	}
	return true
}

// Snapshot returns a point-in-time diagnostic view of every registered
// queue, per §6's tracing document shape.
// Snapshot returns a summary view of every queue: counts, not the
// per-task listings SnapshotVerbose produces. Also samples
// Metrics.RecordQueueDepth for each queue, since this is the method
// polled periodically (by the Prometheus SnapshotPoller, among other
// callers) rather than called on every post.
func (m *SequenceManager) Snapshot() Snapshot {
	return m.snapshot(false)
}

// SnapshotVerbose returns the same per-queue summary as Snapshot, plus
// a full per-task listing for every task still held by each queue, per
// spec §6's verbose tracing document.
func (m *SequenceManager) SnapshotVerbose() Snapshot {
	return m.snapshot(true)
}

func (m *SequenceManager) snapshot(verbose bool) Snapshot {
	m.mu.Lock()
	queues := make([]*TaskQueue, 0, len(m.queues))
	for q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	snap := Snapshot{Queues: make([]TaskQueueSnapshot, 0, len(queues))}
	for _, q := range queues {
		qs := q.snapshot(verbose)
		snap.Queues = append(snap.Queues, qs)
		m.config.Metrics.RecordQueueDepth(qs.Name, qs.ImmediatePendingTasks+qs.DelayedPendingTasks)
	}
	return snap
}
