package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// timerTask builds a delayed *Task bound to handle, posted through
// runner's underlying GuardedTaskPoster directly rather than through
// TaskRunner.PostDelayedTask, since a Cancel handle must be attached
// before the task is posted.
func timerTask(runner *TaskRunner, loc Location, delay time.Duration, handle *CancelHandle, cb Callback) *Task {
	manager := runner.poster.queue.manager
	t := &Task{
		ID:          GenerateTaskID(),
		Callback:    cb,
		Location:    loc,
		Nestability: Nestable,
		Cancel:      handle,
	}
	if delay > 0 {
		t.DelayedRunTime = manager.now().Add(delay)
		t.HighResolution = delay < 2*manager.config.HighResolutionThreshold
	}
	return t
}

func postTimerTask(runner *TaskRunner, t *Task) {
	if t.DelayedRunTime.IsZero() {
		runner.poster.postImmediate(t)
		return
	}
	runner.poster.postDelayed(t)
}

// timerTaskDestructionDetector clears a timer's running flag the moment
// its scheduled task reaches the end of its life: run, or dropped
// without running because its queue was unregistered or its cancelled
// entry was swept. This mirrors timer.cc's scheduled_task_ weak
// back-pointer, which learns the same way that the task it once pointed
// at is gone, rather than the timer having to poll its cancel handle.
//
// The handle comparison guards against a stale detector: if Start or
// Reset has since armed a new task (and therefore a new handle) by the
// time this one's destruction fires, this detector's handle no longer
// matches currentHandle() and it must not clobber the newer task's
// running state.
type timerTaskDestructionDetector struct {
	handle        *CancelHandle
	running       *atomic.Bool
	currentHandle func() *CancelHandle
}

func newTimerTaskDestructionDetector(handle *CancelHandle, running *atomic.Bool, currentHandle func() *CancelHandle) *timerTaskDestructionDetector {
	return &timerTaskDestructionDetector{handle: handle, running: running, currentHandle: currentHandle}
}

func (d *timerTaskDestructionDetector) onTaskDestroyed() {
	if d.currentHandle() == d.handle {
		d.running.Store(false)
	}
}

// OneShotTimer posts a single delayed invocation of a callback, and
// can be stopped before it fires. It models a weak reference to "am I
// still wanted" with an explicit CancelHandle rather than relying on
// the task's bound receiver going out of scope, per the same
// determinism tradeoff as CancelHandle itself.
type OneShotTimer struct {
	runner *TaskRunner

	mu        sync.Mutex
	cancel    *CancelHandle
	loc       Location
	delay     time.Duration
	userCB    Callback
	isRunning atomic.Bool
}

// NewOneShotTimer returns a timer that posts through runner.
func NewOneShotTimer(runner *TaskRunner) *OneShotTimer {
	return &OneShotTimer{runner: runner}
}

// Start schedules cb to run once, delay from now. Any previously
// scheduled, not-yet-fired invocation is cancelled first.
func (t *OneShotTimer) Start(loc Location, delay time.Duration, cb Callback) {
	t.Stop()

	t.mu.Lock()
	t.loc = loc
	t.delay = delay
	t.userCB = cb
	t.mu.Unlock()

	t.arm(loc, delay, cb)
}

// Reset cancels any pending invocation and re-arms the timer at the
// full delay given to the most recent Start, using the same callback.
// Panics if Start has never been called.
func (t *OneShotTimer) Reset() {
	t.mu.Lock()
	cb := t.userCB
	loc, delay := t.loc, t.delay
	t.mu.Unlock()

	if cb == nil {
		panic("core: OneShotTimer.Reset called before Start")
	}

	handle := t.currentHandle()
	handle.Cancel()
	t.arm(loc, delay, cb)
}

func (t *OneShotTimer) arm(loc Location, delay time.Duration, cb Callback) {
	handle := NewCancelHandle()
	t.mu.Lock()
	t.cancel = handle
	t.mu.Unlock()
	t.isRunning.Store(true)

	task := timerTask(t.runner, loc, delay, handle, cb)
	task.onDestroy = newTimerTaskDestructionDetector(handle, &t.isRunning, t.currentHandle).onTaskDestroyed
	postTimerTask(t.runner, task)
}

func (t *OneShotTimer) currentHandle() *CancelHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel
}

// Stop cancels any pending, not-yet-fired invocation. Idempotent.
func (t *OneShotTimer) Stop() {
	t.mu.Lock()
	handle := t.cancel
	t.mu.Unlock()
	handle.Cancel()
	t.isRunning.Store(false)
}

// IsRunning reports whether a not-yet-fired invocation is pending.
func (t *OneShotTimer) IsRunning() bool {
	return t.isRunning.Load()
}

// RetainingOneShotTimer behaves like OneShotTimer but retains the
// callback and delay given to Start, so a fired (or stopped) timer can
// be re-armed with Reset without supplying them again.
type RetainingOneShotTimer struct {
	runner *TaskRunner

	mu        sync.Mutex
	cancel    *CancelHandle
	loc       Location
	delay     time.Duration
	userCB    Callback
	isRunning atomic.Bool
}

// NewRetainingOneShotTimer returns a timer that posts through runner.
func NewRetainingOneShotTimer(runner *TaskRunner) *RetainingOneShotTimer {
	return &RetainingOneShotTimer{runner: runner}
}

// Start records loc/delay/cb and arms the timer, equivalent to calling
// Reset immediately after.
func (t *RetainingOneShotTimer) Start(loc Location, delay time.Duration, cb Callback) {
	t.mu.Lock()
	t.loc = loc
	t.delay = delay
	t.userCB = cb
	t.mu.Unlock()
	t.Reset()
}

// Reset cancels any pending invocation and re-arms with the
// most recently given loc/delay/callback. Panics if Start has never
// been called.
func (t *RetainingOneShotTimer) Reset() {
	t.mu.Lock()
	if t.userCB == nil {
		t.mu.Unlock()
		panic("core: RetainingOneShotTimer.Reset called before Start")
	}
	t.cancel.Cancel()
	handle := NewCancelHandle()
	t.cancel = handle
	loc, delay, cb := t.loc, t.delay, t.userCB
	t.mu.Unlock()

	t.isRunning.Store(true)
	task := timerTask(t.runner, loc, delay, handle, cb)
	task.onDestroy = newTimerTaskDestructionDetector(handle, &t.isRunning, t.currentHandle).onTaskDestroyed
	postTimerTask(t.runner, task)
}

func (t *RetainingOneShotTimer) currentHandle() *CancelHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel
}

// Stop cancels any pending invocation without forgetting the
// callback/delay, so a later Reset re-arms with the same parameters.
func (t *RetainingOneShotTimer) Stop() {
	t.mu.Lock()
	handle := t.cancel
	t.mu.Unlock()
	handle.Cancel()
	t.isRunning.Store(false)
}

// IsRunning reports whether a not-yet-fired invocation is pending.
func (t *RetainingOneShotTimer) IsRunning() bool {
	return t.isRunning.Load()
}

// RepeatingTimer posts its callback on a fixed interval until Stop is
// called. Each firing re-arms the next invocation before running the
// user callback, so a callback that runs long, or that calls Stop on
// itself, cannot desynchronize or outlive the timer's own cancellation
// check.
type RepeatingTimer struct {
	runner *TaskRunner

	mu        sync.Mutex
	cancel    *CancelHandle
	interval  time.Duration
	userCB    Callback
	isRunning atomic.Bool
}

// NewRepeatingTimer returns a timer that posts through runner.
func NewRepeatingTimer(runner *TaskRunner) *RepeatingTimer {
	return &RepeatingTimer{runner: runner}
}

// Start begins firing cb every interval, starting interval from now.
// Any previous schedule on this timer is stopped first.
func (t *RepeatingTimer) Start(loc Location, interval time.Duration, cb Callback) {
	t.Stop()

	handle := NewCancelHandle()
	t.mu.Lock()
	t.cancel = handle
	t.interval = interval
	t.userCB = cb
	t.mu.Unlock()

	t.scheduleNext(loc, handle)
}

func (t *RepeatingTimer) currentHandle() *CancelHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel
}

func (t *RepeatingTimer) scheduleNext(loc Location, handle *CancelHandle) {
	wrapped := func(ctx context.Context) {
		if handle.IsCancelled() {
			return
		}
		t.scheduleNext(loc, handle)

		t.mu.Lock()
		cb := t.userCB
		t.mu.Unlock()
		cb(ctx)
	}

	t.mu.Lock()
	interval := t.interval
	t.mu.Unlock()

	t.isRunning.Store(true)
	task := timerTask(t.runner, loc, interval, handle, wrapped)
	task.onDestroy = newTimerTaskDestructionDetector(handle, &t.isRunning, t.currentHandle).onTaskDestroyed
	postTimerTask(t.runner, task)
}

// Stop cancels the timer; the currently in-flight firing, if any, will
// run to completion but will not re-arm.
func (t *RepeatingTimer) Stop() {
	t.mu.Lock()
	handle := t.cancel
	t.mu.Unlock()
	handle.Cancel()
	t.isRunning.Store(false)
}

// IsRunning reports whether the timer is currently armed.
func (t *RepeatingTimer) IsRunning() bool {
	return t.isRunning.Load()
}
