package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-sequencer/core"
)

// Controller is the concrete core.ThreadController: a dedicated
// goroutine that drives one core.SequenceManager's main loop, woken
// either by ScheduleWork (immediate work became ready) or by its own
// timer (a queue's next delayed wake-up arrived).
type Controller struct {
	manager *core.SequenceManager

	wake     chan struct{}
	drainReq chan drainRequest
	timerMu  sync.Mutex
	timer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// drainRequest asks the loop goroutine to run UnregisterAndDrainAll on
// the sequence manager's own thread, since SequenceManager's
// main-thread-only state cannot tolerate being mutated from outside the
// goroutine that also calls DispatchNextTask.
type drainRequest struct {
	queues []*core.TaskQueue
	result chan error
}

// NewController binds a Controller to manager via
// core.SequenceManager.BindController. Call Start to launch the
// dispatch loop goroutine.
func NewController(manager *core.SequenceManager) *Controller {
	c := &Controller{
		manager:  manager,
		wake:     make(chan struct{}, 1),
		drainReq: make(chan drainRequest),
		done:     make(chan struct{}),
	}
	manager.BindController(c)
	return c
}

// ScheduleWork implements core.ThreadController. Multiple calls before
// the loop wakes coalesce into a single iteration, matching the main
// loop's own "drain everything ready, then block" shape.
func (c *Controller) ScheduleWork() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetNextDelayedDoWork implements core.ThreadController: arms or
// re-arms the controller's timer so that even with no other activity,
// a queue's delayed task is dispatched once it comes due.
func (c *Controller) SetNextDelayedDoWork(t time.Time) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	delay := time.Until(t)
	if delay < 0 {
		delay = 0
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(delay, c.ScheduleWork)
		return
	}
	c.timer.Reset(delay)
}

// Start launches the dispatch loop goroutine. Must be called exactly
// once; later calls are no-ops.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(context.Background())
		go c.runLoop()
	})
}

func (c *Controller) runLoop() {
	defer close(c.done)
	for {
		for c.manager.DispatchNextTask(c.ctx) {
			if c.ctx.Err() != nil {
				return
			}
			c.serviceDrainRequest()
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		case req := <-c.drainReq:
			req.result <- c.manager.UnregisterAndDrainAll(req.queues)
		}
	}
}

// serviceDrainRequest drains a pending StopGraceful request, if any,
// between dispatched tasks: waiting for the work queue to run dry could
// stall a drain indefinitely under sustained load.
func (c *Controller) serviceDrainRequest() {
	select {
	case req := <-c.drainReq:
		req.result <- c.manager.UnregisterAndDrainAll(req.queues)
	default:
	}
}

// Stop cancels the dispatch loop and blocks until its goroutine has
// exited. Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.timerMu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.timerMu.Unlock()
		c.ScheduleWork()
	})
	<-c.done
}

// StopGraceful drains every queue in queues via
// core.SequenceManager.UnregisterAndDrainAll before stopping the loop,
// bounded by timeout. The drain itself runs on the loop goroutine, never
// concurrently with DispatchNextTask, since UnregisterAndDrainAll
// mutates state the sequence manager only allows its own thread to
// touch. Returns context.DeadlineExceeded if the drain did not complete
// in time; the loop is stopped regardless.
func (c *Controller) StopGraceful(queues []*core.TaskQueue, timeout time.Duration) error {
	req := drainRequest{queues: queues, result: make(chan error, 1)}
	deadline := time.After(timeout)

	var err error
	select {
	case c.drainReq <- req:
		select {
		case err = <-req.result:
		case <-deadline:
			err = context.DeadlineExceeded
		}
	case <-c.done:
		err = nil
	case <-deadline:
		err = context.DeadlineExceeded
	}
	c.Stop()
	return err
}

// Join blocks until the dispatch loop goroutine has exited, without
// requesting cancellation itself.
func (c *Controller) Join() {
	<-c.done
}
