package sequencer

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-sequencer/core"
)

func newTestManager(t *testing.T) *core.SequenceManager {
	t.Helper()
	return core.NewSequenceManager(&core.SequenceManagerConfig{
		HighResolutionThreshold: time.Millisecond,
	})
}

func TestController_StartRunsPostedImmediateTasks(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)
	c.Start()
	defer c.Stop()

	q := manager.RegisterTaskQueue(core.DefaultTaskQueueSpec("q"))
	runner := q.CreateTaskRunner("t")

	ran := make(chan struct{}, 1)
	runner.PostDelayedTask(core.Location{}, func(_ context.Context) {
		ran <- struct{}{}
	}, 0)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestController_DelayedTaskFiresViaTimer(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)
	c.Start()
	defer c.Stop()

	q := manager.RegisterTaskQueue(core.DefaultTaskQueueSpec("q"))
	runner := q.CreateTaskRunner("t")

	ran := make(chan struct{}, 1)
	runner.PostDelayedTask(core.Location{}, func(_ context.Context) {
		ran <- struct{}{}
	}, 30*time.Millisecond)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never fired")
	}
}

func TestController_ScheduleWorkCoalescesWakeUps(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)

	for i := 0; i < 5; i++ {
		c.ScheduleWork()
	}
	if len(c.wake) != 1 {
		t.Fatalf("expected ScheduleWork calls to coalesce into a single buffered wake-up, got %d", len(c.wake))
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)
	c.Start()

	c.Stop()
	c.Stop()

	select {
	case <-c.done:
	default:
		t.Fatal("done channel should be closed after Stop")
	}
}

func TestController_JoinReturnsAfterStop(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)
	c.Start()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Stop()
	}()

	done := make(chan struct{})
	go func() {
		c.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join did not return after Stop")
	}
}

func TestController_StopGracefulDrainsQueues(t *testing.T) {
	manager := newTestManager(t)
	c := NewController(manager)
	c.Start()

	q := manager.RegisterTaskQueue(core.DefaultTaskQueueSpec("q"))

	if err := c.StopGraceful([]*core.TaskQueue{q}, time.Second); err != nil {
		t.Fatalf("StopGraceful returned error: %v", err)
	}

	if ok := q.CreateTaskRunner("t").PostDelayedTask(core.Location{}, func(_ context.Context) {}, 0); ok {
		t.Fatal("post to a drained/unregistered queue should be rejected")
	}
}
