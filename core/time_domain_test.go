package core

import (
	"testing"
	"time"
)

type fakeController struct {
	scheduleWorkCalls int
	nextDelayed       []time.Time
}

func (f *fakeController) ScheduleWork()                     { f.scheduleWorkCalls++ }
func (f *fakeController) SetNextDelayedDoWork(t time.Time) { f.nextDelayed = append(f.nextDelayed, t) }

func newTestTimeDomain() (*SequenceManager, *TimeDomain, *fakeController) {
	m := newTestManager()
	fc := &fakeController{}
	m.BindController(fc)
	return m, NewTimeDomain("test", m), fc
}

func TestTimeDomain_SetNextWakeUpForQueueInsertsAndTracksMinimum(t *testing.T) {
	m, td, fc := newTestTimeDomain()
	qA := m.RegisterTaskQueue(DefaultTaskQueueSpec("a"))
	qB := m.RegisterTaskQueue(DefaultTaskQueueSpec("b"))

	later := time.Now().Add(time.Hour)
	sooner := time.Now().Add(time.Minute)

	td.SetNextWakeUpForQueue(qA, &later)
	if got, ok := td.NextScheduledRunTime(); !ok || !got.Equal(later) {
		t.Fatalf("NextScheduledRunTime() = %v, %v; want %v, true", got, ok, later)
	}
	if len(fc.nextDelayed) != 1 {
		t.Fatalf("expected one SetNextDelayedDoWork call after the first insert, got %d", len(fc.nextDelayed))
	}

	td.SetNextWakeUpForQueue(qB, &sooner)
	if got, ok := td.NextScheduledRunTime(); !ok || !got.Equal(sooner) {
		t.Fatalf("NextScheduledRunTime() = %v, %v; want %v, true", got, ok, sooner)
	}
	if len(fc.nextDelayed) != 2 {
		t.Fatalf("expected the minimum moving to reprogram the timer again, got %d calls", len(fc.nextDelayed))
	}
}

func TestTimeDomain_SetNextWakeUpForQueueUpdateFixesHeapPosition(t *testing.T) {
	m, td, _ := newTestTimeDomain()
	qA := m.RegisterTaskQueue(DefaultTaskQueueSpec("a"))
	qB := m.RegisterTaskQueue(DefaultTaskQueueSpec("b"))

	t1 := time.Now().Add(time.Hour)
	t2 := time.Now().Add(2 * time.Hour)
	td.SetNextWakeUpForQueue(qA, &t1)
	td.SetNextWakeUpForQueue(qB, &t2)

	moved := time.Now().Add(time.Minute)
	td.SetNextWakeUpForQueue(qB, &moved)

	got, ok := td.NextScheduledRunTime()
	if !ok || !got.Equal(moved) {
		t.Fatalf("NextScheduledRunTime() = %v, %v; want %v, true after update", got, ok, moved)
	}
}

func TestTimeDomain_SetNextWakeUpForQueueRemovesOnNil(t *testing.T) {
	m, td, _ := newTestTimeDomain()
	qA := m.RegisterTaskQueue(DefaultTaskQueueSpec("a"))

	future := time.Now().Add(time.Hour)
	td.SetNextWakeUpForQueue(qA, &future)
	td.SetNextWakeUpForQueue(qA, nil)

	if _, ok := td.NextScheduledRunTime(); ok {
		t.Fatal("NextScheduledRunTime should report false once the only entry is removed")
	}
}

func TestTimeDomain_RequestsImmediateDoWorkForPastWakeUp(t *testing.T) {
	m, td, fc := newTestTimeDomain()
	qA := m.RegisterTaskQueue(DefaultTaskQueueSpec("a"))

	past := time.Now().Add(-time.Second)
	td.SetNextWakeUpForQueue(qA, &past)

	if fc.scheduleWorkCalls == 0 {
		t.Fatal("a wake-up already in the past should request immediate dispatch")
	}
}

func TestTimeDomain_HighResolutionWakeUpCount(t *testing.T) {
	m, td, _ := newTestTimeDomain()
	q := m.RegisterTaskQueue(DefaultTaskQueueSpec("q"))

	hi := &Task{ID: GenerateTaskID(), HighResolution: true, DelayedRunTime: time.Now().Add(time.Hour)}
	q.delayedIncomingQueue.Push(hi)

	future := time.Now().Add(time.Hour)
	td.SetNextWakeUpForQueue(q, &future)
	if td.HighResolutionWakeUpCount() != 1 {
		t.Fatalf("HighResolutionWakeUpCount() = %d, want 1", td.HighResolutionWakeUpCount())
	}

	td.SetNextWakeUpForQueue(q, nil)
	if td.HighResolutionWakeUpCount() != 0 {
		t.Fatalf("HighResolutionWakeUpCount() after removal = %d, want 0", td.HighResolutionWakeUpCount())
	}
}

func TestTimeDomain_MoveReadyDelayedTasksToWorkQueues(t *testing.T) {
	m, td, _ := newTestTimeDomain()
	q := m.RegisterTaskQueue(DefaultTaskQueueSpec("q"))
	q.SetTimeDomain(td)

	q.delayedIncomingQueue.Push(&Task{
		ID:             GenerateTaskID(),
		Sequence:       1,
		DelayedRunTime: time.Now().Add(-time.Millisecond),
	})
	q.updateScheduledWakeUp()
	td.MoveReadyDelayedTasksToWorkQueues(time.Now())

	if q.delayedWorkQueue.Empty() {
		t.Fatal("a due delayed task should have been promoted into the delayed work queue")
	}
}

func TestTimeDomain_UnregisterQueueRemovesEntry(t *testing.T) {
	m, td, _ := newTestTimeDomain()
	q := m.RegisterTaskQueue(DefaultTaskQueueSpec("q"))

	future := time.Now().Add(time.Hour)
	td.SetNextWakeUpForQueue(q, &future)
	td.UnregisterQueue(q)

	if _, ok := td.NextScheduledRunTime(); ok {
		t.Fatal("NextScheduledRunTime should report false after the only queue is unregistered")
	}
}
