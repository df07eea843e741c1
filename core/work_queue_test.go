package core

import "testing"

func newTestTask(order EnqueueOrder) *Task {
	return &Task{ID: GenerateTaskID(), EnqueueOrder: order}
}

func TestWorkQueue_PushPopFIFO(t *testing.T) {
	q := NewWorkQueue("test")
	if !q.Empty() {
		t.Fatal("new WorkQueue should be empty")
	}

	q.Push(newTestTask(1))
	q.Push(newTestTask(2))
	q.Push(newTestTask(3))

	if q.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", q.Size())
	}

	for _, want := range []EnqueueOrder{1, 2, 3} {
		got, ok := q.PopFront()
		if !ok {
			t.Fatal("PopFront() returned false while queue was non-empty")
		}
		if got.EnqueueOrder != want {
			t.Fatalf("PopFront().EnqueueOrder = %d, want %d", got.EnqueueOrder, want)
		}
	}

	if !q.Empty() {
		t.Fatal("WorkQueue should be empty after draining")
	}
	if _, ok := q.PopFront(); ok {
		t.Fatal("PopFront() on empty queue should return false")
	}
}

func TestWorkQueue_PushFront(t *testing.T) {
	q := NewWorkQueue("test")
	q.Push(newTestTask(2))
	q.PushFront(newTestTask(1))

	got, _ := q.PopFront()
	if got.EnqueueOrder != 1 {
		t.Fatalf("front task EnqueueOrder = %d, want 1", got.EnqueueOrder)
	}
}

func TestWorkQueue_Fence(t *testing.T) {
	q := NewWorkQueue("test")
	q.Push(newTestTask(5))

	if q.BlockedByFence() {
		t.Fatal("queue without a fence should not be blocked")
	}

	changed := q.InsertFence(10)
	if changed {
		t.Fatal("fence above the front task's order should not block it")
	}

	changed = q.InsertFence(3)
	if !changed {
		t.Fatal("fence at or below the front task's order should block it")
	}
	if !q.BlockedByFence() {
		t.Fatal("queue should report blocked once the fence is at or below the front task's order")
	}

	changed = q.RemoveFence()
	if !changed {
		t.Fatal("removing a blocking fence should report unblocked")
	}
	if q.BlockedByFence() {
		t.Fatal("queue should not be blocked after fence removal")
	}
}

func TestWorkQueue_MaybeShrink(t *testing.T) {
	q := NewWorkQueue("test")
	for i := 0; i < 100; i++ {
		q.Push(newTestTask(EnqueueOrder(i)))
	}
	for i := 0; i < 99; i++ {
		q.PopFront()
	}

	if cap(q.tasks) < workQueueCompactMinCap {
		t.Skip("backing array already below shrink threshold")
	}
	before := cap(q.tasks)
	q.MaybeShrink()
	if cap(q.tasks) >= before {
		t.Fatalf("MaybeShrink did not shrink an over-provisioned backing array: cap before=%d after=%d", before, cap(q.tasks))
	}
}
