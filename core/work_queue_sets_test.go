package core

import "testing"

func TestWorkQueueSets_SelectsHighestPriorityBand(t *testing.T) {
	s := NewWorkQueueSets()

	normalQ := NewWorkQueue("normal")
	highQ := NewWorkQueue("high")
	s.AddQueue(normalQ, PriorityNormal)
	s.AddQueue(highQ, PriorityHigh)

	normalQ.Push(newTestTask(1))
	if got := s.SelectHighestPriorityReady(); got != normalQ {
		t.Fatal("expected the only ready queue to be selected")
	}

	highQ.Push(newTestTask(2))
	if got := s.SelectHighestPriorityReady(); got != highQ {
		t.Fatal("expected the higher-priority band to win once ready")
	}
}

func TestWorkQueueSets_SmallestEnqueueOrderWinsWithinBand(t *testing.T) {
	s := NewWorkQueueSets()
	a := NewWorkQueue("a")
	b := NewWorkQueue("b")
	s.AddQueue(a, PriorityNormal)
	s.AddQueue(b, PriorityNormal)

	a.Push(newTestTask(10))
	b.Push(newTestTask(5))

	if got := s.SelectHighestPriorityReady(); got != b {
		t.Fatal("expected queue with smaller front EnqueueOrder to win")
	}
}

func TestWorkQueueSets_IgnoresBlockedAndEmptyQueues(t *testing.T) {
	s := NewWorkQueueSets()
	blocked := NewWorkQueue("blocked")
	empty := NewWorkQueue("empty")
	s.AddQueue(blocked, PriorityNormal)
	s.AddQueue(empty, PriorityNormal)

	blocked.Push(newTestTask(1))
	blocked.InsertFence(0 + EnqueueOrderBlockingFence)

	if got := s.SelectHighestPriorityReady(); got != nil {
		t.Fatalf("expected no ready queue, got %v", got)
	}
	if s.HasTaskToRunImmediately() {
		t.Fatal("HasTaskToRunImmediately should be false with only blocked/empty queues")
	}
}

func TestWorkQueueSets_ChangePriority(t *testing.T) {
	s := NewWorkQueueSets()
	q := NewWorkQueue("q")
	s.AddQueue(q, PriorityLow)
	q.Push(newTestTask(1))

	other := NewWorkQueue("other")
	s.AddQueue(other, PriorityHigh)
	other.Push(newTestTask(2))

	if got := s.SelectHighestPriorityReady(); got != other {
		t.Fatal("expected the high-priority queue to win before the move")
	}

	s.ChangePriority(q, PriorityLow, PriorityControl)
	if got := s.SelectHighestPriorityReady(); got != q {
		t.Fatal("expected q to win after moving to the control band")
	}
}

func TestPriority_String(t *testing.T) {
	if got := PriorityNormal.String(); got != "normal" {
		t.Fatalf("PriorityNormal.String() = %q, want normal", got)
	}
	if got := Priority(999).String(); got != "unknown" {
		t.Fatalf("unknown Priority.String() = %q, want unknown", got)
	}
}
