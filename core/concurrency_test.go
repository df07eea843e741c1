package core

import (
	"context"
	"sync"
	"testing"
)

// TestTaskQueue_ConcurrentCrossThreadPostsPreserveFIFOPerThread exercises
// the cross-thread posting path with many concurrent posters on one
// queue: every task must still run exactly once, and each poster's own
// tasks must run in the order it posted them.
func TestTaskQueue_ConcurrentCrossThreadPostsPreserveFIFOPerThread(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 200

	m := newTestManager()
	q := m.RegisterTaskQueue(DefaultTaskQueueSpec("q"))
	runner := q.CreateTaskRunner("t")

	var mu sync.Mutex
	seen := make(map[int][]int, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				i := i
				runner.PostDelayedTask(Location{}, func(_ context.Context) {
					mu.Lock()
					seen[g] = append(seen[g], i)
					mu.Unlock()
				}, 0)
			}
		}()
	}
	wg.Wait()

	ran := 0
	for m.DispatchNextTask(context.Background()) {
		ran++
	}

	if ran != goroutines*perGoroutine {
		t.Fatalf("executed %d tasks, want %d", ran, goroutines*perGoroutine)
	}

	for g := 0; g < goroutines; g++ {
		order := seen[g]
		if len(order) != perGoroutine {
			t.Fatalf("goroutine %d: got %d executions, want %d", g, len(order), perGoroutine)
		}
		for i, v := range order {
			if v != i {
				t.Fatalf("goroutine %d: execution order broken at index %d: got %d, want %d", g, i, v, i)
			}
		}
	}
}

// TestTaskQueue_ConcurrentPostsDuringDispatchAreAllExecuted covers
// posting from multiple goroutines while the manager's own goroutine is
// concurrently draining the queue, the ordinary shape of cross-thread
// posting against a live dispatch loop.
func TestTaskQueue_ConcurrentPostsDuringDispatchAreAllExecuted(t *testing.T) {
	const total = 500

	m := newTestManager()
	q := m.RegisterTaskQueue(DefaultTaskQueueSpec("q"))
	runner := q.CreateTaskRunner("t")

	var executed sync.WaitGroup
	executed.Add(total)

	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			runner.PostDelayedTask(Location{}, func(_ context.Context) {
				executed.Done()
			}, 0)
		}
		close(done)
	}()

	waitDone := make(chan struct{})
	go func() {
		executed.Wait()
		close(waitDone)
	}()

	for {
		select {
		case <-waitDone:
			<-done
			return
		default:
			m.DispatchNextTask(context.Background())
		}
	}
}
