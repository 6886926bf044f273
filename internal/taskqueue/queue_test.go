package taskqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_RunsTasksInPostOrder(t *testing.T) {
	q := New("test")
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for tasks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestQueue_NeverRunsTasksConcurrently(t *testing.T) {
	q := New("test")
	defer q.Close()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Post(func() {
					n := running.Add(1)
					for {
						m := maxRunning.Load()
						if n <= m || maxRunning.CompareAndSwap(m, n) {
							break
						}
					}
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	flushed := make(chan struct{})
	q.Post(func() { close(flushed) })
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for queue to flush")
	}
	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("max concurrent tasks=%d, want 1", got)
	}
}

func TestQueue_CloseDrainsBacklogThenRejects(t *testing.T) {
	q := New("test")

	var ran atomic.Int32
	block := make(chan struct{})
	q.Post(func() { <-block })
	for i := 0; i < 3; i++ {
		q.Post(func() { ran.Add(1) })
	}
	q.Close()
	if q.Post(func() { ran.Add(100) }) {
		t.Fatalf("expected Post after Close to be rejected")
	}
	close(block)

	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for Done")
	}
	if got := ran.Load(); got != 3 {
		t.Fatalf("ran=%d, want 3", got)
	}
}

func TestQueue_PanickingTaskDoesNotStopQueue(t *testing.T) {
	q := New("test")
	defer q.Close()

	q.Post(func() { panic("boom") })
	done := make(chan struct{})
	q.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queue stopped after a panicking task")
	}
}
