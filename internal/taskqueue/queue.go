package taskqueue

import (
	"log/slog"
	"sync"
)

// Queue runs posted tasks one at a time, in post order, on a single
// goroutine.
//
// Post never blocks: the backlog is unbounded so callers on pion or network
// goroutines can hand work off without waiting on whatever the queue is
// currently running. A Queue may be shared by several owners.
type Queue struct {
	name string

	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	tasks    []func()

	done chan struct{}
}

func New(name string) *Queue {
	q := &Queue{
		name: name,
		done: make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) Name() string { return q.name }

// Post appends task to the queue. It reports false if the queue is closed, in
// which case task will never run.
func (q *Queue) Post(task func()) bool {
	if task == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.notEmpty.Signal()
	return true
}

// Close stops accepting new tasks. Tasks already posted still run; Done is
// closed once the backlog is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Done is closed after Close once every posted task has run.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		task, ok := q.next()
		if !ok {
			return
		}
		q.runTask(task)
	}
}

// runTask isolates a panicking task so one bad callback cannot kill the queue
// goroutine (and with it every later task for the owner).
func (q *Queue) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "queue", q.name, "panic", r)
		}
	}()
	task()
}
