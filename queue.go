package centrifuge

import "sync"

// taskQueue is an unbounded FIFO of work executed one task at a time by a single goroutine.
// Producers never block, so tasks may safely enqueue more tasks.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []func()
	notify  chan struct{}
	done    chan struct{}
	closed  bool
	onPanic func(v any)
}

func newTaskQueue(onPanic func(v any)) *taskQueue {
	q := &taskQueue{
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go q.run()
	return q
}

// push appends a task. It returns false once the queue is closed.
func (q *taskQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting tasks. Tasks already queued still run.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Done is closed once the worker exited.
func (q *taskQueue) Done() <-chan struct{} {
	return q.done
}

func (q *taskQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.notify
			q.mu.Lock()
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.exec(task)
	}
}

func (q *taskQueue) exec(task func()) {
	defer func() {
		if v := recover(); v != nil && q.onPanic != nil {
			q.onPanic(v)
		}
	}()
	task()
}
