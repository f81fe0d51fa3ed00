package centrifuge

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Future is the result handle of an asynchronous client operation. It completes exactly once.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func failedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// complete stores the result and runs callbacks registered so far. Later calls are ignored.
func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. It must not be called from inside a
// listener callback, which runs on the client's event loop.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. If the future already completed fn runs
// immediately on the calling goroutine, otherwise on the goroutine that completes it.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f.value, f.err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

type replyHandler func(reply *Reply, err error)

type pendingRequest struct {
	id        uint32
	method    MethodType
	handler   replyHandler
	timer     stopper
	createdAt time.Time
	span      *commandSpan
}

// requestTable correlates command ids with their reply handlers. It is owned by the client's
// event loop and is not safe for concurrent use.
type requestTable struct {
	clock    clock
	enqueue  func(func()) bool
	onDone   func(req *pendingRequest, err error)
	requests map[uint32]*pendingRequest
}

func newRequestTable(clk clock, enqueue func(func()) bool) *requestTable {
	return &requestTable{
		clock:    clk,
		enqueue:  enqueue,
		requests: make(map[uint32]*pendingRequest),
	}
}

// register adds a pending request that fails with ErrTimeout unless answered within timeout.
// A zero timeout disables the deadline.
func (t *requestTable) register(id uint32, method MethodType, timeout time.Duration, handler replyHandler) *pendingRequest {
	req := &pendingRequest{
		id:        id,
		method:    method,
		handler:   handler,
		createdAt: t.clock.Now(),
	}
	if timeout > 0 {
		req.timer = t.clock.AfterFunc(timeout, func() {
			t.enqueue(func() { t.timeout(id) })
		})
	}
	t.requests[id] = req
	return req
}

func (t *requestTable) has(id uint32) bool {
	_, ok := t.requests[id]
	return ok
}

func (t *requestTable) len() int {
	return len(t.requests)
}

// resolve hands reply to the request waiting for it. Replies for unknown ids are dropped.
func (t *requestTable) resolve(id uint32, reply *Reply) bool {
	req := t.remove(id)
	if req == nil {
		return false
	}
	var err error
	if reply.failed() {
		err = reply.Error
	}
	t.finish(req, err)
	req.handler(reply, nil)
	return true
}

func (t *requestTable) timeout(id uint32) bool {
	return t.fail(id, ErrTimeout)
}

// fail completes a pending request with err.
func (t *requestTable) fail(id uint32, err error) bool {
	req := t.remove(id)
	if req == nil {
		return false
	}
	t.finish(req, err)
	req.handler(nil, err)
	return true
}

// clear forgets a pending request without calling its handler.
func (t *requestTable) clear(id uint32) bool {
	req := t.remove(id)
	if req == nil {
		return false
	}
	t.finish(req, nil)
	return true
}

// failAll fails every pending request with err, in id order, and empties the table.
func (t *requestTable) failAll(err error) int {
	ids := make([]uint32, 0, len(t.requests))
	for id := range t.requests {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		t.fail(id, err)
	}
	return len(ids)
}

func (t *requestTable) remove(id uint32) *pendingRequest {
	req, ok := t.requests[id]
	if !ok {
		return nil
	}
	delete(t.requests, id)
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

func (t *requestTable) finish(req *pendingRequest, err error) {
	if t.onDone != nil {
		t.onDone(req, err)
	}
}
