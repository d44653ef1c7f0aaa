package jms

import "sync"

// executor is the single-threaded ordered callback runner bound to a
// connection. Tasks run strictly in submission order and never
// concurrently.
//
// A mutex+cond-guarded slice is used rather than a buffered channel so
// Submit can never block a provider callback thread waiting for queue
// space — the provider pushes events on its own threads and must never
// be made to wait on application code.
type executor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []func()
	closed   bool
	stopped  chan struct{}
}

func newExecutor() *executor {
	e := &executor{stopped: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Submit enqueues fn to run after every previously submitted task. It is
// a no-op once the executor has been shut down: late submissions after
// shutdown have nothing left to observe anyway.
func (e *executor) Submit(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()
	e.cond.Signal()
}

func (e *executor) run() {
	defer close(e.stopped)
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		task()
	}
}

// Shutdown stops accepting new tasks and blocks until every already
// queued task has run.
func (e *executor) Shutdown() {
	e.initiate()
	<-e.stopped
}

// initiate marks the executor closed, so run() drains the remaining
// tasks and exits, without waiting for it to do so. A task running on
// the executor's own goroutine must use this instead of Shutdown: waiting
// on e.stopped from inside run() would deadlock against itself.
func (e *executor) initiate() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
}
