package session

import (
	"sync"

	"github.com/gammazero/deque"
)

// Executor runs posted work one function at a time, in post order, on a
// single goroutine. Work posted after Stop is dropped.
type Executor struct {
	lock    sync.Mutex
	queue   deque.Deque[func()]
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
}

func NewExecutor() *Executor {
	e := &Executor{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.worker()
	return e
}

func (e *Executor) Post(fn func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.stopped {
		return
	}
	e.queue.PushBack(fn)
	if e.queue.Len() == 1 {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// Do runs fn on the executor and waits for it. It reports false if the
// executor is stopped. Never call it from posted work.
func (e *Executor) Do(fn func()) bool {
	ran := make(chan struct{})
	e.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return true
	case <-e.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Stop runs what is already queued, then ends the worker. Like Do it must
// not be called from posted work.
func (e *Executor) Stop() {
	e.once.Do(func() {
		e.lock.Lock()
		e.stopped = true
		e.lock.Unlock()
		close(e.stop)
	})
	<-e.done
}

func (e *Executor) worker() {
	defer close(e.done)
	for {
		select {
		case <-e.wake:
			e.drain()
		case <-e.stop:
			e.drain()
			return
		}
	}
}

func (e *Executor) drain() {
	for {
		e.lock.Lock()
		if e.queue.Len() == 0 {
			e.lock.Unlock()
			return
		}
		fn := e.queue.PopFront()
		e.lock.Unlock()
		fn()
	}
}
