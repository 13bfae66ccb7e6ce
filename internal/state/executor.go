package state

import (
	"sync"
)

// SerialExecutor runs callbacks one at a time, in submission order, on a
// dedicated goroutine. It plays the role of a UI confined context.
type SerialExecutor struct {
	queue chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewSerialExecutor starts an executor buffering up to size callbacks.
func NewSerialExecutor(size int) *SerialExecutor {
	if size <= 0 {
		size = 16
	}
	e := &SerialExecutor{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *SerialExecutor) loop() {
	defer close(e.done)
	for fn := range e.queue {
		fn()
	}
}

// Execute queues fn. It blocks while the queue is full and drops fn after
// Close.
func (e *SerialExecutor) Execute(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	e.queue <- fn
}

// Close stops accepting work and waits for queued callbacks to finish.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	<-e.done
}
