// Package ui owns the chat window state. A single dispatcher goroutine is the
// only code that touches it; every other goroutine goes through Dispatch.
package ui

import (
	"log"
	"sync"
)

const dispatchQueueSize = 512

// Dispatcher runs submitted functions one at a time, in submission order, on
// its own goroutine.
type Dispatcher struct {
	queue chan func()

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue: make(chan func(), dispatchQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for fn := range d.queue {
		d.call(fn)
	}
}

func (d *Dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ui: dispatched update panicked: %v", r)
		}
	}()
	fn()
}

// Dispatch queues fn. It reports false if the dispatcher has stopped.
func (d *Dispatcher) Dispatch(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.queue <- fn
	return true
}

// Call runs fn on the dispatcher goroutine and waits for it.
func (d *Dispatcher) Call(fn func()) bool {
	done := make(chan struct{})
	if !d.Dispatch(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Stop runs what is already queued, then ends the dispatcher goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
