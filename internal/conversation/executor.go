package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

var ErrExecutorClosed = errors.New("stream executor closed")

// StreamFunc produces a reply. It must return once ctx is cancelled.
type StreamFunc func(ctx context.Context) (string, error)

// StreamTask is one in-flight backend call. Done is closed exactly once,
// after Result is final, even if the call panics.
type StreamTask struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	run    StreamFunc
	done   chan struct{}

	text string
	err  error
}

func (t *StreamTask) Done() <-chan struct{} { return t.done }

// Cancel asks the task to stop. It does not wait.
func (t *StreamTask) Cancel() { t.cancel() }

// Result returns the reply and error. Only valid after Done is closed.
func (t *StreamTask) Result() (string, error) { return t.text, t.err }

func (t *StreamTask) finish(text string, err error) {
	t.text, t.err = text, err
	t.cancel()
	close(t.done)
}

// Executor is the single long-lived goroutine that hosts streaming tasks.
// Callers hand tasks over with Submit and wait on the task's Done channel.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan *StreamTask

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	stopped  chan struct{}
}

func NewExecutor() *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(chan *StreamTask, 4),
		stopped: make(chan struct{}),
	}
	go e.loop()
	return e
}

// Submit queues fn. The task context is cancelled when parent is cancelled
// or the executor shuts down.
func (e *Executor) Submit(parent context.Context, fn StreamFunc) (*StreamTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(e.ctx, cancel)
	t := &StreamTask{
		ID:  uuid.NewString(),
		ctx: ctx,
		cancel: func() {
			stop()
			cancel()
		},
		run:  fn,
		done: make(chan struct{}),
	}
	e.inflight.Add(1)
	select {
	case e.tasks <- t:
		return t, nil
	case <-parent.Done():
		e.inflight.Done()
		t.cancel()
		return nil, parent.Err()
	}
}

func (e *Executor) loop() {
	defer close(e.stopped)
	for {
		select {
		case t := <-e.tasks:
			go e.run(t)
		case <-e.ctx.Done():
			for {
				select {
				case t := <-e.tasks:
					t.finish("", ErrExecutorClosed)
					e.inflight.Done()
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) run(t *StreamTask) {
	defer e.inflight.Done()
	var (
		text string
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream task panicked: %v", r)
			text = ""
		}
		t.finish(text, err)
	}()
	text, err = t.run(t.ctx)
}

// Shutdown refuses new tasks, cancels running ones and waits for them until
// ctx expires. Tasks still running after that are abandoned, not killed.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	drained := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		log.Printf("conversation: abandoning stream tasks still running after shutdown bound")
		err = ctx.Err()
	}
	<-e.stopped
	return err
}
