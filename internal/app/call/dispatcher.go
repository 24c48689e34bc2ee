package call

import (
	"context"
	"sync"
)

// Dispatcher runs every posted func on one goroutine, in post order.
type Dispatcher struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post enqueues fn. It blocks while the queue is full and returns false
// once the dispatcher has stopped.
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.done:
		return false
	}
}

// Run executes queued funcs until ctx is done. stop, if set, runs on the
// loop goroutine before Run returns; funcs still queued are dropped.
func (d *Dispatcher) Run(ctx context.Context, stop func()) {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case <-ctx.Done():
			if stop != nil {
				stop()
			}
			return
		case fn := <-d.queue:
			fn()
		}
	}
}

func (d *Dispatcher) Done() <-chan struct{} { return d.done }
