// Package debounce coalesces bursts of events into a single callback once
// the stream has been quiet for a fixed window.
package debounce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const queueSize = 128

// Engine merges events of type E into an accumulator of type A. The
// accumulator is owned by the goroutine running Run; merge and finish are
// only ever called from there.
type Engine[E, A any] struct {
	window time.Duration
	merge  func(A, E) A
	finish func(A)

	events  chan E
	done    chan struct{}
	queued  atomic.Int64
	armed   atomic.Bool
	cycles  atomic.Uint64
	runOnce sync.Once
}

// New builds an engine. A non-positive window fires on the next loop turn.
func New[E, A any](window time.Duration, merge func(A, E) A, finish func(A)) *Engine[E, A] {
	if window < 0 {
		window = 0
	}
	return &Engine[E, A]{
		window: window,
		merge:  merge,
		finish: finish,
		events: make(chan E, queueSize),
		done:   make(chan struct{}),
	}
}

// Window returns the quiet period.
func (e *Engine[E, A]) Window() time.Duration { return e.window }

// Sender returns the producer side of the engine.
func (e *Engine[E, A]) Sender() Sender[E] {
	return Sender[E]{events: e.events, done: e.done, queued: &e.queued}
}

// Pending reports whether events are queued or a cycle is armed.
func (e *Engine[E, A]) Pending() bool {
	return e.queued.Load() > 0 || e.armed.Load()
}

// Cycles returns how many times finish has been called.
func (e *Engine[E, A]) Cycles() uint64 { return e.cycles.Load() }

// Run processes events until ctx is cancelled. An armed accumulator is
// dropped on cancellation. Run may only be called once.
func (e *Engine[E, A]) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		<-ctx.Done()
		return nil
	}
	defer close(e.done)

	timer := time.NewTimer(e.window)
	timer.Stop()
	defer timer.Stop()

	var acc A
	var deadline <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			e.armed.Store(false)
			return nil
		case ev := <-e.events:
			acc = e.merge(acc, ev)
			timer.Reset(e.window)
			deadline = timer.C
			e.armed.Store(true)
			e.queued.Add(-1)
		case <-deadline:
			deadline = nil
			out := acc
			var zero A
			acc = zero
			e.finish(out)
			e.cycles.Add(1)
			e.armed.Store(false)
		}
	}
}

// Sender feeds events into an engine. The zero value drops every event.
type Sender[E any] struct {
	events chan<- E
	done   <-chan struct{}
	queued *atomic.Int64
}

// Send queues ev, blocking while the queue is full. It returns false when
// the engine has stopped.
func (s Sender[E]) Send(ev E) bool {
	if s.events == nil || s.stopped() {
		return false
	}
	s.queued.Add(1)
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		s.queued.Add(-1)
		return false
	}
}

// TrySend queues ev only if there is room.
func (s Sender[E]) TrySend(ev E) bool {
	if s.events == nil || s.stopped() {
		return false
	}
	s.queued.Add(1)
	select {
	case s.events <- ev:
		return true
	default:
		s.queued.Add(-1)
		return false
	}
}

func (s Sender[E]) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
