// Package dispatch runs closures on a single owner goroutine. State handed
// to New is only ever touched by jobs, so it needs no locking.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStopped is reported for jobs that were queued after, or still queued
// when, the loop stopped.
var ErrStopped = errors.New("dispatch loop stopped")

type job[S any] struct {
	fn     func(S)
	handle *Handle
}

// Loop owns a value of type S and executes jobs against it one at a time.
type Loop[S any] struct {
	state S

	mu      sync.Mutex
	queue   []job[S]
	stopped bool

	wake    chan struct{}
	done    chan struct{}
	busy    atomic.Int64
	started atomic.Bool
}

// New creates a loop around state. Run must be called to start it.
func New[S any](state S) *Loop[S] {
	return &Loop[S]{
		state: state,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Run executes queued jobs until ctx is cancelled. Jobs still queued at
// that point are not run; their handles report ErrStopped.
func (l *Loop[S]) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("dispatch loop already running")
	}
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for i, j := range batch {
			if ctx.Err() != nil {
				l.stop(batch[i:])
				return ctx.Err()
			}
			j.fn(l.state)
			if j.handle != nil {
				j.handle.finish(nil)
			}
			l.busy.Add(-1)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			l.stop(nil)
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop[S]) stop(rest []job[S]) {
	l.mu.Lock()
	l.stopped = true
	rest = append(rest, l.queue...)
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
	for _, j := range rest {
		if j.handle != nil {
			j.handle.finish(ErrStopped)
		}
		l.busy.Add(-1)
	}
}

func (l *Loop[S]) enqueue(j job[S]) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.busy.Add(1)
	l.queue = append(l.queue, j)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispatch queues fn and returns a handle that completes once fn ran.
func (l *Loop[S]) Dispatch(fn func(S)) *Handle {
	h := &Handle{done: make(chan struct{})}
	if !l.enqueue(job[S]{fn: fn, handle: h}) {
		h.finish(ErrStopped)
	}
	return h
}

// DispatchBlocking queues fn without tracking its completion. The queue is
// unbounded, so jobs may call it on their own loop.
func (l *Loop[S]) DispatchBlocking(fn func(S)) error {
	if !l.enqueue(job[S]{fn: fn}) {
		return ErrStopped
	}
	return nil
}

// Do runs fn on the loop and waits for its result. It must not be called
// from a job.
func (l *Loop[S]) Do(ctx context.Context, fn func(S) error) error {
	var err error
	h := l.Dispatch(func(s S) { err = fn(s) })
	if werr := h.Wait(ctx); werr != nil {
		return werr
	}
	return err
}

// Pending reports whether jobs are queued or running.
func (l *Loop[S]) Pending() bool { return l.busy.Load() > 0 }

// Done is closed once the loop stopped.
func (l *Loop[S]) Done() <-chan struct{} { return l.done }

// Handle tracks one dispatched job.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed after the job ran or was abandoned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is nil if the job ran and ErrStopped if it never will. Only valid
// after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the job finished or ctx ends. Never call it from a job
// on the same loop.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
