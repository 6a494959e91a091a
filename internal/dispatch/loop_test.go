package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type counter struct {
	values []int
}

func runLoop[S any](t *testing.T, l *Loop[S]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	return cancel, errCh
}

func TestJobsRunInOrderOnOwner(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := &counter{}
	l := New(state)
	cancel, errCh := runLoop(t, l)

	var handles []*Handle
	for i := range 50 {
		handles = append(handles, l.Dispatch(func(s *counter) {
			s.values = append(s.values, i)
		}))
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}

	var got []int
	require.NoError(t, l.Do(ctx, func(s *counter) error {
		got = append(got, s.values...)
		return nil
	}))
	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := &counter{}
	l := New(state)
	cancel, errCh := runLoop(t, l)
	defer func() {
		cancel()
		<-errCh
	}()

	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				assert.NoError(t, l.DispatchBlocking(func(s *counter) {
					s.values = append(s.values, p*100+i)
				}))
			}
		}()
	}
	wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	var n int
	require.NoError(t, l.Do(ctx, func(s *counter) error {
		n = len(s.values)
		return nil
	}))
	require.Equal(t, 800, n)
}

func TestReentrantDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := &counter{}
	l := New(state)
	cancel, errCh := runLoop(t, l)
	defer func() {
		cancel()
		<-errCh
	}()

	inner := make(chan struct{})
	l.Dispatch(func(s *counter) {
		s.values = append(s.values, 1)
		assert.NoError(t, l.DispatchBlocking(func(s *counter) {
			s.values = append(s.values, 2)
			close(inner)
		}))
	})
	select {
	case <-inner:
	case <-time.After(5 * time.Second):
		t.Fatal("nested job never ran")
	}
}

func TestStoppedLoopRejectsJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(&counter{})
	cancel, errCh := runLoop(t, l)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	<-l.Done()

	ran := false
	h := l.Dispatch(func(*counter) { ran = true })
	<-h.Done()
	require.ErrorIs(t, h.Err(), ErrStopped)
	require.ErrorIs(t, l.DispatchBlocking(func(*counter) {}), ErrStopped)
	require.False(t, ran)
	require.False(t, l.Pending())
}

func TestQueuedJobsAbandonedOnStop(t *testing.T) {
	l := New(&counter{})
	// Never started: queued jobs stay queued until Run stops.
	h := l.Dispatch(func(*counter) {})
	require.True(t, l.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Run(ctx), context.Canceled)
	require.ErrorIs(t, h.Wait(context.Background()), ErrStopped)
	require.False(t, l.Pending())
}

func TestDoReturnsJobError(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(&counter{})
	cancel, errCh := runLoop(t, l)
	defer func() {
		cancel()
		<-errCh
	}()

	boom := errors.New("boom")
	err := l.Do(context.Background(), func(*counter) error { return boom })
	require.ErrorIs(t, err, boom)
}
