package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls  atomic.Int32
	failOn int32
}

func (s *countingSyncer) SyncOnce(_ context.Context) error {
	n := s.calls.Add(1)
	if s.failOn != 0 && n == s.failOn {
		return errors.New("injected failure")
	}

	return nil
}

func TestDaemonClampsIntervalToMinimum(t *testing.T) {
	d := New(&countingSyncer{}, time.Millisecond, nil, nil)
	require.Equal(t, minInterval, d.interval)
}

func TestDaemonRunsUntilCanceled(t *testing.T) {
	syncer := &countingSyncer{}
	d := New(syncer, minInterval, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, syncer.calls.Load(), int32(1))
}

func TestDaemonContinuesAfterCycleError(t *testing.T) {
	syncer := &countingSyncer{failOn: 1}
	d := New(syncer, minInterval, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), minInterval+20*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, syncer.calls.Load(), int32(2))
}

// blockingWaker mimics StreamWaker blocked in a read on a connection
// that never delivers a message: Wake only returns once ctx is done.
type blockingWaker struct {
	entered chan struct{}
}

func (w *blockingWaker) Wake(ctx context.Context) bool {
	close(w.entered)
	<-ctx.Done()
	return false
}

func TestDaemonSleepUnblocksWakerWhenTimerFiresFirst(t *testing.T) {
	waker := &blockingWaker{entered: make(chan struct{})}
	d := New(&countingSyncer{}, minInterval, nil, waker)

	done := make(chan bool, 1)
	go func() { done <- d.sleep(context.Background()) }()

	<-waker.entered

	select {
	case result := <-done:
		require.True(t, result, "sleep should report a normal wake-up when the timer fires")
	case <-time.After(minInterval + 5*time.Second):
		t.Fatal("sleep did not return after the interval timer fired; the waker goroutine leaked")
	}
}
