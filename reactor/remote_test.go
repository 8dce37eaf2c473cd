package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRunInThread: a cross-thread post executes on the
// target reactor's own goroutine, and a post after that reactor has been
// stopped and closed returns ErrThreadTerminated.
func TestRunInThread(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = b.RunWorker()
		close(done)
	}()

	// RunInThread must tolerate being called before the target has
	// necessarily finished its first turn; it spin-waits on the registry
	// entry, which is published synchronously by New, so this is really
	// exercising the "already running" path plus the mark below.
	var marked atomic.Bool
	require.NoError(t, RunInThread(b.ID(), func() {
		marked.Store(true)
	}))

	require.Eventually(t, marked.Load, time.Second, time.Millisecond)

	b.Stop()
	<-done
	require.NoError(t, b.Close())

	err = RunInThread(b.ID(), func() {})
	require.ErrorIs(t, err, ErrThreadTerminated)
}

// TestRunInThreadBeforeStart exercises posting to a reactor id before that
// reactor has entered its loop: New has already published the registry
// entry, so the post is enqueued at once and the callback runs once the
// target's loop starts.
func TestRunInThreadBeforeStart(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	var marked atomic.Bool
	postErr := make(chan error, 1)
	go func() {
		postErr <- RunInThread(b.ID(), func() {
			marked.Store(true)
		})
	}()

	time.Sleep(20 * time.Millisecond) // let the post attempt start first

	done := make(chan struct{})
	go func() {
		_ = b.RunWorker()
		close(done)
	}()

	require.NoError(t, <-postErr)
	require.Eventually(t, marked.Load, time.Second, time.Millisecond)

	b.Stop()
	<-done
	require.NoError(t, b.Close())
}
