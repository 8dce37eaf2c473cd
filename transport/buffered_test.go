//go:build linux || darwin

package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-transportation/reactor"
	"github.com/stretchr/testify/require"
)

// startReactor runs a worker loop on its own goroutine and tears it down
// with the test.
func startReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.RunWorker()
	}()
	t.Cleanup(func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("reactor worker did not stop")
		}
		_ = r.Close()
	})
	return r
}

// TestLoopbackMessage: a length-prefixed message sent on one
// end of a socket pair arrives intact on the other.
func TestLoopbackMessage(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	a.SendMessage([]byte{0x00, 0x01, 0x02})

	var got []byte
	require.Eventually(t, func() bool {
		msg, ok := b.RecvMessage()
		if ok {
			got = msg
		}
		return ok
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, []byte{0x00, 0x01, 0x02}, got)
}

// TestByteOrderPreserved covers the first-in-first-out buffer property:
// bytes observed by the taker equal, in order, the bytes the producer put.
func TestByteOrderPreserved(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	chunks := [][]byte{
		[]byte("alpha"),
		[]byte("beta"),
		{0x00, 0xff, 0x00},
	}
	var want []byte
	for _, c := range chunks {
		a.Put(c)
		want = append(want, c...)
	}

	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, b.Take()...)
		return len(got) == len(want)
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, want, got)
}

func TestTakeChunkNeverPartial(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	a.Put([]byte("hello"))
	require.Eventually(t, func() bool {
		return b.Available() == 5
	}, 5*time.Second, time.Millisecond)

	_, ok := b.TakeChunk(10)
	require.False(t, ok, "TakeChunk must not return a partial chunk")

	first, ok := b.TakeChunk(3)
	require.True(t, ok)
	require.Equal(t, []byte("hel"), first)

	rest, ok := b.TakeChunk(2)
	require.True(t, ok)
	require.Equal(t, []byte("lo"), rest)
}

func TestRecvMessageWaitsForFullPayload(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	wire := []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}
	a.Put(wire[:len(wire)-1])
	require.Eventually(t, func() bool {
		return b.Available() == len(wire)-1
	}, 5*time.Second, time.Millisecond)

	_, ok := b.RecvMessage()
	require.False(t, ok, "preamble plus partial payload must not yield a message")

	a.Put(wire[len(wire)-1:])
	var got []byte
	require.Eventually(t, func() bool {
		msg, ok := b.RecvMessage()
		if ok {
			got = msg
		}
		return ok
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, []byte("hello"), got)
}

func TestSendMessageTooLargePanics(t *testing.T) {
	r := startReactor(t)
	a, _, err := CreatePair(r)
	require.NoError(t, err)

	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		err, ok := rec.(error)
		require.True(t, ok)
		require.ErrorIs(t, err, ErrMessageTooLarge)
	}()
	a.SendMessage(make([]byte, 65536))
}

// TestBackpressure: once the read buffer reaches the read
// limit, readable interest is dropped and no further bytes accumulate until
// the application takes. Taking restores interest and the rest arrives.
func TestBackpressure(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r, WithReadLimit(16))
	require.NoError(t, err)

	a.Put(bytes.Repeat([]byte{0xaa}, 16))
	require.Eventually(t, func() bool {
		return b.Available() == 16
	}, 5*time.Second, time.Millisecond)

	a.Put(bytes.Repeat([]byte{0xbb}, 48))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 16, b.Available(), "saturated read buffer must not keep growing")

	got := b.Take()
	require.Equal(t, bytes.Repeat([]byte{0xaa}, 16), got)

	var rest []byte
	require.Eventually(t, func() bool {
		rest = append(rest, b.Take()...)
		return len(rest) == 48
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, bytes.Repeat([]byte{0xbb}, 48), rest)
}

// TestCloseDrainsThenDeregisters covers graceful close: the
// write buffer flushes before the real close, IsClosed latches, and the
// reactor's handler table no longer contains either transport's token once
// the peer observes EOF.
func TestCloseDrainsThenDeregisters(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)
	require.Equal(t, 2, r.Metrics().Listeners)

	payload := bytes.Repeat([]byte{0x42}, 64*1024)
	a.Put(payload)
	require.NoError(t, a.Close())

	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, b.Take()...)
		return len(got) == len(payload)
	}, 10*time.Second, time.Millisecond)
	require.Equal(t, payload, got)

	require.Eventually(t, a.IsClosed, 5*time.Second, time.Millisecond)
	require.Eventually(t, b.IsClosed, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return r.Metrics().Listeners == 0
	}, 5*time.Second, time.Millisecond)
}

func TestHasWriteSpaceAdvisory(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	// The reactor is deliberately not running, so nothing drains the write
	// buffer between the put and the check.
	a, _, err := CreatePair(r)
	require.NoError(t, err)

	require.True(t, a.HasWriteSpace())
	a.Put(make([]byte, 4096))
	require.False(t, a.HasWriteSpace())
	// Advisory only: further writes still succeed.
	a.Put([]byte("more"))
}

func TestNotifyHookRunsAfterIO(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	var notified atomic.Int32
	b.SetNotify(NotifiableFunc(func() { notified.Add(1) }))

	a.Put([]byte("ping"))
	require.Eventually(t, func() bool {
		return notified.Load() > 0 && b.Available() == 4
	}, 5*time.Second, time.Millisecond)
}

func TestCloneSharesBuffers(t *testing.T) {
	r := startReactor(t)
	a, b, err := CreatePair(r)
	require.NoError(t, err)

	clone := b.Clone()
	a.Put([]byte("shared"))
	require.Eventually(t, func() bool {
		return clone.Available() == 6
	}, 5*time.Second, time.Millisecond)

	require.Equal(t, []byte("shared"), clone.Take())
	require.Zero(t, b.Available())
}

// TestRegularFileShim exercises the permission-denied fallback: a regular
// file cannot be registered with the OS poller, so a permanently-ready shim
// drives the transport instead, and reading to end-of-file latches close.
func TestRegularFileShim(t *testing.T) {
	r := startReactor(t)

	path := filepath.Join(t.TempDir(), "data")
	content := []byte("file contents via shim")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)
	fd, err := FromFile(f)
	require.NoError(t, err)

	bt, err := NewBufferedTransport(r, fd)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bt.Available() == len(content) && bt.IsClosed()
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, content, bt.Take())
}
