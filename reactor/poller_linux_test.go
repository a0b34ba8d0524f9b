//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/reactor"
)

func newPoller(t *testing.T) *reactor.Poller {
	t.Helper()
	p, err := reactor.NewPoller()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWaitEmptyTimesOut(t *testing.T) {
	p := newPoller(t)
	res, err := p.Wait(0)
	require.NoError(t, err)
	assert.True(t, res.Timeout)
	assert.Empty(t, res.DescriptorInfos)

	start := time.Now()
	res, err = p.Wait(30)
	require.NoError(t, err)
	assert.True(t, res.Timeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWaitReportsBytesToRead(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	require.NoError(t, p.AddSocket(a))
	require.NoError(t, p.EnableRead(a))

	_, err := unix.Write(b, []byte("hello"))
	require.NoError(t, err)

	res, err := p.Wait(1000)
	require.NoError(t, err)
	require.False(t, res.Timeout)
	require.Len(t, res.DescriptorInfos, 1)
	info := res.DescriptorInfos[0]
	assert.Equal(t, a, info.Socket)
	assert.True(t, info.Readable)
	assert.False(t, info.Disconnected)
	assert.Equal(t, 5, info.BytesToRead)
}

func TestWaitWriteOnlyReadiness(t *testing.T) {
	p := newPoller(t)
	a, _ := socketPair(t)
	require.NoError(t, p.AddSocket(a))
	require.NoError(t, p.EnableRead(a))
	require.NoError(t, p.EnableWrite(a))

	res, err := p.Wait(1000)
	require.NoError(t, err)
	info, ok := res.Get(a)
	require.True(t, ok)
	assert.True(t, info.Writable)
	assert.False(t, info.Readable)

	require.NoError(t, p.DisableWrite(a))
	res, err = p.Wait(0)
	require.NoError(t, err)
	assert.True(t, res.Timeout)
}

func TestWaitPeerCloseIsDisconnect(t *testing.T) {
	p := newPoller(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	require.NoError(t, p.AddSocket(fds[0]))
	require.NoError(t, p.EnableRead(fds[0]))
	require.NoError(t, unix.Close(fds[1]))

	res, err := p.Wait(1000)
	require.NoError(t, err)
	info, ok := res.Get(fds[0])
	require.True(t, ok)
	assert.True(t, info.Readable)
	assert.True(t, info.Disconnected)
	assert.Equal(t, 0, info.BytesToRead)
}

func TestInterruptUnblocksWait(t *testing.T) {
	p := newPoller(t)
	done := make(chan reactor.PollerResult, 1)
	go func() {
		res, err := p.Wait(-1)
		assert.NoError(t, err)
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	p.Interrupt()
	select {
	case res := <-done:
		assert.True(t, res.Interrupted)
		assert.False(t, res.Timeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait was not interrupted")
	}
}

func TestInterruptAfterConcurrentWakes(t *testing.T) {
	p := newPoller(t)
	stop := make(chan struct{})
	hammered := make(chan struct{})
	go func() {
		defer close(hammered)
		for {
			select {
			case <-stop:
				return
			default:
				p.Interrupt()
			}
		}
	}()
	for range 500 {
		_, err := p.Wait(1)
		require.NoError(t, err)
	}
	close(stop)
	<-hammered
	// consume whatever the last wakes left behind
	_, err := p.Wait(0)
	require.NoError(t, err)

	done := make(chan reactor.PollerResult, 1)
	go func() {
		res, err := p.Wait(-1)
		assert.NoError(t, err)
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	p.Interrupt()
	select {
	case res := <-done:
		assert.True(t, res.Interrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("wakeup lost after concurrent interrupts")
	}
}

func TestMutationDuringWaitIsObserved(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	_, err := unix.Write(b, []byte("xyz"))
	require.NoError(t, err)

	done := make(chan reactor.PollerResult, 1)
	go func() {
		res, err := p.Wait(5000)
		assert.NoError(t, err)
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.AddSocket(a))
	require.NoError(t, p.EnableRead(a))

	select {
	case res := <-done:
		require.Len(t, res.DescriptorInfos, 1)
		assert.Equal(t, a, res.DescriptorInfos[0].Socket)
		assert.Equal(t, 3, res.DescriptorInfos[0].BytesToRead)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not observe the new socket")
	}
}

func TestRemovedSocketNotReported(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	require.NoError(t, p.AddSocket(a))
	require.NoError(t, p.EnableRead(a))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.RemoveSocket(a))
	assert.Equal(t, 0, p.Watched())

	res, err := p.Wait(20)
	require.NoError(t, err)
	assert.True(t, res.Timeout)
	assert.ErrorIs(t, p.EnableRead(a), api.ErrNotFound)
}
