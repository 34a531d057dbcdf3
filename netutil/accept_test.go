package netutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/netutil"
)

type inputWatcher struct {
	handler      func() bool
	fd           int
	removeCalled int
}

func (f *inputWatcher) AddInput(fd int, handler func() bool) error {
	f.fd = fd
	f.handler = handler
	return nil
}
func (f *inputWatcher) RemoveInput(fd int) error {
	f.removeCalled++
	return nil
}
func (f *inputWatcher) AddOutput(fd int, handler func() bool) error { return nil }
func (f *inputWatcher) RemoveOutput(fd int) error                   { return nil }

func TestNewAutoAcceptRejectsNilArguments(t *testing.T) {
	_, err := netutil.NewAutoAccept(nil, 0, func(int) bool { return true })
	assert.Error(t, err)
}

func TestAutoAcceptAcceptsAndDispatches(t *testing.T) {
	listenerFD, err := netutil.ListenInet4(47823, netutil.Local)
	if err != nil {
		t.Skipf("listen not permitted in this sandbox: %v", err)
	}
	defer unix.Close(listenerFD)

	var sa unix.Sockaddr
	sa, err = unix.Getsockname(listenerFD)
	require.NoError(t, err)
	inet4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)

	clientFD, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(clientFD)

	connErr := unix.Connect(clientFD, inet4)
	require.NoError(t, connErr)

	w := &inputWatcher{}
	var acceptedFD int = -1

	aac, err := netutil.NewAutoAccept(w, listenerFD, func(fd int) bool {
		acceptedFD = fd
		return true
	})
	require.NoError(t, err)
	require.NotNil(t, w.handler)

	w.handler()

	assert.GreaterOrEqual(t, acceptedFD, 0)
	if acceptedFD >= 0 {
		unix.Close(acceptedFD)
	}

	require.NoError(t, aac.Close())
	assert.Equal(t, 1, w.removeCalled)
}
