package reactor_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/reactor"
)

func pipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, w
}

func TestMainExitsWhenRegistrationSetIsEmpty(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	require.NoError(t, l.Main(reactor.Infinite))
}

func TestAddInputDispatchesOnReadable(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	r, w := pipe(t)

	var gotCall bool
	require.NoError(t, l.AddInput(int(r.Fd()), func() bool {
		gotCall = true
		buf := make([]byte, 16)
		r.Read(buf)
		require.NoError(t, l.RemoveInput(int(r.Fd())))
		return true
	}))

	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)

	require.NoError(t, l.Main(1000))
	assert.True(t, gotCall)
}

func TestAddInputRejectsDuplicateRegistration(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	r, _ := pipe(t)
	fd := int(r.Fd())

	require.NoError(t, l.AddInput(fd, func() bool { return true }))
	err = l.AddInput(fd, func() bool { return true })
	assert.Error(t, err)

	require.NoError(t, l.RemoveInput(fd))
}

func TestRemoveInputIsIdempotentButRejectsOutOfRangeFd(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	r, _ := pipe(t)
	fd := int(r.Fd())

	require.NoError(t, l.AddInput(fd, func() bool { return true }))
	require.NoError(t, l.RemoveInput(fd))
	require.NoError(t, l.RemoveInput(fd))
	assert.Error(t, l.RemoveInput(-1))
}

func TestTimerFiresAndIsOneShotByDefault(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	fired := 0
	require.NoError(t, l.AddTimer(func(id reactor.ContextID) bool {
		fired++
		return true
	}, 1, time.Millisecond, 0))

	require.NoError(t, l.Main(reactor.Infinite))
	assert.Equal(t, 1, fired)
}

func TestRecurringTimerCanBeSelfCancelled(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	fired := 0
	require.NoError(t, l.AddTimer(func(id reactor.ContextID) bool {
		fired++
		errstack.PushConsistencyFailureID(errstack.ConsistencyKillRecurringTimer)
		return false
	}, 1, time.Millisecond, time.Millisecond))

	require.NoError(t, l.Main(reactor.Infinite))
	assert.Equal(t, 1, fired)
}

func TestCancelTimerRemovesMatchingHandle(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	var fired []int
	require.NoError(t, l.AddTimerHandle(func(id reactor.ContextID) bool {
		fired = append(fired, int(id))
		return true
	}, 1, time.Hour, 0, 7))
	require.NoError(t, l.AddTimerHandle(func(id reactor.ContextID) bool {
		fired = append(fired, int(id))
		return true
	}, 2, time.Millisecond, 0, 9))

	l.CancelTimer(7)

	require.NoError(t, l.Main(reactor.Infinite))
	assert.Equal(t, []int{2}, fired)
}

func TestShutdownStopsTheLoop(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	calls := 0
	require.NoError(t, l.AddTimer(func(id reactor.ContextID) bool {
		calls++
		l.Shutdown()
		return true
	}, 1, time.Millisecond, time.Millisecond))

	require.NoError(t, l.Main(reactor.Infinite))
	assert.Equal(t, 1, calls)
}

func TestErrorResolverCanAbortTheLoop(t *testing.T) {
	l, err := reactor.New(reactor.WithErrorResolver(func(notifyOK bool) bool {
		return false
	}))
	require.NoError(t, err)

	require.NoError(t, l.AddTimer(func(id reactor.ContextID) bool {
		return false
	}, 1, time.Millisecond, 0))

	assert.Error(t, l.Main(reactor.Infinite))
}

func TestOpenLogFileCreatesAndWritesToTheFile(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)

	path := t.TempDir() + "/femc.log"
	require.NoError(t, l.OpenLogFile(path, reactor.LogfileNoRotate))

	_, err = l.ActiveLogFile().WriteString("hello\n")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
