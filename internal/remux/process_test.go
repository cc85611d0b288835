//go:build linux

package remux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitDone(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatal("process did not finish in time")
	}
}

func TestStartRejectsEmptyArgv(t *testing.T) {
	_, err := Start(zap.NewNop(), &LogBuffer{}, nil)
	require.ErrorIs(t, err, ErrProcess)
}

func TestStartRejectsMissingBinary(t *testing.T) {
	_, err := Start(zap.NewNop(), &LogBuffer{}, []string{"/nonexistent/remuxer"})
	require.ErrorIs(t, err, ErrProcess)
}

func TestUnexpectedExitFiresDone(t *testing.T) {
	buf := &LogBuffer{}
	p, err := Start(zap.NewNop(), buf, []string{"sh", "-c", "echo 'boom: some error' >&2; exit 3"})
	require.NoError(t, err)

	waitDone(t, p, 5*time.Second)
	require.ErrorIs(t, p.Err(), ErrProcess)

	lines := buf.Read(0)
	require.Contains(t, lines, "boom: some error")
}

func TestStopTerminatesRunningProcess(t *testing.T) {
	p, err := Start(zap.NewNop(), &LogBuffer{}, []string{"sleep", "30"})
	require.NoError(t, err)

	start := time.Now()
	p.Stop()
	require.Less(t, time.Since(start), stopGrace+2*time.Second)

	waitDone(t, p, time.Second)
	require.ErrorIs(t, p.Err(), ErrProcess)
}

func TestStopIdempotentOnExitedHandle(t *testing.T) {
	p, err := Start(zap.NewNop(), &LogBuffer{}, []string{"true"})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)

	// Must return promptly, repeatedly, after the child is gone.
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		go func() {
			p.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Stop blocked on exited handle")
		}
	}
}
