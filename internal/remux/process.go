//go:build linux

// Package remux supervises the external remuxer process that consumes the
// two named pipes and publishes the RTSP stream.
package remux

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrProcess classifies remuxer failures (spawn failure or unexpected exit).
var ErrProcess = errors.New("remuxer process failure")

// stopGrace is how long Stop waits after SIGTERM before escalating.
const stopGrace = 3 * time.Second

// Process is a handle to one supervised remuxer instance.
//
// Lifecycle:
//   - Start spawns the command with stdout discarded and stderr piped.
//   - A monitor goroutine drains stderr line by line into the shared
//     LogBuffer, surfacing error-marker lines through the logger; it never
//     blocks the session path.
//   - Done fires after the child has been reaped. A Done before Stop means
//     the process exited unexpectedly.
//   - Stop is idempotent: SIGTERM to the process group, bounded grace,
//     then SIGKILL.
type Process struct {
	log    *zap.Logger
	logBuf *LogBuffer

	cmd *exec.Cmd
	pid int

	done     chan struct{}
	stopOnce sync.Once
	exitErr  atomic.Pointer[error]
}

// Start launches argv (argv[0] is the binary) and begins supervision.
// The returned error wraps ErrProcess.
func Start(log *zap.Logger, logBuf *LogBuffer, argv []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", ErrProcess)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	// Primary output is not consumed; only stderr carries diagnostics.
	cmd.Stdout = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,            // own process group so we can signal the group
		Pdeathsig: syscall.SIGKILL, // child dies with the bridge
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrProcess, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: spawn %s: %v", ErrProcess, argv[0], err)
	}

	p := &Process{
		log:    log.Named("remux").With(zap.Int("pid", cmd.Process.Pid)),
		logBuf: logBuf,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	p.log.Info("remuxer started", zap.Strings("argv", argv))

	go p.supervise(bufio.NewReader(stderr))
	return p, nil
}

// supervise drains stderr until EOF (which precedes or coincides with
// process exit), then reaps the child and fires Done.
func (p *Process) supervise(stderr *bufio.Reader) {
	for {
		line, err := stderr.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			p.logBuf.Append(line)
			if isErrorLine(line) {
				p.log.Warn("remuxer stderr", zap.String("line", line))
			}
		}
		if err != nil {
			break
		}
	}

	err := p.cmd.Wait()
	if err != nil {
		var eerr *exec.ExitError
		if errors.As(err, &eerr) {
			status := eerr.ProcessState.Sys().(syscall.WaitStatus)
			p.log.Info("remuxer exited",
				zap.Int("exit_code", status.ExitStatus()),
				zap.Bool("signaled", status.Signaled()))
		} else {
			p.log.Error("remuxer wait failed", zap.Error(err))
		}
		werr := fmt.Errorf("%w: %v", ErrProcess, err)
		p.exitErr.Store(&werr)
	} else {
		p.log.Info("remuxer exited cleanly")
		werr := fmt.Errorf("%w: exited", ErrProcess)
		p.exitErr.Store(&werr)
	}

	close(p.done)
}

// Done fires once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err reports why the process ended. Any exit during a live session is a
// failure from the bridge's point of view, so Err is non-nil once Done has
// fired.
func (p *Process) Err() error {
	if e := p.exitErr.Load(); e != nil {
		return *e
	}
	return nil
}

// PID returns the child process ID.
func (p *Process) PID() int { return p.pid }

// Stop requests graceful termination and blocks until the child is reaped:
// SIGTERM to the group, grace period, then SIGKILL. Idempotent and safe on
// an already-exited handle.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.log.Info("stopping remuxer")
		if err := syscall.Kill(-p.pid, syscall.SIGTERM); err != nil {
			p.log.Warn("SIGTERM failed", zap.Error(err))
		}

		t := time.NewTimer(stopGrace)
		defer t.Stop()

		select {
		case <-p.done:
			p.log.Info("remuxer terminated after SIGTERM")
		case <-t.C:
			p.log.Warn("grace timeout expired, sending SIGKILL")
			if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil {
				p.log.Error("SIGKILL failed", zap.Error(err))
			}
			<-p.done
		}
	})
	<-p.done
}

// isErrorLine reports whether a stderr line should be surfaced through the
// logger. The remuxer runs with "-v error", so most lines qualify; the
// marker filters its occasional progress noise.
func isErrorLine(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "error") || strings.Contains(l, "failed") ||
		strings.Contains(l, "invalid") || strings.Contains(l, "unable")
}
