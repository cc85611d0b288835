//go:build linux

// Package pipe relays byte chunks from the network receive path into a named
// pipe (FIFO) without ever blocking the producer.
//
// Design:
//
//   - A bounded queue decouples the producer (demux path) from the consumer
//     goroutine that performs the blocking FIFO writes. The queue is the
//     only synchronization point between the two.
//   - Producer side is lossy under load: enqueue is attempted within a short
//     window (10ms) and the chunk is dropped on a full queue. Liveness of
//     fresh data beats completeness; the remuxer resynchronizes on the next
//     keyframe.
//   - The FIFO is opened read-write even though only the write direction is
//     used; a write-only open would block until the remuxer attaches as a
//     reader, deadlocking startup.
//   - Every close path (normal, write failure, forced teardown) removes the
//     FIFO from the filesystem.
package pipe

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrPipe classifies sink creation or write failures.
var ErrPipe = errors.New("pipe failure")

const (
	// QueueCapacity bounds in-flight chunks per channel.
	QueueCapacity = 1000

	enqueueWindow = 10 * time.Millisecond

	// defaultWriteDeadline bounds a single blocking FIFO write when the
	// caller does not supply its own. A stall this long means the reader
	// side is gone or wedged; the channel shuts down and the session tears
	// down.
	defaultWriteDeadline = 10 * time.Second
)

// Channel is a single-producer relay into one FIFO. Exactly one Channel owns
// a given path at a time; the FIFO exists on disk only while the Channel is
// open.
type Channel struct {
	log      *zap.Logger
	path     string
	file     *os.File
	deadline time.Duration

	queue chan []byte

	// stop ends the consumer loop; done fires after the consumer has exited
	// and the FIFO has been closed and unlinked. A done before Close means
	// the channel failed on its own (write error or stall).
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	failure   atomic.Pointer[error]

	written atomic.Uint64
	dropped atomic.Uint64
}

// Open removes any stale FIFO at path, creates a fresh one, opens it
// read-write, and starts the consumer goroutine. writeDeadline bounds each
// blocking FIFO write; zero or negative selects the default. A returned
// error wraps ErrPipe; a failed channel accepts no writes.
func Open(log *zap.Logger, path string, writeDeadline time.Duration) (*Channel, error) {
	return openWithCapacity(log, path, QueueCapacity, writeDeadline)
}

func openWithCapacity(log *zap.Logger, path string, capacity int, writeDeadline time.Duration) (*Channel, error) {
	if writeDeadline <= 0 {
		writeDeadline = defaultWriteDeadline
	}
	// A stale entry from a crashed run would make Mkfifo fail.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: remove stale %s: %v", ErrPipe, path, err)
	}
	if err := syscall.Mkfifo(path, 0o644); err != nil {
		return nil, fmt.Errorf("%w: mkfifo %s: %v", ErrPipe, path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: open %s: %v", ErrPipe, path, err)
	}

	c := &Channel{
		log:      log.Named("pipe").With(zap.String("path", path)),
		path:     path,
		file:     f,
		deadline: writeDeadline,
		queue:    make(chan []byte, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.consume()

	c.log.Debug("pipe channel opened")
	return c, nil
}

// Write enqueues one chunk. It never blocks beyond the enqueue window and
// never returns an error: on a full queue the chunk is dropped by policy.
// Safe to call after the channel has stopped (the chunk is dropped).
func (c *Channel) Write(chunk []byte) {
	select {
	case c.queue <- chunk:
		return
	default:
	}

	t := time.NewTimer(enqueueWindow)
	defer t.Stop()
	select {
	case c.queue <- chunk:
	case <-c.done:
		c.dropped.Add(1)
	case <-t.C:
		c.dropped.Add(1)
	}
}

// consume drains the queue into the FIFO until stopped or until a write
// fails. The deadline on each write catches a wedged reader side.
func (c *Channel) consume() {
	defer close(c.done)
	defer c.teardown()

	for {
		select {
		case <-c.stop:
			return
		case chunk := <-c.queue:
			_ = c.file.SetWriteDeadline(time.Now().Add(c.deadline))
			if _, err := c.file.Write(chunk); err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					err = fmt.Errorf("%w: write stalled beyond %s: %v", ErrPipe, c.deadline, err)
				} else {
					err = fmt.Errorf("%w: write: %v", ErrPipe, err)
				}
				c.failure.Store(&err)
				c.log.Error("pipe write failed, stopping channel", zap.Error(err))
				return
			}
			c.written.Add(1)
		}
	}
}

// teardown closes the handle and unlinks the FIFO. Runs exactly once, from
// the consumer goroutine.
func (c *Channel) teardown() {
	if err := c.file.Close(); err != nil {
		c.log.Warn("pipe close failed", zap.Error(err))
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("pipe unlink failed", zap.Error(err))
	}
	c.log.Debug("pipe channel closed",
		zap.Uint64("written", c.written.Load()),
		zap.Uint64("dropped", c.dropped.Load()))
}

// Close stops the consumer and waits for the FIFO to be closed and removed.
// Idempotent and callable from any goroutine, including after the channel
// already failed on its own.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// Unblock a write stuck inside the FIFO; Close on a poller-backed
		// file interrupts pending I/O.
		_ = c.file.SetWriteDeadline(time.Now())
	})
	<-c.done
}

// Done fires once the consumer has exited. Before Close is called, a fired
// Done means the channel failed; Err reports the cause.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the fatal write error, or nil if the channel stopped cleanly.
func (c *Channel) Err() error {
	if p := c.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Path returns the FIFO path.
func (c *Channel) Path() string { return c.path }

// Stats returns chunks written to the FIFO and chunks dropped by the
// producer-side backpressure policy.
func (c *Channel) Stats() (written, dropped uint64) {
	return c.written.Load(), c.dropped.Load()
}
