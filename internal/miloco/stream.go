package miloco

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrTimeout classifies an elapsed receive deadline: the camera stopped
	// sending without closing the connection.
	ErrTimeout = errors.New("stream receive timeout")

	// ErrProtocol classifies unexpected non-binary traffic on the stream
	// socket. Media is binary-only; anything else ends the session.
	ErrProtocol = errors.New("stream protocol violation")

	// ErrStreamClosed reports an orderly close from the server side.
	ErrStreamClosed = errors.New("stream closed by server")
)

// Stream is a live frame source over one WebSocket connection. It is a lazy,
// non-restartable sequence: after NextFrame returns an error the stream is
// finished and must be closed.
//
// NextFrame is single-reader; Close may be called concurrently from another
// goroutine to unblock a pending receive.
type Stream struct {
	log         *zap.Logger
	conn        *websocket.Conn
	recvTimeout time.Duration

	closeOnce sync.Once
}

// NextFrame blocks until the next binary frame arrives, bounded by the
// receive deadline. Ping/pong control traffic is handled transparently by
// the transport and never surfaces here.
func (s *Stream) NextFrame() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.recvTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: no data within %s", ErrTimeout, s.recvTimeout)
		}
		var cerr *websocket.CloseError
		if errors.As(err, &cerr) {
			return nil, fmt.Errorf("%w: %v", ErrStreamClosed, cerr)
		}
		return nil, fmt.Errorf("stream receive: %w", err)
	}

	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected message type %d", ErrProtocol, typ)
	}
	return data, nil
}

// Close tears down the connection, unblocking any pending NextFrame.
// Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("stream close", zap.Error(err))
		}
	})
}
