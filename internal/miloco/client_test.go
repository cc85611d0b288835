package miloco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// authServer mimics the vendor login endpoints: a successful login sets the
// session cookie, and the status endpoint demands it.
func authServer(t *testing.T, loginStatus, statusStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "admin", creds.Username)
		require.Equal(t, "hunter2", creds.Password)

		if loginStatus != http.StatusOK {
			w.WriteHeader(loginStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "tok-123"})
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7})
	})
	mux.HandleFunc("/api/miot/login_status", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(statusStatus)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginSuccess(t *testing.T) {
	srv := authServer(t, http.StatusOK, http.StatusOK)

	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Login(context.Background()))
}

func TestLoginRejectedCredentials(t *testing.T) {
	srv := authServer(t, http.StatusUnauthorized, http.StatusOK)

	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	defer c.Close()

	require.ErrorIs(t, c.Login(context.Background()), ErrAuth)
}

func TestLoginStatusCheckFails(t *testing.T) {
	srv := authServer(t, http.StatusOK, http.StatusInternalServerError)

	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	defer c.Close()

	require.ErrorIs(t, c.Login(context.Background()), ErrAuth)
}

func TestLoginTransportError(t *testing.T) {
	srv := authServer(t, http.StatusOK, http.StatusOK)
	srv.Close()

	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	defer c.Close()

	require.ErrorIs(t, c.Login(context.Background()), ErrAuth)
}

// streamServer upgrades the stream path to a WebSocket and hands the
// connection to serve. It rejects requests without the session cookie, so a
// passing dial also proves cookie propagation from login.
func streamServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "tok-123"})
	})
	mux.HandleFunc("/api/miot/login_status", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/miot/ws/video_stream", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "cam-1", r.URL.Query().Get("camera_id"))
		require.Equal(t, "0", r.URL.Query().Get("channel"))
		require.Equal(t, "high", r.URL.Query().Get("video_quality"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		serve(conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server, recvTimeout time.Duration) *Stream {
	t.Helper()
	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.Login(context.Background()))

	s, err := c.DialStream(context.Background(), "cam-1", "0", "high", recvTimeout)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStreamDeliversBinaryFrames(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0xAA, 0xBB}))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x02, 0xCC}))
		time.Sleep(200 * time.Millisecond)
	})

	s := dialStream(t, srv, 5*time.Second)

	frame, err := s.NextFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0xAA, 0xBB}, frame)

	frame, err = s.NextFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0xCC}, frame)
}

func TestStreamRejectsTextFrames(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
		time.Sleep(200 * time.Millisecond)
	})

	s := dialStream(t, srv, 5*time.Second)

	_, err := s.NextFrame()
	require.ErrorIs(t, err, ErrProtocol)
}

func TestStreamReceiveTimeout(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})

	s := dialStream(t, srv, 50*time.Millisecond)

	start := time.Now()
	_, err := s.NextFrame()
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStreamServerClose(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
		time.Sleep(200 * time.Millisecond)
	})

	s := dialStream(t, srv, 5*time.Second)

	_, err := s.NextFrame()
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestDialStreamWithoutEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	c, err := NewClient(zap.NewNop(), srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DialStream(context.Background(), "cam-1", "0", "high", time.Second)
	require.Error(t, err)
}
