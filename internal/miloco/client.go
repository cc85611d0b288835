// Package miloco is the client for the Miloco camera server's HTTP and
// WebSocket APIs: credential login, session validation, and the live
// binary video stream.
package miloco

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrAuth classifies login and session-validation failures, including
// transport errors on the auth endpoints. The caller retries by policy;
// the client never retries internally.
var ErrAuth = errors.New("authentication failure")

const httpTimeout = 15 * time.Second

// Client talks to one Miloco server. The cookie jar established by Login is
// shared with the WebSocket dialer, so DialStream rides the authenticated
// session. One Client is scoped to one session attempt.
type Client struct {
	log      *zap.Logger
	base     *url.URL
	username string
	password string

	jar  *cookiejar.Jar
	http *http.Client
	tls  *tls.Config
}

// NewClient builds a client for baseURL ("http(s)://host:port", no trailing
// slash). Vendor appliances ship self-signed certificates, so certificate
// verification is disabled, matching the trust model of the LAN deployment.
func NewClient(log *zap.Logger, baseURL, username, password string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: true}
	return &Client{
		log:      log.Named("miloco"),
		base:     base,
		username: username,
		password: password,
		jar:      jar,
		tls:      tlsCfg,
		http: &http.Client{
			Jar:     jar,
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsCfg,
			},
		},
	}, nil
}

// Login authenticates against the vendor API and confirms the session is
// usable. Both calls must succeed:
//
//  1. POST /api/auth/login with the credentials (sets the session cookie)
//  2. GET /api/miot/login_status (vendor APIs may accept credentials while
//     the session is not yet live)
//
// Every failure, including DNS/TLS/connection errors, wraps ErrAuth.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("%w: encode credentials: %v", ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: login rejected: %d %s", ErrAuth, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var user struct {
		ID any `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err == nil && user.ID != nil {
		c.log.Info("login successful", zap.Any("user_id", user.ID))
	} else {
		c.log.Info("login successful")
	}

	return c.checkStatus(ctx)
}

// checkStatus verifies the session is actually usable.
func (c *Client) checkStatus(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/api/miot/login_status", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login status request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login status check: %d", ErrAuth, resp.StatusCode)
	}
	return nil
}

// DialStream opens the live video stream WebSocket for one camera, using the
// cookie state established by Login. recvTimeout bounds each frame receive.
func (c *Client) DialStream(ctx context.Context, cameraID, channel, quality string, recvTimeout time.Duration) (*Stream, error) {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/api/miot/ws/video_stream"
	q := url.Values{}
	q.Set("camera_id", cameraID)
	q.Set("channel", channel)
	q.Set("video_quality", quality)
	wsURL.RawQuery = q.Encode()

	c.log.Info("connecting to stream", zap.String("url", wsURL.String()))

	dialer := &websocket.Dialer{
		Jar:              c.jar,
		TLSClientConfig:  c.tls,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil) //nolint:bodyclose
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}

	return &Stream{
		log:         c.log.Named("stream"),
		conn:        conn,
		recvTimeout: recvTimeout,
	}, nil
}

// Close releases idle transport connections. The session cookie is simply
// discarded with the Client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
