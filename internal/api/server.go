// Package api serves the local diagnostics endpoints: liveness, bridge
// status, and the remuxer stderr tail. It is an operator-facing loopback
// surface with no authentication.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/edirooss/miloco-bridge/internal/bridge"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusSource yields bridge snapshots; satisfied by *bridge.Supervisor.
type StatusSource interface {
	Snapshot() bridge.Status
}

// LogSource yields the newest remuxer stderr lines; satisfied by
// *remux.LogBuffer.
type LogSource interface {
	Read(lines int) []string
}

// Server is the diagnostics HTTP server.
type Server struct {
	log  *zap.Logger
	http *http.Server
}

// NewServer wires the routes. addr is the listen address.
func NewServer(log *zap.Logger, addr string, status StatusSource, logs LogSource) *Server {
	log = log.Named("api")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog(log))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Snapshot())
	})
	r.GET("/api/logs", func(c *gin.Context) {
		lines := 100
		if raw := c.Query("lines"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a non-negative integer"})
				return
			}
			lines = n
		}
		out := logs.Read(lines)
		if out == nil {
			out = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"lines": out})
	})

	return &Server{
		log: log,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 2 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Handler exposes the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("diagnostics API listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.http.Shutdown(sctx)
		<-errCh
		return nil
	}
}

// accessLog records request details with Zap after handling.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
