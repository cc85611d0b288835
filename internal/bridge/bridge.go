//go:build linux

// Package bridge runs the outer supervision loop of the camera bridge.
//
// One session attempt wires the full pipeline: authenticate, open both pipe
// channels, start the remuxer, dial the stream WebSocket, then pump frames
// through the demuxer until something fails. Every failure, wherever it
// originated, is handled uniformly: classify for logging, tear everything
// down, wait a fixed delay, start over. The loop has no terminal state; it
// runs until the context is cancelled.
//
// State machine:
//
//	DISCONNECTED → AUTHENTICATING → STREAMING → TEARDOWN → (delay) → DISCONNECTED
package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/edirooss/miloco-bridge/internal/config"
	"github.com/edirooss/miloco-bridge/internal/demux"
	"github.com/edirooss/miloco-bridge/internal/miloco"
	"github.com/edirooss/miloco-bridge/internal/pipe"
	"github.com/edirooss/miloco-bridge/internal/remux"
	"github.com/edirooss/miloco-bridge/internal/repo"
	"github.com/edirooss/miloco-bridge/pkg/ffmpegcmd"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	leaseTTL     = 30 * time.Second
	tickInterval = 10 * time.Second // lease refresh + status publish cadence
)

// Supervisor owns the lifetime of every per-session resource: the
// authenticated client, both pipe channels, and the remuxer handle. All are
// created together at session start and destroyed together at teardown,
// regardless of which one initiated the failure.
type Supervisor struct {
	log    *zap.Logger
	cfg    *config.Config
	repo   *repo.Repository // nil when Redis is not configured
	logBuf *remux.LogBuffer

	state     atomic.Int32
	sessionID atomic.Value // string
	lastFrame atomic.Int64 // unix nanos; 0 = none this session
	live      atomic.Pointer[liveSession]

	videoFrames   atomic.Uint64
	audioFrames   atomic.Uint64
	droppedFrames atomic.Uint64
	droppedChunks atomic.Uint64
}

// liveSession holds the counter sources of the session in flight so
// Snapshot can read them on demand instead of waiting for the tick.
type liveSession struct {
	dmx   *demux.Demuxer
	video *pipe.Channel
	audio *pipe.Channel
}

// New builds a Supervisor. rep may be nil to disable the lease and status
// registry.
func New(log *zap.Logger, cfg *config.Config, rep *repo.Repository) *Supervisor {
	s := &Supervisor{
		log:    log.Named("bridge").With(zap.String("camera_id", cfg.CameraID)),
		cfg:    cfg,
		repo:   rep,
		logBuf: &remux.LogBuffer{},
	}
	s.sessionID.Store("")
	return s
}

// Logs exposes the remuxer stderr ring buffer for the diagnostics API.
func (s *Supervisor) Logs() *remux.LogBuffer { return s.logBuf }

// Snapshot returns the current bridge status, with counters pulled from the
// in-flight session if one exists.
func (s *Supervisor) Snapshot() Status {
	s.syncCounters()
	st := Status{
		CameraID:      s.cfg.CameraID,
		SessionID:     s.sessionID.Load().(string),
		State:         State(s.state.Load()).String(),
		VideoFrames:   s.videoFrames.Load(),
		AudioFrames:   s.audioFrames.Load(),
		DroppedFrames: s.droppedFrames.Load(),
		DroppedChunks: s.droppedChunks.Load(),
	}
	if ns := s.lastFrame.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}

// Run executes the supervision loop until ctx is cancelled. It always
// returns ctx.Err(); session failures are absorbed by the retry policy.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info("bridge supervisor started",
		zap.String("base_url", s.cfg.BaseURL),
		zap.String("rtsp_url", s.cfg.RTSPURL),
		zap.String("video_codec", s.cfg.VideoCodec))

	for {
		err := s.runSession(ctx)

		s.transition(ctx, StateDisconnected)
		if ctx.Err() != nil {
			s.log.Info("bridge supervisor stopped")
			return ctx.Err()
		}

		s.log.Warn("session ended, retrying",
			zap.String("class", classify(err)),
			zap.Duration("delay", s.cfg.RetryDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			s.log.Info("bridge supervisor stopped")
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// runSession performs one full pipeline lifecycle. Resources are released
// via defers in reverse order of acquisition: stream, remuxer, pipes,
// client, lease. A failure at any step skips the not-yet-acquired rest.
func (s *Supervisor) runSession(ctx context.Context) error {
	sessionID := uuid.NewString()
	s.sessionID.Store(sessionID)
	s.resetCounters()
	log := s.log.With(zap.String("session_id", sessionID))

	s.transition(ctx, StateAuthenticating)
	defer s.transition(context.WithoutCancel(ctx), StateTeardown)

	// Advisory lease: refuse to race another bridge on the same FIFOs.
	if s.repo != nil {
		if err := s.repo.Lease.Acquire(ctx, s.cfg.CameraID, sessionID, leaseTTL); err != nil {
			return fmt.Errorf("acquire lease: %w", err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			if err := s.repo.Lease.Release(rctx, s.cfg.CameraID, sessionID); err != nil {
				log.Warn("lease release failed", zap.Error(err))
			}
		}()
	}

	client, err := miloco.NewClient(log, s.cfg.BaseURL, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	defer client.Close()

	if err := client.Login(ctx); err != nil {
		return err
	}

	// Sinks and remuxer come up before the WebSocket so the pipes are ready
	// the instant frames arrive.
	videoPipe, err := pipe.Open(log, s.pipePath("video"), s.cfg.WriteTimeout)
	if err != nil {
		return err
	}
	defer videoPipe.Close()

	audioPipe, err := pipe.Open(log, s.pipePath("audio"), s.cfg.WriteTimeout)
	if err != nil {
		return err
	}
	defer audioPipe.Close()

	argv := ffmpegcmd.BuildArgv(ffmpegcmd.RemuxSpec{
		Bin:        s.cfg.FFmpegPath,
		VideoPipe:  videoPipe.Path(),
		AudioPipe:  audioPipe.Path(),
		VideoCodec: s.cfg.VideoCodec,
		RTSPURL:    s.cfg.RTSPURL,
	})
	proc, err := remux.Start(log, s.logBuf, argv)
	if err != nil {
		return err
	}
	defer proc.Stop()

	dmx := demux.New(log, demux.Options{
		Video:   videoPipe,
		Audio:   audioPipe,
		Scanner: demux.ScannerForCodec(s.cfg.VideoCodec),
	})
	s.live.Store(&liveSession{dmx: dmx, video: videoPipe, audio: audioPipe})
	defer func() {
		// Capture the final counters before the session sources go away.
		s.syncCounters()
		s.live.Store(nil)
	}()

	stream, err := client.DialStream(ctx, s.cfg.CameraID, s.cfg.Channel, s.cfg.VideoQuality, s.cfg.ReceiveTimeout)
	if err != nil {
		return err
	}
	defer stream.Close()

	s.transition(ctx, StateStreaming)
	log.Info("streaming started")

	recvErr := make(chan error, 1)
	go func() { recvErr <- s.receiveLoop(stream, dmx) }()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-recvErr:
			return err

		case <-proc.Done():
			s.reapReceiver(stream, recvErr)
			return proc.Err()

		case <-videoPipe.Done():
			s.reapReceiver(stream, recvErr)
			return pipeFailure(videoPipe, "video")

		case <-audioPipe.Done():
			s.reapReceiver(stream, recvErr)
			return pipeFailure(audioPipe, "audio")

		case <-ctx.Done():
			s.reapReceiver(stream, recvErr)
			return ctx.Err()

		case <-ticker.C:
			s.publishStatus(ctx)
			if s.repo != nil {
				if err := s.repo.Lease.Refresh(ctx, s.cfg.CameraID, sessionID, leaseTTL); err != nil {
					log.Warn("lease refresh failed", zap.Error(err))
				}
			}
		}
	}
}

// receiveLoop pumps frames from the stream into the demuxer. It exits on
// the first receive error; a stream closed during teardown surfaces here
// and unblocks the pending read.
func (s *Supervisor) receiveLoop(stream *miloco.Stream, dmx *demux.Demuxer) error {
	for {
		frame, err := stream.NextFrame()
		if err != nil {
			return err
		}
		if mf, ok := dmx.Dispatch(frame); ok {
			s.lastFrame.Store(mf.Arrival.UnixNano())
		}
	}
}

// reapReceiver closes the stream to unblock the receive goroutine and waits
// for it to exit, so teardown never races a live Dispatch.
func (s *Supervisor) reapReceiver(stream *miloco.Stream, recvErr <-chan error) {
	stream.Close()
	<-recvErr
}

func pipeFailure(c *pipe.Channel, name string) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%s pipe: %w", name, err)
	}
	return fmt.Errorf("%s pipe: %w: stopped unexpectedly", name, pipe.ErrPipe)
}

func (s *Supervisor) pipePath(kind string) string {
	return filepath.Join(s.cfg.PipeDir, fmt.Sprintf("miloco-%s-%s.pipe", s.cfg.CameraID, kind))
}

func (s *Supervisor) transition(ctx context.Context, to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.log.Info("state transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	s.publishStatus(ctx)
}

func (s *Supervisor) resetCounters() {
	s.lastFrame.Store(0)
	s.videoFrames.Store(0)
	s.audioFrames.Store(0)
	s.droppedFrames.Store(0)
	s.droppedChunks.Store(0)
}

// syncCounters copies the in-flight session's counters into the snapshot
// atomics. A no-op between sessions; the last synced values stay visible.
func (s *Supervisor) syncCounters() {
	ls := s.live.Load()
	if ls == nil {
		return
	}
	v, a, d := ls.dmx.Counters()
	s.videoFrames.Store(v)
	s.audioFrames.Store(a)
	s.droppedFrames.Store(d)
	_, vd := ls.video.Stats()
	_, ad := ls.audio.Stats()
	s.droppedChunks.Store(vd + ad)
}

// publishStatus is best-effort: a registry outage never affects the session.
func (s *Supervisor) publishStatus(ctx context.Context) {
	if s.repo == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	st := s.Snapshot()
	if err := s.repo.Status.Publish(pctx, repo.BridgeStatus{
		CameraID:      st.CameraID,
		SessionID:     st.SessionID,
		State:         st.State,
		LastFrameAt:   st.LastFrameAt,
		VideoFrames:   st.VideoFrames,
		AudioFrames:   st.AudioFrames,
		DroppedFrames: st.DroppedFrames,
		DroppedChunks: st.DroppedChunks,
	}); err != nil {
		s.log.Debug("status publish failed", zap.Error(err))
	}
}

// classify maps a session error onto the failure taxonomy for logging.
// All classes are handled identically by the retry policy.
func classify(err error) string {
	switch {
	case errors.Is(err, miloco.ErrAuth):
		return "auth"
	case errors.Is(err, miloco.ErrTimeout):
		return "timeout"
	case errors.Is(err, miloco.ErrProtocol):
		return "protocol"
	case errors.Is(err, miloco.ErrStreamClosed):
		return "stream_closed"
	case errors.Is(err, pipe.ErrPipe):
		return "pipe"
	case errors.Is(err, remux.ErrProcess):
		return "process"
	case errors.Is(err, repo.ErrLeaseHeld):
		return "lease_held"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
