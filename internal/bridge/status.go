package bridge

import "time"

// State is the supervisor's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateStreaming
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the bridge, served by the
// diagnostics API and published to the status registry.
type Status struct {
	CameraID      string    `json:"camera_id"`
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	LastFrameAt   time.Time `json:"last_frame_at,omitzero"`
	VideoFrames   uint64    `json:"video_frames"`
	AudioFrames   uint64    `json:"audio_frames"`
	DroppedFrames uint64    `json:"dropped_frames"` // malformed, unknown tag, or gated video
	DroppedChunks uint64    `json:"dropped_chunks"` // pipe backpressure drops
}
