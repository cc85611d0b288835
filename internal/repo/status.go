package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrStatusNotFound indicates no status record exists for the camera.
var ErrStatusNotFound = errors.New("bridge status not found")

var statusKeyPrefix = "miloco:bridge:status:" // JSON value per camera

func statusKey(cameraID string) string { return statusKeyPrefix + cameraID }

// statusTTL keeps stale records from outliving a dead bridge for long.
const statusTTL = 5 * time.Minute

// BridgeStatus is the per-camera record published for dashboards.
type BridgeStatus struct {
	CameraID      string    `json:"camera_id"`
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	LastFrameAt   time.Time `json:"last_frame_at,omitempty"`
	VideoFrames   uint64    `json:"video_frames"`
	AudioFrames   uint64    `json:"audio_frames"`
	DroppedFrames uint64    `json:"dropped_frames"`
	DroppedChunks uint64    `json:"dropped_chunks"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusRepository provides Redis-backed publication of bridge state.
// Writes are best-effort: a Redis outage must never fail a session.
type StatusRepository struct {
	log    *zap.Logger
	client *redis.Client
}

func newStatusRepository(log *zap.Logger, client *redis.Client) *StatusRepository {
	return &StatusRepository{
		log:    log.Named("status"),
		client: client,
	}
}

// Publish stores/updates the status JSON at miloco:bridge:status:<camera>.
func (r *StatusRepository) Publish(ctx context.Context, s BridgeStatus) error {
	s.UpdatedAt = time.Now()
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	key := statusKey(s.CameraID)
	if err := r.client.Set(ctx, key, payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get fetches and decodes the status stored for cameraID.
func (r *StatusRepository) Get(ctx context.Context, cameraID string) (*BridgeStatus, error) {
	key := statusKey(cameraID)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var s BridgeStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &s, nil
}
