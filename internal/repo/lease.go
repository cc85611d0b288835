package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseHeld indicates another bridge instance holds the camera lease.
var ErrLeaseHeld = errors.New("camera lease held by another bridge")

var leaseKeyPrefix = "miloco:bridge:lease:" // holder ID per camera

func leaseKey(cameraID string) string { return leaseKeyPrefix + cameraID }

// releaseScript deletes the lease only if this holder still owns it, so a
// slow teardown cannot clobber a lease reacquired by a newer instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseRepository implements the advisory per-camera lock. The two FIFO
// paths for a camera are exclusively owned by the lease holder; a second
// bridge on the same camera ID refuses to stream instead of racing on them.
//
// The lease is advisory: it expires on its own if the holder dies without
// releasing, and a bridge without Redis skips leasing entirely.
type LeaseRepository struct {
	log    *zap.Logger
	client *redis.Client
}

func newLeaseRepository(log *zap.Logger, client *redis.Client) *LeaseRepository {
	return &LeaseRepository{
		log:    log.Named("lease"),
		client: client,
	}
}

// Acquire takes the lease for cameraID on behalf of holder (the session ID).
// Returns ErrLeaseHeld if a live lease belongs to someone else.
func (r *LeaseRepository) Acquire(ctx context.Context, cameraID, holder string, ttl time.Duration) error {
	key := leaseKey(cameraID)
	ok, err := r.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		owner, err := r.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return fmt.Errorf("%w: holder %q", ErrLeaseHeld, owner)
	}
	r.log.Debug("lease acquired", zap.String("camera_id", cameraID), zap.String("holder", holder))
	return nil
}

// Refresh extends the lease TTL while streaming. Failing to refresh is not
// fatal for the session; the lease just expires earlier.
func (r *LeaseRepository) Refresh(ctx context.Context, cameraID, holder string, ttl time.Duration) error {
	key := leaseKey(cameraID)
	owner, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if owner != holder {
		return fmt.Errorf("%w: holder %q", ErrLeaseHeld, owner)
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Release drops the lease if holder still owns it. Idempotent.
func (r *LeaseRepository) Release(ctx context.Context, cameraID, holder string) error {
	key := leaseKey(cameraID)
	if err := releaseScript.Run(ctx, r.client, []string{key}, holder).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
