// Package repo provides the Redis-backed side-state of the bridge: the
// per-camera advisory lease and the published bridge status. Both are
// optional; a bridge configured without Redis runs with neither.
package repo

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Repository bundles the Redis-backed repositories.
type Repository struct {
	log    *zap.Logger
	client *redis.Client

	Lease  *LeaseRepository
	Status *StatusRepository
}

// NewRepository connects to Redis at addr and wires the repositories.
func NewRepository(log *zap.Logger, addr string) *Repository {
	log = log.Named("repo")
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	return &Repository{
		log:    log,
		client: client,
		Lease:  newLeaseRepository(log, client),
		Status: newStatusRepository(log, client),
	}
}

// Close releases the Redis connection pool.
func (r *Repository) Close() error {
	return r.client.Close()
}
