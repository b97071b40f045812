// Package redisclient opens the shared redis.Client both nodes use: the
// orchestrator for batch progress tracking (internal/orchestrator's
// BatchTracker) and the worker for jobqueue's distributed single-flight
// lock. Grounded on the gateway's redisclient package, trimmed to return
// the raw *redis.Client directly since both callers already wrap it in
// their own typed API rather than needing a second wrapper layer.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New parses rawURL and returns a *redis.Client, or nil with an error if
// the URL is malformed. No connection is made here; the client dials
// lazily on first use, and Ping checks connectivity. Connectivity is not a hard
// dependency (§9): callers treat a failed Ping as "proceed without
// redis" rather than a fatal startup error.
func New(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping checks connectivity with a short timeout.
func Ping(rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
