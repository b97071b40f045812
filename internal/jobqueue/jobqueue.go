// Package jobqueue implements the worker's §5 concurrency model: at most
// one process-pdf job and one batch visual-analysis run active at a
// time. Grounded on the gateway's middleware.Semaphore (bounded
// concurrency per key, here a single fixed key) for the in-process
// guard, plus a redis SETNX lock — mirroring the teacher's go-redis
// usage for shared state — so that two worker processes pointed at the
// same database cannot double-process a deck if ever run redundantly.
package jobqueue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// Executor serializes job execution: one slot for full-deck runs, one
// for batch visual-analysis runs, each independently guarded so a
// long-running deck never blocks health/model-list requests but also
// never runs concurrently with another deck.
type Executor struct {
	deckSlot  chan struct{}
	batchSlot chan struct{}
	rdb       *redis.Client
	lockTTL   time.Duration
	log       zerolog.Logger
}

// NewExecutor builds an Executor. rdb may be nil, in which case the
// distributed lock is skipped and only the in-process semaphore applies
// — correct for the single-worker-node deployment the spec assumes.
func NewExecutor(rdb *redis.Client, log zerolog.Logger) *Executor {
	return &Executor{
		deckSlot:  make(chan struct{}, 1),
		batchSlot: make(chan struct{}, 1),
		rdb:       rdb,
		lockTTL:   30 * time.Minute,
		log:       log.With().Str("subsystem", "jobqueue").Logger(),
	}
}

// TryAcquireDeck attempts to reserve the single deck-run slot for
// deckID. release is nil and ok is false if a run is already in
// progress (locally or, if redis is configured, on another node).
func (e *Executor) TryAcquireDeck(ctx context.Context, deckID int64) (release func(), ok bool, err error) {
	select {
	case e.deckSlot <- struct{}{}:
	default:
		return nil, false, nil
	}

	lockKey := deckLockKey(deckID)
	if !e.acquireDistributed(ctx, lockKey) {
		<-e.deckSlot
		return nil, false, nil
	}

	return func() {
		e.releaseDistributed(ctx, lockKey)
		<-e.deckSlot
	}, true, nil
}

// batchLockKey is fixed, not per-batch: at most one batch run is ever
// allowed across the fleet at a time (§5), and batchID is minted fresh
// per call (worker/handlers.go generates a new uuid for every
// RunVisualAnalysisBatch request), so keying the distributed lock on it
// would never actually collide between two concurrent callers.
const batchLockKey = "deckreview:lock:batch"

// TryAcquireBatch reserves the single batch-run slot. batchID identifies
// the caller's run for logging only; it plays no part in the lock key.
func (e *Executor) TryAcquireBatch(ctx context.Context, batchID string) (release func(), ok bool) {
	select {
	case e.batchSlot <- struct{}{}:
	default:
		return nil, false
	}

	if !e.acquireDistributed(ctx, batchLockKey) {
		<-e.batchSlot
		return nil, false
	}

	return func() {
		e.releaseDistributed(ctx, batchLockKey)
		<-e.batchSlot
	}, true
}

func deckLockKey(deckID int64) string {
	const base = "deckreview:lock:deck:"
	return base + itoa(deckID)
}

func (e *Executor) acquireDistributed(ctx context.Context, key string) bool {
	if e.rdb == nil {
		return true
	}
	ok, err := e.rdb.SetNX(ctx, key, "1", e.lockTTL).Result()
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("distributed lock unavailable, proceeding on in-process guard alone")
		return true
	}
	return ok
}

func (e *Executor) releaseDistributed(ctx context.Context, key string) {
	if e.rdb == nil {
		return
	}
	if err := e.rdb.Del(ctx, key).Err(); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("failed to release distributed lock")
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ErrBusy is the Conflict-kind error for a failed acquire attempt. This
// package does not return it, and the worker's handlers write their own
// 409 "busy" body instead of using it.
var ErrBusy = apperr.New(apperr.Conflict, "a job is already in progress")
