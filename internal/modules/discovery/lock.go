package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobLock is the distributed TTL lock ensuring exactly one discovery run
// per strategy at a time. Acquisition is SET NX EX; the TTL releases a
// crashed holder's lock automatically.
type JobLock struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewJobLock creates the lock manager.
func NewJobLock(rdb *redis.Client, log zerolog.Logger) *JobLock {
	return &JobLock{
		rdb: rdb,
		log: log.With().Str("component", "job_lock").Logger(),
	}
}

// Acquire attempts to take the lock, stamping it with holder (the run ID).
// Returns false when another holder owns it.
func (l *JobLock) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if ok {
		l.log.Info().Str("key", key).Str("holder", holder).Dur("ttl", ttl).Msg("Lock acquired")
	} else {
		l.log.Warn().Str("key", key).Msg("Lock already held")
	}
	return ok, nil
}

// Release frees the lock, but only if this holder still owns it: a
// holder that outlived its TTL must not delete a successor's lock.
func (l *JobLock) Release(ctx context.Context, key, holder string) error {
	// Check-and-delete in one atomic step.
	const script = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`
	deleted, err := l.rdb.Eval(ctx, script, []string{key}, holder).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if deleted == 0 {
		l.log.Warn().Str("key", key).Str("holder", holder).Msg("Lock expired or taken over before release")
		return nil
	}
	l.log.Info().Str("key", key).Msg("Lock released")
	return nil
}
