package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyon-sec/authgate/internal/ratelimit"
)

// RateLimitStore implements ratelimit.Store on the login_attempts
// table. The whole read-increment-write happens in one upsert, so a
// race between concurrent attempts for the same key can at worst
// overcount, which is the safe direction for a throttle.
type RateLimitStore struct {
	pool *pgxpool.Pool
}

// NewRateLimitStore creates a store over the given pool.
func NewRateLimitStore(pool *pgxpool.Pool) *RateLimitStore {
	return &RateLimitStore{pool: pool}
}

// Increment applies the full window step atomically: an actively locked
// row is returned frozen; an expired lock or a stale window starts a
// fresh count at one; otherwise the count goes up by one.
func (s *RateLimitStore) Increment(ctx context.Context, key ratelimit.Key, now time.Time, window time.Duration) (ratelimit.Record, error) {
	const query = `
		INSERT INTO login_attempts AS la
			(source_address, endpoint, attempts, window_start, last_attempt, locked_until)
		VALUES ($1, $2, 1, $3, $3, NULL)
		ON CONFLICT (source_address, endpoint) DO UPDATE SET
			attempts = CASE
				WHEN la.locked_until IS NOT NULL AND la.locked_until > $3 THEN la.attempts
				WHEN la.locked_until IS NOT NULL OR la.last_attempt < $4 THEN 1
				ELSE la.attempts + 1
			END,
			window_start = CASE
				WHEN la.locked_until IS NOT NULL AND la.locked_until > $3 THEN la.window_start
				WHEN la.locked_until IS NOT NULL OR la.last_attempt < $4 THEN $3
				ELSE la.window_start
			END,
			last_attempt = CASE
				WHEN la.locked_until IS NOT NULL AND la.locked_until > $3 THEN la.last_attempt
				ELSE $3
			END,
			locked_until = CASE
				WHEN la.locked_until IS NOT NULL AND la.locked_until > $3 THEN la.locked_until
				ELSE NULL
			END
		RETURNING attempts, window_start, last_attempt, locked_until`

	staleBefore := now.Add(-window)

	var rec ratelimit.Record
	var lockedUntil *time.Time
	err := s.pool.QueryRow(ctx, query,
		key.SourceAddress, key.Endpoint, now, staleBefore,
	).Scan(&rec.Attempts, &rec.WindowStart, &rec.LastAttempt, &lockedUntil)
	if err != nil {
		return ratelimit.Record{}, fmt.Errorf("increment rate limit: %w", err)
	}
	if lockedUntil != nil {
		rec.LockedUntil = *lockedUntil
	}
	return rec, nil
}

// Lock freezes the key until the given time.
func (s *RateLimitStore) Lock(ctx context.Context, key ratelimit.Key, until time.Time) error {
	const query = `
		UPDATE login_attempts
		SET locked_until = $3
		WHERE source_address = $1 AND endpoint = $2`

	if _, err := s.pool.Exec(ctx, query, key.SourceAddress, key.Endpoint, until); err != nil {
		return fmt.Errorf("lock rate limit: %w", err)
	}
	return nil
}

// Delete removes the record for key entirely.
func (s *RateLimitStore) Delete(ctx context.Context, key ratelimit.Key) error {
	const query = `
		DELETE FROM login_attempts
		WHERE source_address = $1 AND endpoint = $2`

	if _, err := s.pool.Exec(ctx, query, key.SourceAddress, key.Endpoint); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

// PurgeStale removes rows idle since before cutoff whose lock, if any,
// has also lapsed by then.
func (s *RateLimitStore) PurgeStale(ctx context.Context, cutoff time.Time) error {
	const query = `
		DELETE FROM login_attempts
		WHERE last_attempt < $1
		  AND (locked_until IS NULL OR locked_until < $1)`

	if _, err := s.pool.Exec(ctx, query, cutoff); err != nil {
		return fmt.Errorf("purge rate limits: %w", err)
	}
	return nil
}
