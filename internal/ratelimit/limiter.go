// Package ratelimit throttles repeated admissions keyed by source
// address and protected action, with a lockout once the attempt
// threshold is exceeded. State lives in a Store so it survives across
// processes; the limiter itself holds nothing but configuration.
package ratelimit

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Key identifies one counting bucket: who is knocking, and on which
// door.
type Key struct {
	SourceAddress string
	Endpoint      string
}

// Record is one bucket's state. Attempts never exceeds the threshold
// while unlocked; once locked it is frozen until LockedUntil elapses.
type Record struct {
	Attempts    int
	WindowStart time.Time
	LastAttempt time.Time
	LockedUntil time.Time // zero when not locked
}

// Store persists rate-limit records. Increment must be atomic with
// respect to concurrent increments for the same key, or at worst
// overcount, never undercount. It applies the full window logic in one
// step: frozen while locked, fresh window when the lock or the counting
// window has expired, plus one otherwise.
type Store interface {
	Increment(ctx context.Context, key Key, now time.Time, window time.Duration) (Record, error)
	Lock(ctx context.Context, key Key, until time.Time) error
	Delete(ctx context.Context, key Key) error
	PurgeStale(ctx context.Context, cutoff time.Time) error
}

// Config tunes the limiter.
type Config struct {
	// MaxAttempts admitted inside one window before lockout.
	MaxAttempts int
	// Window is the span over which attempts are counted.
	Window time.Duration
	// Lockout is how long all admissions are denied after the
	// threshold is exceeded; typically much longer than Window.
	Lockout time.Duration
	// Retention bounds how long idle, unlocked records are kept before
	// opportunistic cleanup removes them. Zero disables cleanup.
	Retention time.Duration
}

// Decision is the admission verdict. RetryAfter is set on denial.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Roughly one check in 64 also sweeps expired records. There is no
// background scheduler in this subsystem, so cleanup rides along on the
// request path.
const gcSampleEvery = 64

// Limiter decides admissions against a Store.
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New creates a limiter over the given store.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Check records one attempt for key and decides whether to admit it.
//
// The store applies lock-freeze, window-reset and increment in a single
// atomic step, so the worst concurrent interleaving overcounts, which
// is the safe failure direction for a throttle. A locked record is returned
// unchanged and denied with the remaining lock time. An attempt that
// pushes the count past MaxAttempts locks the key and is denied.
func (l *Limiter) Check(ctx context.Context, key Key) (Decision, error) {
	now := l.now()
	l.maybeCollect(ctx, now)

	rec, err := l.store.Increment(ctx, key, now, l.cfg.Window)
	if err != nil {
		return Decision{}, err
	}

	if !rec.LockedUntil.IsZero() && rec.LockedUntil.After(now) {
		return Decision{RetryAfter: rec.LockedUntil.Sub(now)}, nil
	}

	if rec.Attempts > l.cfg.MaxAttempts {
		until := now.Add(l.cfg.Lockout)
		if err := l.store.Lock(ctx, key, until); err != nil {
			return Decision{}, err
		}
		slog.Warn("rate_limit_lockout",
			"source", key.SourceAddress,
			"endpoint", key.Endpoint,
			"attempts", rec.Attempts,
			"locked_until", until,
		)
		return Decision{RetryAfter: l.cfg.Lockout}, nil
	}

	return Decision{Admitted: true}, nil
}

// Reset clears the record for key entirely, so a legitimate caller is
// not penalized by earlier failed attempts.
func (l *Limiter) Reset(ctx context.Context, key Key) error {
	return l.store.Delete(ctx, key)
}

// maybeCollect opportunistically purges records idle past the retention
// horizon. Best effort: a failed sweep is logged and forgotten.
func (l *Limiter) maybeCollect(ctx context.Context, now time.Time) {
	if l.cfg.Retention <= 0 || rand.Intn(gcSampleEvery) != 0 {
		return
	}
	if err := l.store.PurgeStale(ctx, now.Add(-l.cfg.Retention)); err != nil {
		slog.Debug("rate_limit_gc_failed", "error", err)
	}
}
