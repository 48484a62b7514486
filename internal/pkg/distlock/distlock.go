// Package distlock guards the one-writer-per-company invariant for sync
// runs. The scheduler, the manual trigger endpoint, and the CLI all take
// the same lock before touching a company's snapshots.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by WithLock when another process owns the lock.
var ErrLockHeld = errors.New("distlock: lock is held by another owner")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Locker hands out per-key locks from one backend.
type Locker struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewLocker creates a Locker. If redisClient is non-nil, Redis is used
// (preferred for cross-host locking). Otherwise PostgreSQL advisory locks.
func NewLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Locker {
	return &Locker{redis: redisClient, db: db, ttl: ttl}
}

// CompanySyncKey is the lock key for a company's sync run.
func CompanySyncKey(companyID string) string {
	return "exigo-sync:" + companyID
}

// NewLock creates a lock for key using the Locker's backend.
func (l *Locker) NewLock(key string) DistLock {
	return NewLock(l.redis, l.db, key, l.ttl)
}

// WithLock runs fn while holding key. It returns ErrLockHeld without
// calling fn when the lock is taken. If the lock is lost mid-run, fn's
// context is canceled and the returned error wraps ErrNotOwner. Release
// uses a fresh context so a canceled run still frees its lock.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	runCtx, release, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	err = fn(runCtx)
	if cause := context.Cause(runCtx); errors.Is(cause, ErrNotOwner) {
		return errors.Join(err, cause)
	}
	return err
}

// Go takes key and then runs fn on a new goroutine that holds it until fn
// returns. It returns ErrLockHeld when the lock is taken, so callers can
// answer synchronously while the work continues.
func (l *Locker) Go(ctx context.Context, key string, fn func(ctx context.Context)) error {
	runCtx, release, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		fn(runCtx)
	}()
	return nil
}

func (l *Locker) acquire(ctx context.Context, key string) (context.Context, func(), error) {
	lock := l.NewLock(key)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil, ErrLockHeld
	}
	runCtx, stop := context.WithCancelCause(ctx)
	if rl, ok := lock.(*RedisLock); ok {
		go rl.keepAlive(runCtx, func() { stop(ErrNotOwner) })
	}
	release := func() {
		stop(nil)
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}
	return runCtx, release, nil
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped,
// so both calls must run on the same pooled connection. The lock pins a
// *sql.Conn between Acquire and Release for that reason.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns the pinned connection.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
