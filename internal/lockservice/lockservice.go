// Package lockservice provides the distributed mutual-exclusion primitive
// the PollExecutor uses to serialize all activity for a single plant
// (invariant I6). It is the one component with no teacher analogue: the
// teacher is single-process and relies on an in-memory heap mutex instead.
package lockservice

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the caller's token does not match
// the current holder (already expired, or never acquired).
var ErrNotHeld = errors.New("lockservice: lock not held by this token")

// LockService hands out exclusive, TTL-bounded leases keyed by plant lock
// key (domain.PlantLockKey). A lease is identified by an opaque token that
// only its holder can use to release it early.
type LockService interface {
	// Acquire attempts to take the lock for key with the given ttl. It
	// returns ok=false (no error) if the lock is already held by someone
	// else — this is the normal "skip this tick" case, not a failure.
	Acquire(ctx context.Context, key string, ttl time.Duration, token string) (ok bool, err error)

	// Release drops the lock for key iff it is currently held by token.
	// Releasing a lock you don't hold (already expired and re-acquired by
	// someone else) returns ErrNotHeld and must not remove the new holder's
	// lease.
	Release(ctx context.Context, key string, token string) error
}
