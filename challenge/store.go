// Package challenge stores pending second-factor challenges: short-lived,
// single-use records linking a password-verified login attempt to the
// account awaiting its code. Two implementations are provided, an
// in-process map for single-instance deployments and a Redis-backed store
// for multi-instance ones; both satisfy the same interface.
package challenge

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a token is absent, expired, or already
	// invalidated. Expired records are evicted on lookup.
	ErrNotFound = errors.New("challenge not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("challenge backend unavailable")
)

// Challenge is the record behind a pending token.
type Challenge struct {
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
	Attempts  int
}

// Store is the pending-challenge contract. Tokens are generated fresh by
// the caller; a Put never overwrites a live record in practice.
//
// IncrementAttempts must be atomic per token: two concurrent increments
// observe distinct counts. The store never evicts on attempt count, only
// on age; the caller invalidates once the count reaches its maximum.
type Store interface {
	// Put registers a new challenge.
	Put(ctx context.Context, token string, ch Challenge) error
	// Validate returns the record if it exists and has not expired.
	// Expired records are treated as absent and evicted.
	Validate(ctx context.Context, token string) (Challenge, error)
	// IncrementAttempts atomically bumps the attempt counter and returns
	// the new count. An absent token is a no-op returning 0.
	IncrementAttempts(ctx context.Context, token string) (int, error)
	// Invalidate removes the token. It is idempotent and reports whether
	// a live record was actually removed, so callers can detect replays.
	Invalidate(ctx context.Context, token string) (bool, error)
	// Close releases any background resources.
	Close() error
}
