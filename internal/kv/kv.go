// Package kv defines the key-value store contract every memory tier is
// built on: hash records, membership sets, score-ranked sorted sets, key
// expiry, and atomic increments. The production implementation is Redis
// (see Redis); Memory provides the same semantics in-process for tests
// and single-node development.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a store round-trip that failed because the
// dependency is unreachable. The resilience layer retries these;
// everything else is returned to the caller as-is.
var ErrUnavailable = errors.New("key-value store unavailable")

// Member is a sorted-set member with its score.
type Member struct {
	Member string
	Score  float64
}

// Store is the minimal surface the memory tiers need. All operations are
// single-key and atomic on the server side; callers compose them in
// recoverable orders rather than relying on transactions.
type Store interface {
	// Hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	// SScan walks a set in pages of roughly count members. A returned
	// cursor of 0 means the scan is complete.
	SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error)

	// Sorted sets
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Keys
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
