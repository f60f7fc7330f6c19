package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the backing pool was not initialised.
	ErrNotConfigured = errors.New("store: pool not configured")
)

// KV is the durable substrate for monitoring records, rules, queues, and
// history. It offers hash, set, and list primitives with per-key expiry,
// mirroring the semantics the engines rely on.
type KV interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, bool, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	// Lock serialises read-modify-write sequences on a single key. The
	// returned release func must be called once the critical section ends.
	Lock(ctx context.Context, key string) (func(), error)
}
