package cache

import (
	"context"
	"time"
)

// Cache is the redis surface used for campaign status and merge locks.
type Cache interface {
	KeyValue
	List
	Locker

	Ping(ctx context.Context) error
	Close() error
}

// KeyValue stores status snapshots. A missing key reads as "" with no error.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a zero ttl keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// List backs the recent-campaigns index.
type List interface {
	LPush(ctx context.Context, key string, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// Locker is an owner-checked lease lock.
type Locker interface {
	// TryLock reports whether the lock was taken. It never blocks.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock and ExtendLock only act on locks held by this client.
	Unlock(ctx context.Context, key string) error
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}
