// Package store provides the key-value backends shared by the counter,
// leaderboard and notification components.
//
// All state lives in the store; the rest of the process holds no shared
// mutable data. Multi-key updates go through Watch, which gives optimistic
// concurrency over a set of keys and commits queued writes atomically.
package store

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by Tx.Exec (and Watch) when a watched key was
	// modified by another client before the queued writes could commit.
	// Nothing was written; callers usually retry.
	ErrConflict = errors.New("store: watched key changed")

	// ErrUnavailable is returned when no store is configured.
	ErrUnavailable = errors.New("store: unavailable")
)

// Member is a sorted set entry.
type Member struct {
	ID    string
	Score float64
}

// Reader is the read side of a store, available both directly and inside
// a transaction.
type Reader interface {
	// Get returns the string value at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// HGetAll returns all fields of the hash at key. Absent keys yield an
	// empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HGetAllBatch is HGetAll for several keys in one round trip. The result
	// is aligned with keys.
	HGetAllBatch(ctx context.Context, keys []string) ([]map[string]string, error)

	// ZRevRangeWithScores returns up to limit members of the sorted set at
	// key, highest score first. Members with equal scores are ordered by ID
	// descending (byte-wise), matching Redis ZREVRANGE.
	ZRevRangeWithScores(ctx context.Context, key string, limit int64) ([]Member, error)
}

// Pipe queues writes inside a transaction. Nothing is applied until the
// enclosing Tx.Exec commits.
type Pipe interface {
	Incr(key string) *IntResult
	Set(key, value string)
	HSet(key string, values map[string]string)
	ZIncrBy(key string, incr float64, member string)
}

// Tx is the view a Watch callback gets of the store.
type Tx interface {
	Reader

	// Exec queues the writes made by fn and commits them atomically, or
	// returns ErrConflict if a watched key changed.
	Exec(ctx context.Context, fn func(Pipe) error) error
}

// Store is a key-value backend. Implementations must be safe for
// concurrent use.
type Store interface {
	Reader

	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error

	// Watch runs fn with optimistic locking on keys. Writes queued through
	// Tx.Exec only commit if none of keys changed after Watch began.
	Watch(ctx context.Context, fn func(Tx) error, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}

// IntResult holds the reply of a queued integer command. Val is only
// meaningful after the transaction committed.
type IntResult struct {
	val int64
}

// Val returns the command's reply.
func (r *IntResult) Val() int64 {
	if r == nil {
		return 0
	}
	return r.val
}
