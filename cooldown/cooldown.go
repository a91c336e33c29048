// Package cooldown enforces the minimum interval between two successful
// increments by the same user.
//
// The last successful increment time of each user is kept in the store as
// unix seconds. Checking is a pure read; the timestamp is only written as
// part of a successful increment transaction (see Mark).
package cooldown

import (
	"context"
	"strconv"
	"time"

	"github.com/nhalm/tapcount/store"
)

// Window is the default interval between successful increments by one user.
const Window = 10 * time.Second

// Key returns the key holding userID's last successful increment time.
func Key(userID string) string {
	return "user:" + userID + ":lastIncrement"
}

// Limiter computes remaining cooldown from stored timestamps.
type Limiter struct {
	window int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the cooldown window. Sub-second precision is
// dropped; the window is tracked in whole seconds.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		l.window = int64(d / time.Second)
	}
}

// New creates a Limiter with a 10 second window unless overridden.
func New(opts ...Option) *Limiter {
	l := &Limiter{window: int64(Window / time.Second)}
	for _, opt := range opts {
		opt(l)
	}
	if l.window < 0 {
		l.window = 0
	}
	return l
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return time.Duration(l.window) * time.Second
}

// Remaining returns the whole seconds userID must still wait before the
// next increment, clamped to [0, window] so a record written by a host
// with a clock ahead of ours cannot extend the wait. Users with no recorded increment, an empty
// userID, or an unparseable stored value are eligible immediately.
func (l *Limiter) Remaining(ctx context.Context, r store.Reader, userID string, now time.Time) (int64, error) {
	if userID == "" {
		return 0, nil
	}

	raw, ok, err := r.Get(ctx, Key(userID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}

	return min(l.window, max(0, l.window-(now.Unix()-last))), nil
}

// Mark queues the write recording now as userID's last increment.
func (l *Limiter) Mark(pipe store.Pipe, userID string, now time.Time) {
	pipe.Set(Key(userID), strconv.FormatInt(now.Unix(), 10))
}
