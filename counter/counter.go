// Package counter owns the shared counter and the record of who last
// incremented it.
//
// A successful attempt commits five writes in one store transaction: the
// counter itself, the last-incrementer record, the user's cooldown
// timestamp, the user's profile and the user's leaderboard score. The
// transaction watches the user's cooldown key, so two concurrent attempts by
// the same user cannot both pass the cooldown check.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/tapcount/cooldown"
	"github.com/nhalm/tapcount/leaderboard"
	"github.com/nhalm/tapcount/profile"
	"github.com/nhalm/tapcount/store"
)

// Keys owned by the engine.
const (
	Key                = "counter"
	LastIncrementerKey = "lastIncrementer"
)

// DefaultMaxRetries bounds how often an attempt is retried after a
// transaction conflict.
const DefaultMaxRetries = 5

var (
	// ErrCooldown matches any *CooldownError via errors.Is.
	ErrCooldown = errors.New("cooldown active")

	// ErrConsecutive is returned when Policy.BlockConsecutive is set and the
	// caller was also the last incrementer.
	ErrConsecutive = errors.New("counter: consecutive increment by the same user")

	// ErrContention is returned when every retry hit a transaction conflict.
	ErrContention = errors.New("counter: too much contention, try again")
)

// CooldownError reports how long the caller still has to wait.
type CooldownError struct {
	Remaining int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("Please wait %d seconds before incrementing again", e.Remaining)
}

// Is makes errors.Is(err, ErrCooldown) true for any *CooldownError.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// LastIncrementer describes the author of the most recent successful
// increment.
type LastIncrementer struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Timestamp   int64  `json:"timestamp"`
}

// Policy holds the optional increment rules.
type Policy struct {
	// BlockConsecutive rejects an attempt by the user who made the previous
	// successful increment. Disabled by default.
	BlockConsecutive bool
}

// Result is the outcome of an attempt. Count is the post-increment value on
// success and the current value otherwise.
type Result struct {
	Count   int64
	Success bool
}

// Engine coordinates increments.
type Engine struct {
	store      store.Store
	limiter    *cooldown.Limiter
	policy     Policy
	maxRetries int
	onRetry    func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the increment rules.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLimiter replaces the default 10 second cooldown limiter.
func WithLimiter(l *cooldown.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithMaxRetries sets how many times a conflicting transaction is retried.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithRetryHook registers fn to be called on every transaction conflict.
func WithRetryHook(fn func()) Option {
	return func(e *Engine) {
		e.onRetry = fn
	}
}

// New creates an Engine over st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		limiter:    cooldown.New(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	return e
}

// Limiter returns the cooldown limiter used by the engine.
func (e *Engine) Limiter() *cooldown.Limiter {
	return e.limiter
}

// Count returns the current counter value, 0 when never incremented.
func (e *Engine) Count(ctx context.Context) (int64, error) {
	return readCount(ctx, e.store)
}

// LastIncrementer returns the most recent incrementer, or nil if nobody has
// incremented yet.
func (e *Engine) LastIncrementer(ctx context.Context) (*LastIncrementer, error) {
	return readLastIncrementer(ctx, e.store)
}

// Attempt tries to increment the counter on behalf of userID.
//
// An empty userID is a read-only probe: the current count is returned with
// Success false and no error. A caller still in cooldown gets a
// *CooldownError and the counter is left unchanged.
func (e *Engine) Attempt(ctx context.Context, userID string, p profile.Profile, now time.Time) (Result, error) {
	if userID == "" {
		count, err := e.Count(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Count: count}, nil
	}

	p = profile.Normalize(p)

	watch := []string{cooldown.Key(userID)}
	if e.policy.BlockConsecutive {
		watch = append(watch, LastIncrementerKey)
	}

	for attempt := 0; ; attempt++ {
		res, err := e.try(ctx, userID, p, now, watch)
		if !errors.Is(err, store.ErrConflict) {
			return res, err
		}
		if e.onRetry != nil {
			e.onRetry()
		}
		if attempt >= e.maxRetries {
			count, cerr := e.Count(ctx)
			if cerr != nil {
				return Result{}, cerr
			}
			return Result{Count: count}, ErrContention
		}
	}
}

func (e *Engine) try(ctx context.Context, userID string, p profile.Profile, now time.Time, watch []string) (Result, error) {
	var res Result

	err := e.store.Watch(ctx, func(tx store.Tx) error {
		count, err := readCount(ctx, tx)
		if err != nil {
			return err
		}
		res.Count = count

		remaining, err := e.limiter.Remaining(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return &CooldownError{Remaining: remaining}
		}

		if e.policy.BlockConsecutive {
			last, err := readLastIncrementer(ctx, tx)
			if err != nil {
				return err
			}
			if last != nil && last.UserID == userID {
				return ErrConsecutive
			}
		}

		var incr *store.IntResult
		err = tx.Exec(ctx, func(pipe store.Pipe) error {
			incr = pipe.Incr(Key)
			pipe.HSet(LastIncrementerKey, map[string]string{
				"userId":      userID,
				"displayName": p.DisplayName,
				"username":    p.Username,
				"timestamp":   strconv.FormatInt(now.Unix(), 10),
			})
			e.limiter.Mark(pipe, userID, now)
			profile.Save(pipe, userID, p)
			leaderboard.Record(pipe, userID)
			return nil
		})
		if err != nil {
			return err
		}

		res = Result{Count: incr.Val(), Success: true}
		return nil
	}, watch...)

	return res, err
}

func readCount(ctx context.Context, r store.Reader) (int64, error) {
	raw, ok, err := r.Get(ctx, Key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter: stored value %q is not an integer", raw)
	}
	return n, nil
}

func readLastIncrementer(ctx context.Context, r store.Reader) (*LastIncrementer, error) {
	h, err := r.HGetAll(ctx, LastIncrementerKey)
	if err != nil {
		return nil, err
	}
	if h["userId"] == "" {
		return nil, nil
	}
	ts, _ := strconv.ParseInt(h["timestamp"], 10, 64)
	return &LastIncrementer{
		UserID:      h["userId"],
		DisplayName: h["displayName"],
		Username:    h["username"],
		Timestamp:   ts,
	}, nil
}
