// Package service composes the counter, cooldown and leaderboard into the
// two operations the API exposes: reading a snapshot and attempting an
// increment.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nhalm/tapcount/counter"
	"github.com/nhalm/tapcount/leaderboard"
	"github.com/nhalm/tapcount/metrics"
	"github.com/nhalm/tapcount/profile"
	"github.com/nhalm/tapcount/store"
)

// ErrInvalidInput marks an increment whose identity or profile fields are
// out of bounds.
var ErrInvalidInput = errors.New("Invalid request body")

var validate = validator.New(validator.WithRequiredStructEnabled())

type incrementInput struct {
	UserID      string `validate:"omitempty,max=64,printascii"`
	DisplayName string `validate:"max=256"`
	Username    string `validate:"max=256"`
	PfpURL      string `validate:"max=2048"`
}

// checkInput wraps ErrInvalidInput with the first failing field.
func checkInput(userID string, p profile.Profile) error {
	err := validate.Struct(incrementInput{
		UserID:      userID,
		DisplayName: p.DisplayName,
		Username:    p.Username,
		PfpURL:      p.PfpURL,
	})
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, errs[0].Field(), errs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// Kind classifies errors returned by the service.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidInput
	KindCooldown
	// KindConsecutive is returned only when the consecutive-increment rule
	// is enabled.
	KindConsecutive
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidInput:
		return "invalid_input"
	case KindCooldown:
		return "cooldown"
	case KindConsecutive:
		return "consecutive"
	default:
		return "store_unavailable"
	}
}

// KindOf classifies err. Any error that is not an input or rule violation
// is treated as the store being unavailable.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, counter.ErrCooldown):
		return KindCooldown
	case errors.Is(err, counter.ErrConsecutive):
		return KindConsecutive
	default:
		return KindStoreUnavailable
	}
}

const consecutiveMessage = "You were the last to increment, let someone else go first"

// Message returns the text shown to the caller for a rejected increment.
func Message(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindConsecutive:
		return consecutiveMessage
	case KindInvalidInput:
		return ErrInvalidInput.Error()
	case KindCooldown:
		return err.Error()
	default:
		return "Store unavailable"
	}
}

// Snapshot is the combined read payload returned by both operations.
type Snapshot struct {
	Count           int64                    `json:"count"`
	LastIncrementer *counter.LastIncrementer `json:"lastIncrementer"`
	Leaderboard     []leaderboard.Entry      `json:"leaderboard"`
	Cooldown        int64                    `json:"cooldown"`
	Error           string                   `json:"error,omitempty"`
}

// Service implements the counter API operations.
type Service struct {
	store           store.Store
	engine          *counter.Engine
	board           *leaderboard.Board
	metrics         *metrics.Metrics
	engineOpts      []counter.Option
	now             func() time.Time
	leaderboardSize int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics records outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLeaderboardSize sets how many entries snapshots include (default 10).
func WithLeaderboardSize(n int) Option {
	return func(s *Service) {
		s.leaderboardSize = n
	}
}

// WithEngineOptions passes options through to the counter engine.
func WithEngineOptions(opts ...counter.Option) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// New creates a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:           st,
		board:           leaderboard.New(st),
		now:             time.Now,
		leaderboardSize: leaderboard.DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	engineOpts := append([]counter.Option{counter.WithRetryHook(s.metrics.TxRetry)}, s.engineOpts...)
	s.engine = counter.New(st, engineOpts...)
	return s
}

// GetState returns the current snapshot. Cooldown is computed for
// callerUserID when given, otherwise 0. It never writes to the store.
func (s *Service) GetState(ctx context.Context, callerUserID string) (Snapshot, error) {
	return s.snapshot(ctx, callerUserID, s.now())
}

// Increment attempts an increment for callerUserID and returns the
// resulting snapshot.
//
// When the attempt is rejected by the cooldown (or the consecutive rule) the
// current snapshot is returned alongside the error, with Snapshot.Error set,
// so callers can still render progress. Store failures return an empty
// snapshot.
func (s *Service) Increment(ctx context.Context, callerUserID string, p profile.Profile) (Snapshot, error) {
	if err := checkInput(callerUserID, p); err != nil {
		s.metrics.Increment(metrics.ResultInvalid)
		return Snapshot{}, err
	}

	now := s.now()

	res, err := s.engine.Attempt(ctx, callerUserID, p, now)
	switch KindOf(err) {
	case KindNone:
		if res.Success {
			s.metrics.Increment(metrics.ResultSuccess)
		} else {
			s.metrics.Increment(metrics.ResultProbe)
		}
	case KindCooldown:
		s.metrics.Increment(metrics.ResultCooldown)
		return s.rejected(ctx, callerUserID, now, err)
	case KindConsecutive:
		s.metrics.Increment(metrics.ResultConsecutive)
		return s.rejected(ctx, callerUserID, now, err)
	default:
		s.metrics.Increment(metrics.ResultError)
		return Snapshot{}, err
	}

	snap, err := s.snapshot(ctx, callerUserID, now)
	if err != nil {
		return Snapshot{}, err
	}
	// Other users may have incremented since; never report less than the
	// value this attempt produced.
	snap.Count = max(snap.Count, res.Count)
	return snap, nil
}

func (s *Service) rejected(ctx context.Context, userID string, now time.Time, cause error) (Snapshot, error) {
	snap, err := s.snapshot(ctx, userID, now)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Error = Message(cause)
	return snap, cause
}

func (s *Service) snapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	count, err := s.engine.Count(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	last, err := s.engine.LastIncrementer(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	entries, err := s.board.Top(ctx, s.leaderboardSize)
	if err != nil {
		return Snapshot{}, err
	}

	remaining, err := s.engine.Limiter().Remaining(ctx, s.store, userID, now)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Count:           count,
		LastIncrementer: last,
		Leaderboard:     entries,
		Cooldown:        remaining,
	}, nil
}
