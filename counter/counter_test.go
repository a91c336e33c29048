package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhalm/tapcount/cooldown"
	"github.com/nhalm/tapcount/leaderboard"
	"github.com/nhalm/tapcount/profile"
	"github.com/nhalm/tapcount/store"
)

var t0 = time.Unix(1_700_000_000, 0)

func newEngine(t *testing.T, opts ...Option) (*Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	return New(st, opts...), st
}

func TestEngine_AttemptSuccess(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	res, err := e.Attempt(ctx, "7", profile.Profile{DisplayName: "Alice", Username: "alice", PfpURL: "https://a"}, t0)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !res.Success || res.Count != 1 {
		t.Errorf("Attempt() = %+v, want {1 true}", res)
	}

	last, err := e.LastIncrementer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := &LastIncrementer{UserID: "7", DisplayName: "Alice", Username: "alice", Timestamp: t0.Unix()}
	if last == nil || *last != *want {
		t.Errorf("LastIncrementer() = %+v, want %+v", last, want)
	}

	if v, _, _ := st.Get(ctx, cooldown.Key("7")); v != fmt.Sprint(t0.Unix()) {
		t.Errorf("cooldown timestamp = %q, want %d", v, t0.Unix())
	}

	profiles, _ := profile.LoadMany(ctx, st, []string{"7"})
	if profiles[0].PfpURL != "https://a" {
		t.Errorf("profile = %+v", profiles[0])
	}

	top, _ := leaderboard.New(st).Top(ctx, 10)
	if len(top) != 1 || top[0].UserID != "7" || top[0].Count != 1 {
		t.Errorf("leaderboard = %+v", top)
	}
}

func TestEngine_CorruptCounterWritesNothing(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	if err := st.Set(ctx, Key, "abc"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Attempt(ctx, "7", profile.Profile{Username: "alice"}, t0); err == nil {
		t.Fatal("expected error for non-integer counter")
	}

	if _, ok, _ := st.Get(ctx, cooldown.Key("7")); ok {
		t.Error("cooldown written despite failed attempt")
	}
	if last, _ := e.LastIncrementer(ctx); last != nil {
		t.Errorf("lastIncrementer = %+v, want nil", last)
	}
	if top, _ := leaderboard.New(st).Top(ctx, 10); len(top) != 0 {
		t.Errorf("leaderboard = %+v, want empty", top)
	}
}

func TestEngine_EmptyUserIsProbe(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	if _, err := e.Attempt(ctx, "1", profile.Profile{}, t0); err != nil {
		t.Fatal(err)
	}

	res, err := e.Attempt(ctx, "", profile.Profile{Username: "ghost"}, t0)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if res.Success || res.Count != 1 {
		t.Errorf("Attempt(\"\") = %+v, want {1 false}", res)
	}

	top, _ := leaderboard.New(st).Top(ctx, 10)
	if len(top) != 1 {
		t.Errorf("probe must not touch the leaderboard, got %+v", top)
	}
}

func TestEngine_Cooldown(t *testing.T) {
	tests := []struct {
		name          string
		elapsed       time.Duration
		wantSuccess   bool
		wantCount     int64
		wantRemaining int64
	}{
		{name: "immediate retry", elapsed: 0, wantCount: 1, wantRemaining: 10},
		{name: "after 3 seconds", elapsed: 3 * time.Second, wantCount: 1, wantRemaining: 7},
		{name: "after 9.9 seconds", elapsed: 9900 * time.Millisecond, wantCount: 1, wantRemaining: 1},
		{name: "after full window", elapsed: 10 * time.Second, wantSuccess: true, wantCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			ctx := context.Background()

			if _, err := e.Attempt(ctx, "7", profile.Profile{}, t0); err != nil {
				t.Fatal(err)
			}

			res, err := e.Attempt(ctx, "7", profile.Profile{}, t0.Add(tt.elapsed))
			if res.Success != tt.wantSuccess || res.Count != tt.wantCount {
				t.Errorf("Attempt() = %+v, want success=%v count=%d", res, tt.wantSuccess, tt.wantCount)
			}

			if tt.wantSuccess {
				if err != nil {
					t.Errorf("Attempt() error = %v", err)
				}
				return
			}

			if !errors.Is(err, ErrCooldown) {
				t.Fatalf("Attempt() error = %v, want ErrCooldown", err)
			}
			var cerr *CooldownError
			if !errors.As(err, &cerr) || cerr.Remaining != tt.wantRemaining {
				t.Errorf("remaining = %v, want %d", err, tt.wantRemaining)
			}
			want := fmt.Sprintf("Please wait %d seconds before incrementing again", tt.wantRemaining)
			if err.Error() != want {
				t.Errorf("message = %q, want %q", err.Error(), want)
			}
		})
	}
}

func TestEngine_CooldownLeavesStateUntouched(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	if _, err := e.Attempt(ctx, "7", profile.Profile{Username: "first"}, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Attempt(ctx, "7", profile.Profile{Username: "second"}, t0.Add(time.Second)); err == nil {
		t.Fatal("expected cooldown error")
	}

	profiles, _ := profile.LoadMany(ctx, st, []string{"7"})
	if profiles[0].Username != "first" {
		t.Errorf("profile updated by failed attempt: %+v", profiles[0])
	}
	if v, _, _ := st.Get(ctx, cooldown.Key("7")); v != fmt.Sprint(t0.Unix()) {
		t.Errorf("cooldown timestamp moved by failed attempt: %s", v)
	}
	top, _ := leaderboard.New(st).Top(ctx, 10)
	if top[0].Count != 1 {
		t.Errorf("score = %d, want 1", top[0].Count)
	}
}

func TestEngine_SequentialCount(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	const n = 25
	for i := range n {
		res, err := e.Attempt(ctx, fmt.Sprintf("user-%d", i), profile.Profile{}, t0)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if res.Count != int64(i+1) {
			t.Errorf("attempt %d count = %d, want %d", i, res.Count, i+1)
		}
	}

	count, err := e.Count(ctx)
	if err != nil || count != n {
		t.Errorf("Count() = %d, %v; want %d", count, err, n)
	}
}

func TestEngine_TwoUsers(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		if _, err := e.Attempt(ctx, id, profile.Profile{}, t0); err != nil {
			t.Fatal(err)
		}
	}

	count, _ := e.Count(ctx)
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	top, _ := leaderboard.New(st).Top(ctx, 10)
	if len(top) != 2 {
		t.Fatalf("leaderboard = %+v, want two entries", top)
	}
	for _, entry := range top {
		if entry.Count != 1 {
			t.Errorf("%s score = %d, want 1", entry.UserID, entry.Count)
		}
	}
}

func TestEngine_ConcurrentDistinctUsers(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	const users = 50
	var wg sync.WaitGroup
	wg.Add(users)
	for i := range users {
		go func() {
			defer wg.Done()
			if _, err := e.Attempt(ctx, fmt.Sprintf("u%02d", i), profile.Profile{}, t0); err != nil {
				t.Errorf("Attempt() error = %v", err)
			}
		}()
	}
	wg.Wait()

	count, _ := e.Count(ctx)
	if count != users {
		t.Errorf("Count() = %d, want %d", count, users)
	}

	top, _ := leaderboard.New(st).Top(ctx, users)
	if len(top) != users {
		t.Errorf("leaderboard has %d entries, want %d", len(top), users)
	}
}

func TestEngine_ConcurrentSameUser(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	const attempts = 20
	var successes atomic.Int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for range attempts {
		go func() {
			defer wg.Done()
			res, err := e.Attempt(ctx, "7", profile.Profile{}, t0)
			if err != nil && !errors.Is(err, ErrCooldown) {
				t.Errorf("unexpected error: %v", err)
			}
			if res.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successes.Load())
	}
	count, _ := e.Count(ctx)
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestEngine_BlockConsecutive(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr error
	}{
		{name: "disabled by default", policy: Policy{}, wantErr: nil},
		{name: "enabled", policy: Policy{BlockConsecutive: true}, wantErr: ErrConsecutive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, WithPolicy(tt.policy))
			ctx := context.Background()

			if _, err := e.Attempt(ctx, "7", profile.Profile{}, t0); err != nil {
				t.Fatal(err)
			}
			later := t0.Add(time.Minute)
			_, err := e.Attempt(ctx, "7", profile.Profile{}, later)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("second attempt error = %v, want %v", err, tt.wantErr)
			}

			if _, err := e.Attempt(ctx, "8", profile.Profile{}, later); err != nil {
				t.Errorf("other user blocked: %v", err)
			}
		})
	}
}

type conflictStore struct {
	*store.Memory
	conflicts atomic.Int64
	remaining atomic.Int64
}

func (c *conflictStore) Watch(ctx context.Context, fn func(store.Tx) error, keys ...string) error {
	if c.remaining.Load() > 0 {
		c.remaining.Add(-1)
		c.conflicts.Add(1)
		return store.ErrConflict
	}
	return c.Memory.Watch(ctx, fn, keys...)
}

func TestEngine_RetriesConflicts(t *testing.T) {
	st := &conflictStore{Memory: store.NewMemory()}
	defer st.Close()
	st.remaining.Store(2)

	var retries int
	e := New(st, WithRetryHook(func() { retries++ }))

	res, err := e.Attempt(context.Background(), "7", profile.Profile{}, t0)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !res.Success || res.Count != 1 {
		t.Errorf("Attempt() = %+v", res)
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
}

func TestEngine_ContentionExhaustsRetries(t *testing.T) {
	st := &conflictStore{Memory: store.NewMemory()}
	defer st.Close()
	st.remaining.Store(100)

	e := New(st, WithMaxRetries(3))

	res, err := e.Attempt(context.Background(), "7", profile.Profile{}, t0)
	if !errors.Is(err, ErrContention) {
		t.Fatalf("Attempt() error = %v, want ErrContention", err)
	}
	if res.Success || res.Count != 0 {
		t.Errorf("Attempt() = %+v", res)
	}
	if st.conflicts.Load() != 4 {
		t.Errorf("watch calls = %d, want 4", st.conflicts.Load())
	}
}

func TestEngine_StoreUnavailable(t *testing.T) {
	e := New(store.Unavailable{})

	_, err := e.Attempt(context.Background(), "7", profile.Profile{}, t0)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Attempt() error = %v, want ErrUnavailable", err)
	}
	if _, err := e.Count(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Count() error = %v, want ErrUnavailable", err)
	}
}

func TestEngine_DisplayNameFallback(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.Attempt(ctx, "7", profile.Profile{Username: "alice"}, t0); err != nil {
		t.Fatal(err)
	}
	last, _ := e.LastIncrementer(ctx)
	if last.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want alice", last.DisplayName)
	}
}
