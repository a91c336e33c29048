// Package leaderboard ranks users by their number of successful increments.
//
// Scores live in a single sorted set keyed by user id. Scores only ever
// grow; entries are never removed. Top recomputes the ranking from the
// store on every call.
package leaderboard

import (
	"context"

	"github.com/nhalm/tapcount/profile"
	"github.com/nhalm/tapcount/store"
)

// Key is the sorted set holding every user's score.
const Key = "leaderboard"

// DefaultLimit is the number of entries Top returns when limit <= 0.
const DefaultLimit = 10

// Entry is one ranked row of the leaderboard.
type Entry struct {
	UserID      string `json:"userId"`
	Count       int64  `json:"count"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	PfpURL      string `json:"pfpUrl"`
}

// Board reads and updates the leaderboard.
type Board struct {
	store store.Store
}

// New creates a Board backed by st.
func New(st store.Store) *Board {
	return &Board{store: st}
}

// Record queues a +1 for userID. It is meant to be called inside the same
// transaction that increments the shared counter.
func Record(pipe store.Pipe, userID string) {
	pipe.ZIncrBy(Key, 1, userID)
}

// Top returns the limit highest-scoring users, highest first, joined with
// their cached profiles. Users with equal scores are ordered by user id
// descending (byte-wise), the store's native tie-break. A missing profile
// yields empty display fields rather than an error.
func (b *Board) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	members, err := b.store.ZRevRangeWithScores(ctx, Key, int64(limit))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []Entry{}, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	profiles, err := profile.LoadMany(ctx, b.store, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(members))
	for i, m := range members {
		p := profiles[i]
		entries[i] = Entry{
			UserID:      m.ID,
			Count:       int64(m.Score),
			DisplayName: p.DisplayName,
			Username:    p.Username,
			PfpURL:      p.PfpURL,
		}
	}
	return entries, nil
}
