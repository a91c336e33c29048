// Package notify stores the notification subscription a frame host hands
// out when a user enables notifications. It is independent of the counter:
// nothing here takes part in an increment.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhalm/tapcount/store"
)

// Details is the endpoint and token used to push notifications to a user.
type Details struct {
	URL   string `json:"url" validate:"required,url"`
	Token string `json:"token" validate:"required"`
}

// Key returns the key holding userID's notification details.
func Key(userID string) string {
	return "notifications:" + userID
}

// Registry reads and writes notification details.
type Registry struct {
	store store.Store
}

// NewRegistry creates a Registry backed by st.
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// Get returns userID's details, or nil when none are stored or the stored
// value cannot be decoded.
func (r *Registry) Get(ctx context.Context, userID string) (*Details, error) {
	raw, ok, err := r.store.Get(ctx, Key(userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var d Details
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, nil
	}
	return &d, nil
}

// Set replaces userID's details.
func (r *Registry) Set(ctx context.Context, userID string, d Details) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode notification details: %w", err)
	}
	return r.store.Set(ctx, Key(userID), string(raw))
}

// Delete removes userID's details. Deleting absent details is not an error.
func (r *Registry) Delete(ctx context.Context, userID string) error {
	return r.store.Del(ctx, Key(userID))
}
