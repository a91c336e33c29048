// Package profile caches the display metadata a user supplied with their
// latest successful increment. The leaderboard reads it back when rendering.
package profile

import (
	"context"
	"strings"

	"github.com/nhalm/tapcount/store"
)

// Hash fields.
const (
	fieldDisplayName = "displayName"
	fieldUsername    = "username"
	fieldPfpURL      = "pfpUrl"
)

// Profile is the display metadata for a user. Every field is optional and
// defaults to the empty string.
type Profile struct {
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	PfpURL      string `json:"pfpUrl"`
}

// Key returns the hash key holding userID's profile.
func Key(userID string) string {
	return "user:" + userID + ":profile"
}

// Normalize trims every field and falls back to Username when DisplayName is
// empty.
func Normalize(p Profile) Profile {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Username = strings.TrimSpace(p.Username)
	p.PfpURL = strings.TrimSpace(p.PfpURL)
	if p.DisplayName == "" {
		p.DisplayName = p.Username
	}
	return p
}

// Save queues an upsert of userID's profile. All fields are written so a
// cleared field does not leave a stale value behind.
func Save(pipe store.Pipe, userID string, p Profile) {
	pipe.HSet(Key(userID), map[string]string{
		fieldDisplayName: p.DisplayName,
		fieldUsername:    p.Username,
		fieldPfpURL:      p.PfpURL,
	})
}

// LoadMany reads the profiles of ids in one round trip. The result is
// aligned with ids; users without a stored profile get a zero Profile.
func LoadMany(ctx context.Context, r store.Reader, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}

	hashes, err := r.HGetAllBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]Profile, len(ids))
	for i := range ids {
		if i < len(hashes) {
			out[i] = fromHash(hashes[i])
		}
	}
	return out, nil
}

func fromHash(h map[string]string) Profile {
	return Profile{
		DisplayName: h[fieldDisplayName],
		Username:    h[fieldUsername],
		PfpURL:      h[fieldPfpURL],
	}
}
