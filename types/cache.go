package types

import (
	"time"
)

// RateLimitResult is what callers act on after a fixed-window check.
// When the store is unreachable the check fails open: Allowed is true,
// Remaining equals the full limit and ResetIn equals the window.
type RateLimitResult struct {
	Allowed   bool          `json:"allowed"`
	Remaining int64         `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

type APIKeyRecord struct {
	Key       string            `json:"key"`
	UserID    string            `json:"user_id"`
	Name      string            `json:"name,omitempty"`
	Scopes    []string          `json:"scopes,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// InvalidationEvent travels over the store's pub/sub channel so other
// instances can drop their local copies. Origin carries the publishing
// instance id; subscribers skip their own events.
type InvalidationEvent struct {
	Entity  string   `json:"entity,omitempty"`
	ID      string   `json:"id,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Tag     string   `json:"tag,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Origin  string   `json:"origin"`
	At      int64    `json:"at"`
}
