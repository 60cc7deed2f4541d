// Package identity mints and resolves the short-lived opaque presence codes
// devices broadcast in place of real user ids.
package identity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means the user does not exist.
	ErrNotFound = errors.New("identity: user not found")

	// ErrForbidden means the user may not participate in discovery
	// (e.g. suspended). Callers must not broadcast in this state.
	ErrForbidden = errors.New("identity: user not permitted")
)

// Identity is one issued presence code. At most one active identity exists
// per user; rotation supersedes the previous value immediately, not just at
// natural expiry.
type Identity struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the identity is currently valid.
func (i Identity) Active(now time.Time) bool {
	return i.Code != "" && now.Before(i.ExpiresAt)
}
