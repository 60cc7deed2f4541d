// Package user holds user records and block relationships as the resolution
// service sees them. Account management itself is an external collaborator;
// this package only answers lookups.
package user

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrLookup wraps store failures so callers can treat them uniformly.
var ErrLookup = errors.New("user: lookup failed")

// User is one resolvable account.
type User struct {
	ID          string // ULID
	DisplayName string
	Suspended   bool
	CreatedAt   time.Time
}

// Directory answers user lookups by id.
type Directory interface {
	// Lookup returns the user and whether it exists. The error is reserved
	// for store failures, not for absence.
	Lookup(ctx context.Context, id string) (User, bool, error)
}

// Blocks answers block-relationship queries.
type Blocks interface {
	// Blocked reports whether a block exists between a and b in either
	// direction. Blocking is a hard privacy boundary, not a preference.
	Blocked(ctx context.Context, a, b string) (bool, error)
}

// NewID returns a new ULID user id.
func NewID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
