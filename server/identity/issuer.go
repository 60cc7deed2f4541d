package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/bulpan/YEO.PE-sub001/idcode"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

// DefaultLifetime is how long an issued code stays valid.
const DefaultLifetime = 24 * time.Hour

// DefaultRefreshAhead is the window before natural expiry in which
// IssueOrRefresh mints a new code instead of returning the current one.
const DefaultRefreshAhead = 1 * time.Hour

// Issuer mints and rotates presence codes. Codes are fixed-length,
// unguessable, and never derived from the user id; the length is enforced
// here, not by client-side truncation.
type Issuer struct {
	store        Store
	users        user.Directory
	lifetime     time.Duration
	refreshAhead time.Duration
	now          func() time.Time
}

// NewIssuer creates an issuer. Non-positive durations fall back to defaults.
func NewIssuer(store Store, users user.Directory, lifetime, refreshAhead time.Duration) *Issuer {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if refreshAhead <= 0 || refreshAhead >= lifetime {
		refreshAhead = DefaultRefreshAhead
	}
	return &Issuer{
		store:        store,
		users:        users,
		lifetime:     lifetime,
		refreshAhead: refreshAhead,
		now:          time.Now,
	}
}

// SetClock overrides the issuer clock (tests only).
func (iss *Issuer) SetClock(now func() time.Time) { iss.now = now }

// IssueOrRefresh returns the user's current identity if it is still valid and
// not near expiry; otherwise it mints a new one.
func (iss *Issuer) IssueOrRefresh(ctx context.Context, userID string) (Identity, error) {
	if err := iss.authorize(ctx, userID); err != nil {
		return Identity{}, err
	}

	now := iss.now()
	existing, ok, err := iss.store.ActiveForUser(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: load active: %w", err)
	}
	if ok && existing.ExpiresAt.Sub(now) > iss.refreshAhead {
		return existing, nil
	}

	return iss.mint(ctx, userID, now)
}

// Rotate unconditionally mints a fresh identity. The previous code stops
// resolving immediately; that immediacy is the point of the privacy action.
func (iss *Issuer) Rotate(ctx context.Context, userID string) (Identity, error) {
	if err := iss.authorize(ctx, userID); err != nil {
		return Identity{}, err
	}
	return iss.mint(ctx, userID, iss.now())
}

func (iss *Issuer) authorize(ctx context.Context, userID string) error {
	u, ok, err := iss.users.Lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("identity: lookup user: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if u.Suspended {
		return ErrForbidden
	}
	return nil
}

func (iss *Issuer) mint(ctx context.Context, userID string, now time.Time) (Identity, error) {
	// Collision with a live code is vanishingly rare but cheap to rule out.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := idcode.New()
		if err != nil {
			return Identity{}, err
		}
		if _, taken, err := iss.store.Resolve(ctx, code); err != nil {
			return Identity{}, fmt.Errorf("identity: collision check: %w", err)
		} else if taken {
			continue
		}

		id := Identity{
			Code:      code,
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: now.Add(iss.lifetime),
		}
		if err := iss.store.Save(ctx, id); err != nil {
			return Identity{}, fmt.Errorf("identity: save: %w", err)
		}
		return id, nil
	}
	return Identity{}, fmt.Errorf("identity: could not mint a unique code")
}
