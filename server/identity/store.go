package identity

import "context"

// Store is the identity persistence boundary. Implementations must uphold the
// one-active-identity-per-user invariant: Save replaces the user's previous
// identity and its code stops resolving at once.
type Store interface {
	// ActiveForUser returns the user's current identity, if one is active.
	ActiveForUser(ctx context.Context, userID string) (Identity, bool, error)

	// Save stores id as the user's identity, superseding any previous one.
	Save(ctx context.Context, id Identity) error

	// Resolve maps a code to its identity. Expired or superseded codes do
	// not resolve. Absence is not an error.
	Resolve(ctx context.Context, code string) (Identity, bool, error)
}
