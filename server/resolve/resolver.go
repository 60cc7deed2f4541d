// Package resolve turns a batch of scanned presence codes into a
// privacy-filtered nearby-user list. The client is untrusted: stale, forged
// and malformed codes are dropped silently, never reported back.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bulpan/YEO.PE-sub001/idcode"
	"github.com/bulpan/YEO.PE-sub001/server/identity"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

// Sighting is one uploaded (code, signal strength) pair.
type Sighting struct {
	Identifier     string
	SignalStrength int
}

// NearbyUser is one resolved result. SignalStrength is passed through for
// approximate-distance display only.
type NearbyUser struct {
	UserID          string
	DisplayIdentity string
	SignalStrength  int
}

// Resolver is a stateless per-request computation; concurrent calls from
// different callers never interact beyond the stores underneath.
type Resolver struct {
	identities identity.Store
	users      user.Directory
	blocks     user.Blocks
	log        *slog.Logger
	metrics    *Metrics
}

// NewResolver creates a resolver. A nil logger or metrics gets a private
// default.
func NewResolver(identities identity.Store, users user.Directory, blocks user.Blocks, log *slog.Logger, metrics *Metrics) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Resolver{
		identities: identities,
		users:      users,
		blocks:     blocks,
		log:        log,
		metrics:    metrics,
	}
}

// ResolveNearby maps sightings to users, applying the privacy invariants:
// no stale or superseded codes, never the caller, never a blocked
// relationship in either direction, one entry per user (strongest signal
// wins). An individual lookup failure drops that sighting only.
//
// A suspended or unknown caller is rejected before any resolution happens;
// the denial is explicit, never disguised as an empty result.
func (r *Resolver) ResolveNearby(ctx context.Context, callerID string, sightings []Sighting) ([]NearbyUser, error) {
	caller, ok, err := r.users.Lookup(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("resolve: lookup caller: %w", err)
	}
	if !ok {
		return nil, identity.ErrNotFound
	}
	if caller.Suspended {
		return nil, identity.ErrForbidden
	}

	r.metrics.Batches.Inc()
	r.metrics.Sightings.Add(float64(len(sightings)))

	// Empty batches are normal (nothing scanned yet), not an anomaly.
	if len(sightings) == 0 {
		return []NearbyUser{}, nil
	}

	best := make(map[string]NearbyUser) // userID -> strongest sighting
	for _, s := range sightings {
		if !idcode.Valid(s.Identifier) {
			r.metrics.Dropped.WithLabelValues(dropMalformed).Inc()
			continue
		}

		id, ok, err := r.identities.Resolve(ctx, s.Identifier)
		if err != nil {
			// One bad lookup must not block the rest of the batch.
			r.log.WarnContext(ctx, "identity resolve failed, dropping sighting", "error", err)
			r.metrics.Dropped.WithLabelValues(dropLookupError).Inc()
			continue
		}
		if !ok {
			// Stale or forged; silently dropped.
			r.metrics.Dropped.WithLabelValues(dropStale).Inc()
			continue
		}

		if id.UserID == callerID {
			// Self-sighting: a device can read back its own advertisement.
			r.metrics.Dropped.WithLabelValues(dropSelf).Inc()
			continue
		}

		blocked, err := r.blocks.Blocked(ctx, callerID, id.UserID)
		if err != nil {
			// When the block check fails, drop the sighting: never risk
			// leaking a blocked user's presence.
			r.log.WarnContext(ctx, "block check failed, dropping sighting", "error", err)
			r.metrics.Dropped.WithLabelValues(dropLookupError).Inc()
			continue
		}
		if blocked {
			r.metrics.Dropped.WithLabelValues(dropBlocked).Inc()
			continue
		}

		u, ok, err := r.users.Lookup(ctx, id.UserID)
		if err != nil {
			r.log.WarnContext(ctx, "user lookup failed, dropping sighting", "error", err)
			r.metrics.Dropped.WithLabelValues(dropLookupError).Inc()
			continue
		}
		if !ok {
			r.metrics.Dropped.WithLabelValues(dropUnknownUser).Inc()
			continue
		}
		if u.Suspended {
			r.metrics.Dropped.WithLabelValues(dropSuspended).Inc()
			continue
		}

		candidate := NearbyUser{
			UserID:          u.ID,
			DisplayIdentity: u.DisplayName,
			SignalStrength:  s.SignalStrength,
		}
		// Two codes can resolve to the same owner under rapid rotation
		// mid-scan; keep the stronger signal.
		if prev, exists := best[u.ID]; !exists || candidate.SignalStrength > prev.SignalStrength {
			best[u.ID] = candidate
		}
	}

	out := make([]NearbyUser, 0, len(best))
	for _, nu := range best {
		out = append(out, nu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalStrength != out[j].SignalStrength {
			return out[i].SignalStrength > out[j].SignalStrength
		}
		return out[i].UserID < out[j].UserID
	})

	r.metrics.Resolved.Add(float64(len(out)))
	return out, nil
}
