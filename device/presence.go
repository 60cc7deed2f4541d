package device

import (
	"sync"
	"time"
)

// SignalSource tags where a sighting's RSSI was measured. Advertisement and
// connection-time measurements are distinct sources and are never compared
// against each other for distance approximation.
type SignalSource int

const (
	SourceAdvertisement SignalSource = iota // fast path, from the broadcast itself
	SourceConnection                        // slow path, re-measured after connect
)

// String returns the string representation of the SignalSource
func (s SignalSource) String() string {
	if s == SourceConnection {
		return "connection"
	}
	return "advertisement"
}

// PresenceEntry is one currently-visible presence code.
type PresenceEntry struct {
	Code     string
	RSSI     int // dBm
	Source   SignalSource
	LastSeen time.Time
}

// PresenceStore is the local table of currently-visible codes. Repeated
// sightings of the same code update the existing entry in place; entries not
// seen within the timeout are evicted.
type PresenceStore struct {
	mu      sync.Mutex
	entries map[string]PresenceEntry
	timeout time.Duration
}

// NewPresenceStore creates a store with the given eviction timeout.
func NewPresenceStore(timeout time.Duration) *PresenceStore {
	if timeout <= 0 {
		timeout = DefaultPresenceTimeout
	}
	return &PresenceStore{
		entries: make(map[string]PresenceEntry),
		timeout: timeout,
	}
}

// RecordSighting upserts a sighting: exactly one entry exists per code, and it
// always holds the most recent signal strength and timestamp.
func (p *PresenceStore) RecordSighting(code string, rssi int, source SignalSource, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[code] = PresenceEntry{
		Code:     code,
		RSSI:     rssi,
		Source:   source,
		LastSeen: now,
	}
}

// EvictExpired removes every entry last seen longer than the timeout before
// now. Returns the number of evicted entries.
func (p *PresenceStore) EvictExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for code, e := range p.entries {
		if now.Sub(e.LastSeen) > p.timeout {
			delete(p.entries, code)
			evicted++
		}
	}
	return evicted
}

// Snapshot returns the current entries. It reflects only entries valid at
// call time; callers evict first if they need timeout guarantees.
func (p *PresenceStore) Snapshot() []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the number of live entries.
func (p *PresenceStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
