package device

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LinkState is the lifecycle position of a transient link.
type LinkState int

const (
	LinkConnecting LinkState = iota
	LinkConnected
	LinkReading
	LinkDisconnecting
)

// String returns the string representation of the LinkState
func (s LinkState) String() string {
	switch s {
	case LinkConnected:
		return "connected"
	case LinkReading:
		return "reading"
	case LinkDisconnecting:
		return "disconnecting"
	default:
		return "connecting"
	}
}

// TransientLink is a short-lived connection opened only to read a peer's
// presence code when the fast path is unavailable. Every link terminates in a
// disconnect, on every exit path, so the radio stack's connection budget is
// never leaked.
type TransientLink struct {
	ID        string // unique per attempt, for log correlation
	Address   string // radio-layer address (the code is unknown until read)
	State     LinkState
	StartedAt time.Time
}

// linkArena tracks in-flight transient links by radio address. At most one
// link per address may be in flight, and the total is capped.
type linkArena struct {
	mu       sync.Mutex
	inFlight map[string]*TransientLink
	max      int
}

func newLinkArena(max int) *linkArena {
	return &linkArena{
		inFlight: make(map[string]*TransientLink),
		max:      max,
	}
}

// begin claims an in-flight slot for address. It returns false when a link for
// the address is already in flight or the concurrency cap is reached; the
// caller skips the peer in that case.
func (a *linkArena) begin(address string) (*TransientLink, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.inFlight[address]; exists {
		return nil, false
	}
	if len(a.inFlight) >= a.max {
		return nil, false
	}
	link := &TransientLink{
		ID:        uuid.NewString(),
		Address:   address,
		State:     LinkConnecting,
		StartedAt: time.Now(),
	}
	a.inFlight[address] = link
	return link, true
}

// transition advances a link's state.
func (a *linkArena) transition(link *TransientLink, state LinkState) {
	a.mu.Lock()
	link.State = state
	a.mu.Unlock()
}

// end releases the slot. Called on every terminal transition, success or not.
func (a *linkArena) end(link *TransientLink) {
	a.mu.Lock()
	delete(a.inFlight, link.Address)
	a.mu.Unlock()
}

// count returns the number of links currently in flight.
func (a *linkArena) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inFlight)
}

// has reports whether a link for address is in flight.
func (a *linkArena) has(address string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inFlight[address]
	return ok
}
