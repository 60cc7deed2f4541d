package device

import "sync"

// Environment exposes the app lifecycle to the discovery loop. Foreground and
// background transitions are external signals; injecting them as a capability
// keeps the loop's pause/resume logic deterministic and testable.
type Environment interface {
	IsForeground() bool
	// Subscribe registers a transition observer and returns a cancel func.
	// Observers see transitions in the order they happened; a background
	// followed by a foreground is never delivered reversed.
	Subscribe(func(foreground bool)) (cancel func())
}

// AppEnvironment is the concrete Environment. Platform glue (or tests) drive
// it through SetForeground.
type AppEnvironment struct {
	mu         sync.Mutex
	foreground bool
	subs       map[int]func(bool)
	nextSub    int
}

// NewAppEnvironment creates an environment starting in the foreground.
func NewAppEnvironment() *AppEnvironment {
	return &AppEnvironment{
		foreground: true,
		subs:       make(map[int]func(bool)),
	}
}

// IsForeground reports the current lifecycle state.
func (e *AppEnvironment) IsForeground() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.foreground
}

// Subscribe registers an observer for lifecycle transitions.
func (e *AppEnvironment) Subscribe(fn func(foreground bool)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// SetForeground records a lifecycle transition and notifies subscribers on
// the caller's goroutine, so back-to-back flips arrive in order.
func (e *AppEnvironment) SetForeground(foreground bool) {
	e.mu.Lock()
	if e.foreground == foreground {
		e.mu.Unlock()
		return
	}
	e.foreground = foreground
	subs := make([]func(bool), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(foreground)
	}
}
