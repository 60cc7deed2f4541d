package device

import (
	"fmt"
	"sync"

	"github.com/bulpan/YEO.PE-sub001/idcode"
	"github.com/bulpan/YEO.PE-sub001/logger"
	"github.com/bulpan/YEO.PE-sub001/radio"
)

// AdvertisementState is the advertiser's state machine position.
type AdvertisementState int

const (
	AdvertisementIdle AdvertisementState = iota
	AdvertisementActive
)

// Advertiser broadcasts the device's current presence code. The code is
// exposed through two channels that always agree: the fast-path local-name
// field inside the advertisement payload, and a read-only characteristic that
// slow-path scanners read after connecting.
//
// Radio unavailability is not an error here: the advertiser remembers the
// desired code and re-enters Advertising on the next powered-on signal
// without caller intervention.
type Advertiser struct {
	stack  *radio.Stack
	prefix string

	mu       sync.Mutex
	state    AdvertisementState
	code     string // desired code; broadcast whenever the radio permits
	want     bool   // Start called and not yet Stop
	paused   bool   // backgrounded
	fastPath bool   // include the code in the advertisement payload
}

// NewAdvertiser creates an advertiser bound to a radio stack.
func NewAdvertiser(stack *radio.Stack) *Advertiser {
	return &Advertiser{
		stack:    stack,
		prefix:   shortHash(stack.Address()),
		fastPath: true,
	}
}

// Start begins advertising the given code. If the radio is unavailable this
// fails silently from the protocol's perspective: no broadcast happens now,
// and the advertiser retries when the radio reports powered-on.
func (a *Advertiser) Start(code string) error {
	if !idcode.Valid(code) {
		return fmt.Errorf("advertiser: invalid presence code %q", code)
	}

	a.mu.Lock()
	a.code = code
	a.want = true
	err := a.applyLocked()
	a.mu.Unlock()

	if err != nil {
		logger.Debug(a.prefix, "advertising deferred: %v", err)
	}
	return nil
}

// SetCode atomically replaces the broadcast code on rotation. There is never a
// moment with two concurrent advertisements: the stack's SetAdvertisement
// swaps the payload, and the characteristic is updated under the same lock.
func (a *Advertiser) SetCode(code string) error {
	if !idcode.Valid(code) {
		return fmt.Errorf("advertiser: invalid presence code %q", code)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.code == code {
		return nil
	}
	a.code = code
	if a.state == AdvertisementActive {
		if err := a.applyLocked(); err != nil {
			logger.Warn(a.prefix, "code switch-over deferred: %v", err)
		} else {
			logger.Info(a.prefix, "📡 advertising rotated code")
		}
	}
	return nil
}

// Stop withdraws the advertisement and the served characteristic.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.want = false
	a.teardownLocked()
}

// Pause withdraws broadcasts on backgrounding; the desired code is kept so
// Resume can re-enter Advertising.
func (a *Advertiser) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return
	}
	a.paused = true
	a.teardownLocked()
	logger.Info(a.prefix, "📡 advertising paused (background)")
}

// Resume re-enters Advertising after foregrounding.
func (a *Advertiser) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		return
	}
	a.paused = false
	if err := a.applyLocked(); err != nil {
		logger.Debug(a.prefix, "advertising resume deferred: %v", err)
	}
}

// SetFastPath controls whether the code rides in the advertisement payload.
// Disabled models constrained stacks that can only serve the characteristic;
// scanners then fall back to the slow path.
func (a *Advertiser) SetFastPath(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fastPath == enabled {
		return
	}
	a.fastPath = enabled
	if a.state == AdvertisementActive {
		if err := a.applyLocked(); err != nil {
			logger.Debug(a.prefix, "fast-path change deferred: %v", err)
		}
	}
}

// HandleRadioState feeds radio power transitions into the state machine. On
// powered-on the advertiser retries automatically; on anything else it idles.
func (a *Advertiser) HandleRadioState(state radio.PowerState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state == radio.StatePoweredOn {
		if err := a.applyLocked(); err != nil {
			logger.Debug(a.prefix, "advertising retry failed: %v", err)
		}
		return
	}
	// The stack already dropped the broadcast; just track it.
	a.state = AdvertisementIdle
}

// State returns the current state machine position.
func (a *Advertiser) State() AdvertisementState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentCode returns the desired presence code.
func (a *Advertiser) CurrentCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.code
}

// applyLocked pushes the desired state onto the radio stack. Both exposure
// channels are updated together so they always report the same code.
func (a *Advertiser) applyLocked() error {
	if !a.want || a.paused || a.code == "" {
		return nil
	}

	adv := radio.Advertisement{
		ServiceUUIDs: []string{PresenceServiceUUID},
		Connectable:  true,
	}
	if a.fastPath {
		adv.LocalName = a.code
	}

	if err := a.stack.SetAdvertisement(adv); err != nil {
		a.state = AdvertisementIdle
		return err
	}
	a.stack.SetAttribute(PresenceServiceUUID, PresenceCodeCharUUID, []byte(a.code))

	if a.state != AdvertisementActive {
		a.state = AdvertisementActive
		logger.Info(a.prefix, "📡 advertising started")
	}
	return nil
}

// teardownLocked withdraws both exposure channels.
func (a *Advertiser) teardownLocked() {
	a.stack.ClearAdvertisement()
	a.stack.ClearAttribute(PresenceServiceUUID, PresenceCodeCharUUID)
	if a.state != AdvertisementIdle {
		a.state = AdvertisementIdle
		logger.Info(a.prefix, "📡 advertising stopped")
	}
}
