package radio

import (
	"sync"
	"time"
)

// PowerState mirrors the manager states a platform radio stack reports.
type PowerState int

const (
	StateUnknown PowerState = iota
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

// String returns the string representation of the PowerState
func (s PowerState) String() string {
	switch s {
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// DefaultConnectionBudget bounds concurrent outgoing links per stack,
// mirroring the small connection budgets of real radio chipsets.
const DefaultConnectionBudget = 4

// scanPollInterval is how often an active scan re-observes the medium.
// Real advertisers repeat their packets; repeated deliveries of the same
// advertiser are expected and the consumer deduplicates.
const scanPollInterval = 200 * time.Millisecond

type attrKey struct {
	serviceUUID string
	charUUID    string
}

// Stack is one device's handle onto the radio medium. All callbacks fire on
// internal goroutines; callers must not block inside them.
type Stack struct {
	medium  *Medium
	address string

	mu         sync.Mutex
	state      PowerState
	stateCB    func(PowerState)
	adv        *Advertisement
	attributes map[attrKey][]byte
	scanStop   chan struct{}
	links      map[string]bool
	budget     int
}

// NewStack attaches a new device stack to the medium. The stack starts in
// StateUnknown; callers receive the first real state through the state
// callback after PowerOn (or PowerOff/SetUnauthorized).
func NewStack(m *Medium, address string) *Stack {
	s := &Stack{
		medium:     m,
		address:    address,
		state:      StateUnknown,
		attributes: make(map[attrKey][]byte),
		links:      make(map[string]bool),
		budget:     DefaultConnectionBudget,
	}
	m.register(s)
	return s
}

// Address returns the stack's radio-layer address.
func (s *Stack) Address() string { return s.address }

// SetStateCallback registers the power-state observer. It is invoked
// asynchronously on every state change.
func (s *Stack) SetStateCallback(cb func(PowerState)) {
	s.mu.Lock()
	s.stateCB = cb
	s.mu.Unlock()
}

// State returns the current power state.
func (s *Stack) State() PowerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetConnectionBudget overrides the concurrent link budget (tests only).
func (s *Stack) SetConnectionBudget(n int) {
	s.mu.Lock()
	s.budget = n
	s.mu.Unlock()
}

// PowerOn transitions the stack to StatePoweredOn.
func (s *Stack) PowerOn() { s.setState(StatePoweredOn) }

// PowerOff transitions the stack to StatePoweredOff. Any active scan stops,
// the advertisement is withdrawn and open links are dropped.
func (s *Stack) PowerOff() { s.setState(StatePoweredOff) }

// SetUnauthorized models a revoked radio permission.
func (s *Stack) SetUnauthorized() { s.setState(StateUnauthorized) }

func (s *Stack) setState(next PowerState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	cb := s.stateCB
	if next != StatePoweredOn {
		s.stopScanLocked()
		s.adv = nil
		s.links = make(map[string]bool)
	}
	s.mu.Unlock()

	if cb != nil {
		go cb(next)
	}
}

// SetAdvertisement starts (or replaces) the stack's advertisement.
func (s *Stack) SetAdvertisement(adv Advertisement) error {
	if adv.PayloadSize() > MaxAdvertisingPayload {
		return ErrPayloadTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePoweredOn {
		return ErrPoweredOff
	}
	s.adv = &adv
	return nil
}

// ClearAdvertisement stops broadcasting.
func (s *Stack) ClearAdvertisement() {
	s.mu.Lock()
	s.adv = nil
	s.mu.Unlock()
}

// Advertising returns the advertisement currently on the air, if any.
func (s *Stack) Advertising() (Advertisement, bool) {
	return s.currentAdvertisement()
}

func (s *Stack) currentAdvertisement() (Advertisement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil || s.state != StatePoweredOn {
		return Advertisement{}, false
	}
	return *s.adv, true
}

// SetAttribute publishes a readable attribute under a service, served to any
// connected peer. The slow discovery path reads the identity through this.
func (s *Stack) SetAttribute(serviceUUID, charUUID string, value []byte) {
	s.mu.Lock()
	s.attributes[attrKey{serviceUUID, charUUID}] = value
	s.mu.Unlock()
}

// ClearAttribute removes a served attribute.
func (s *Stack) ClearAttribute(serviceUUID, charUUID string) {
	s.mu.Lock()
	delete(s.attributes, attrKey{serviceUUID, charUUID})
	s.mu.Unlock()
}

// Attribute returns a served attribute's current value, if published.
func (s *Stack) Attribute(serviceUUID, charUUID string) ([]byte, bool) {
	return s.attribute(serviceUUID, charUUID)
}

func (s *Stack) attribute(serviceUUID, charUUID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attributes[attrKey{serviceUUID, charUUID}]
	return v, ok
}

// StartScan begins observing advertisers for the given services, delivering
// each observation to cb on an internal goroutine. Observations repeat for as
// long as the advertiser keeps broadcasting.
func (s *Stack) StartScan(serviceUUIDs []string, cb func(Discovery)) error {
	s.mu.Lock()
	if s.state != StatePoweredOn {
		s.mu.Unlock()
		return ErrPoweredOff
	}
	s.stopScanLocked()
	stop := make(chan struct{})
	s.scanStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(scanPollInterval)
		defer ticker.Stop()

		deliver := func() {
			for _, d := range s.medium.visibleAdvertisers(s.address, serviceUUIDs, false) {
				select {
				case <-stop:
					return
				default:
				}
				cb(d)
			}
		}

		deliver()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				deliver()
			}
		}
	}()
	return nil
}

// StopScan ends the active scan, if any.
func (s *Stack) StopScan() {
	s.mu.Lock()
	s.stopScanLocked()
	s.mu.Unlock()
}

func (s *Stack) stopScanLocked() {
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
}

// Connect opens a link to the peer at address. It consumes one slot of the
// connection budget until Disconnect releases it.
func (s *Stack) Connect(address string) error {
	s.mu.Lock()
	if s.state != StatePoweredOn {
		s.mu.Unlock()
		return ErrPoweredOff
	}
	if s.links[address] {
		s.mu.Unlock()
		return nil
	}
	if len(s.links) >= s.budget {
		s.mu.Unlock()
		return ErrConnectionLimit
	}
	s.mu.Unlock()

	injected, delay := s.medium.connectError(address)
	if delay > 0 {
		time.Sleep(delay)
	}
	if injected != nil {
		return injected
	}

	peer := s.medium.stack(address)
	if peer == nil || peer.State() != StatePoweredOn {
		return ErrUnknownPeer
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePoweredOn {
		return ErrPoweredOff
	}
	if len(s.links) >= s.budget {
		return ErrConnectionLimit
	}
	s.links[address] = true
	return nil
}

// Disconnect closes the link to address. Safe to call when not connected.
func (s *Stack) Disconnect(address string) {
	s.mu.Lock()
	delete(s.links, address)
	s.mu.Unlock()
}

// LinkCount returns the number of open outgoing links.
func (s *Stack) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *Stack) connected(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[address]
}

// ReadAttribute reads a served attribute from a connected peer.
func (s *Stack) ReadAttribute(address, serviceUUID, charUUID string) ([]byte, error) {
	if !s.connected(address) {
		return nil, ErrNotConnected
	}
	if err := s.medium.readError(address); err != nil {
		return nil, err
	}
	peer := s.medium.stack(address)
	if peer == nil {
		return nil, ErrUnknownPeer
	}
	v, ok := peer.attribute(serviceUUID, charUUID)
	if !ok {
		return nil, ErrNoSuchAttribute
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// ReadRSSI measures the signal strength of an open link. This is the
// connection-time measurement the slow path records; it is a distinct signal
// source from the advertisement RSSI.
func (s *Stack) ReadRSSI(address string) (int, error) {
	if !s.connected(address) {
		return 0, ErrNotConnected
	}
	return s.medium.RSSIBetween(s.address, address), nil
}

// Detach removes the stack from the medium (tests only).
func (s *Stack) Detach() {
	s.PowerOff()
	s.medium.unregister(s.address)
}
