package radio

import (
	"sync"
	"time"
)

// DefaultRSSI is reported for a pair of devices with no explicit override.
const DefaultRSSI = -60

// Medium is the shared in-process radio medium. Every simulated device
// attaches one Stack to it; advertisements, connections and attribute reads
// all travel through the medium so tests can observe and perturb them.
type Medium struct {
	mu           sync.RWMutex
	stacks       map[string]*Stack
	rssi         map[string]int // "observer|advertiser" -> dBm
	connectErrs  map[string]error
	readErrs     map[string]error
	connectDelay time.Duration
}

// NewMedium creates an empty radio medium.
func NewMedium() *Medium {
	return &Medium{
		stacks:      make(map[string]*Stack),
		rssi:        make(map[string]int),
		connectErrs: make(map[string]error),
		readErrs:    make(map[string]error),
	}
}

func pairKey(observer, advertiser string) string {
	return observer + "|" + advertiser
}

func (m *Medium) register(s *Stack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stacks[s.address] = s
}

func (m *Medium) unregister(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, address)
}

// SetRSSI overrides the signal strength that observer measures for advertiser.
// Tests use this to model distance and to give the post-connect measurement a
// different value than the advertisement carried.
func (m *Medium) SetRSSI(observer, advertiser string, rssi int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rssi[pairKey(observer, advertiser)] = rssi
}

// RSSIBetween returns the signal strength observer currently measures for advertiser.
func (m *Medium) RSSIBetween(observer, advertiser string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.rssi[pairKey(observer, advertiser)]; ok {
		return v
	}
	return DefaultRSSI
}

// FailConnections makes every connection attempt to address fail with err.
// Pass nil to clear.
func (m *Medium) FailConnections(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.connectErrs, address)
		return
	}
	m.connectErrs[address] = err
}

// FailReads makes every attribute read against address fail with err.
// Pass nil to clear.
func (m *Medium) FailReads(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrs, address)
		return
	}
	m.readErrs[address] = err
}

// SetConnectDelay adds artificial latency to every connection attempt.
func (m *Medium) SetConnectDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectDelay = d
}

func (m *Medium) connectError(address string) (error, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectErrs[address], m.connectDelay
}

func (m *Medium) readError(address string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readErrs[address]
}

func (m *Medium) stack(address string) *Stack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stacks[address]
}

// visibleAdvertisers returns every powered-on stack currently advertising a
// service from serviceUUIDs, excluding the observer itself when skipSelf is
// set. A device CAN discover its own advertisement on real stacks, so the
// scanner keeps skipSelf false and filters by identity instead.
func (m *Medium) visibleAdvertisers(observer string, serviceUUIDs []string, skipSelf bool) []Discovery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Discovery
	for addr, s := range m.stacks {
		if skipSelf && addr == observer {
			continue
		}
		adv, ok := s.currentAdvertisement()
		if !ok {
			continue
		}
		if len(serviceUUIDs) > 0 {
			match := false
			for _, u := range serviceUUIDs {
				if adv.HasService(u) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		rssi := DefaultRSSI
		if v, ok := m.rssi[pairKey(observer, addr)]; ok {
			rssi = v
		}
		out = append(out, Discovery{Address: addr, Advertisement: adv, RSSI: rssi})
	}
	return out
}
