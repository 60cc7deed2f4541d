package device

import (
	"context"
	"sync"
	"time"

	"github.com/bulpan/YEO.PE-sub001/idcode"
	"github.com/bulpan/YEO.PE-sub001/logger"
	"github.com/bulpan/YEO.PE-sub001/radio"
)

// ScanState is the discovery engine's duty-cycle position.
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanActive
)

// Scanner is the discovery engine. It duty-cycles radio scans and feeds the
// presence store through two paths: advertisements carrying the code directly
// (fast path) and transient connect-read-disconnect links against peers that
// only serve the code characteristic (slow path).
type Scanner struct {
	stack    *radio.Stack
	presence *PresenceStore
	cfg      Config
	prefix   string
	links    *linkArena

	mu           sync.Mutex
	running      bool
	paused       bool
	scanState    ScanState
	stop         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	windowFailed map[string]bool
}

// NewScanner creates a discovery engine bound to a radio stack.
func NewScanner(stack *radio.Stack, presence *PresenceStore, cfg Config) *Scanner {
	cfg = cfg.withDefaults()
	return &Scanner{
		stack:        stack,
		presence:     presence,
		cfg:          cfg,
		prefix:       shortHash(stack.Address()),
		links:        newLinkArena(cfg.MaxTransientLinks),
		windowFailed: make(map[string]bool),
	}
}

// Start begins the duty-cycle loop: Idle -> Scanning(window) -> Idle on a
// fixed period.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	stop := s.stop
	s.mu.Unlock()

	logger.Info(s.prefix, "🔍 discovery loop started")
	go s.loop(stop)
}

// Stop ends the loop, stops any active scan window and cancels in-flight
// transient links.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.cancel()
	s.mu.Unlock()

	s.stack.StopScan()
	logger.Info(s.prefix, "🔍 discovery loop stopped")
}

// Pause suspends scanning on backgrounding. The active window stops and
// in-flight links are cancelled rather than allowed to complete.
func (s *Scanner) Pause() {
	s.mu.Lock()
	if s.paused || !s.running {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.cancel()
	s.mu.Unlock()

	s.stack.StopScan()
	logger.Info(s.prefix, "🔍 discovery paused (background)")
}

// Resume re-enables scanning after foregrounding. The next duty-cycle tick
// opens a fresh window.
func (s *Scanner) Resume() {
	s.mu.Lock()
	if !s.paused || !s.running {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger.Info(s.prefix, "🔍 discovery resumed (foreground)")
}

// State returns the duty-cycle position.
func (s *Scanner) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanState
}

// InFlightLinks returns the number of transient links currently open.
func (s *Scanner) InFlightLinks() int {
	return s.links.count()
}

func (s *Scanner) loop(stop chan struct{}) {
	s.runWindow(stop)

	ticker := time.NewTicker(s.cfg.ScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runWindow(stop)
		}
	}
}

// runWindow executes one scan window. The window is strictly shorter than the
// period, so the radio idles between windows.
func (s *Scanner) runWindow(stop chan struct{}) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.windowFailed = make(map[string]bool)
	s.mu.Unlock()

	if s.stack.State() != radio.StatePoweredOn {
		// Discovery inactive; the next window retries after the radio comes back.
		logger.Debug(s.prefix, "scan window skipped: radio %s", s.stack.State())
		return
	}

	if err := s.stack.StartScan([]string{PresenceServiceUUID}, s.handleDiscovery); err != nil {
		logger.Debug(s.prefix, "scan window failed to open: %v", err)
		return
	}

	s.setScanState(ScanActive)
	logger.Trace(s.prefix, "scan window open (%s)", s.cfg.ScanWindow)

	select {
	case <-stop:
	case <-time.After(s.cfg.ScanWindow):
	}
	s.stack.StopScan()
	s.setScanState(ScanIdle)
	logger.Trace(s.prefix, "scan window closed")
}

func (s *Scanner) setScanState(state ScanState) {
	s.mu.Lock()
	s.scanState = state
	s.mu.Unlock()
}

// handleDiscovery processes one observed advertisement. Runs on the radio
// stack's scan goroutine and must not block.
func (s *Scanner) handleDiscovery(d radio.Discovery) {
	if code := d.Advertisement.LocalName; code != "" {
		// Fast path: the code rides in the payload, no connection needed.
		if !idcode.Valid(code) {
			logger.Trace(s.prefix, "discarding malformed code %q from %s", code, shortHash(d.Address))
			return
		}
		s.presence.RecordSighting(code, d.RSSI, SourceAdvertisement, time.Now())
		logger.Trace(s.prefix, "sighting %s (RSSI %d, fast path)", code, d.RSSI)
		return
	}

	// Slow path: the peer only serves the code characteristic.
	if !d.Advertisement.Connectable {
		return
	}

	s.mu.Lock()
	if s.paused || !s.running || s.windowFailed[d.Address] {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	link, ok := s.links.begin(d.Address)
	if !ok {
		// Already in flight for this address, or at the concurrency cap.
		return
	}
	go s.readCode(ctx, link)
}

// markFailed excludes an address from retries for the rest of the window.
// The next window is eligible again.
func (s *Scanner) markFailed(address string) {
	s.mu.Lock()
	s.windowFailed[address] = true
	s.mu.Unlock()
}

// readCode runs one transient link: connect, read the code characteristic,
// record the sighting with the connection-time RSSI, disconnect. Failures are
// logged and dropped; they never escalate.
func (s *Scanner) readCode(ctx context.Context, link *TransientLink) {
	defer s.links.end(link)
	addr := link.Address

	connErr := make(chan error, 1)
	go func() { connErr <- s.stack.Connect(addr) }()

	select {
	case <-ctx.Done():
		s.abandonConnect(addr, connErr)
		return
	case <-time.After(s.cfg.ConnectTimeout):
		logger.Trace(s.prefix, "link %s connect timeout to %s", shortHash(link.ID), shortHash(addr))
		s.markFailed(addr)
		s.abandonConnect(addr, connErr)
		return
	case err := <-connErr:
		if err != nil {
			logger.Trace(s.prefix, "link %s connect failed to %s: %v", shortHash(link.ID), shortHash(addr), err)
			s.markFailed(addr)
			return
		}
	}

	s.links.transition(link, LinkConnected)
	defer func() {
		s.links.transition(link, LinkDisconnecting)
		s.stack.Disconnect(addr)
	}()

	s.links.transition(link, LinkReading)

	type readResult struct {
		data []byte
		err  error
	}
	rc := make(chan readResult, 1)
	go func() {
		data, err := s.stack.ReadAttribute(addr, PresenceServiceUUID, PresenceCodeCharUUID)
		rc <- readResult{data, err}
	}()

	var code string
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.ReadTimeout):
		logger.Trace(s.prefix, "link %s read timeout on %s", shortHash(link.ID), shortHash(addr))
		s.markFailed(addr)
		return
	case r := <-rc:
		if r.err != nil {
			logger.Trace(s.prefix, "link %s read failed on %s: %v", shortHash(link.ID), shortHash(addr), r.err)
			s.markFailed(addr)
			return
		}
		code = string(r.data)
	}

	if !idcode.Valid(code) {
		logger.Trace(s.prefix, "discarding malformed code %q read from %s", code, shortHash(addr))
		s.markFailed(addr)
		return
	}

	// Re-measure after connect: the advertisement's RSSI may be stale by the
	// time the link completes.
	rssi, err := s.stack.ReadRSSI(addr)
	if err != nil {
		logger.Trace(s.prefix, "link %s RSSI read failed on %s: %v", shortHash(link.ID), shortHash(addr), err)
		s.markFailed(addr)
		return
	}

	s.presence.RecordSighting(code, rssi, SourceConnection, time.Now())
	logger.Trace(s.prefix, "sighting %s (RSSI %d, slow path)", code, rssi)
}

// abandonConnect makes sure a connect attempt that outlives its timeout or
// cancellation still releases the connection slot once it lands.
func (s *Scanner) abandonConnect(addr string, connErr chan error) {
	s.stack.Disconnect(addr)
	go func() {
		if err := <-connErr; err == nil {
			s.stack.Disconnect(addr)
		}
	}()
}
