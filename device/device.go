// Package device implements the device-side proximity presence protocol:
// rotating-code advertising, dual-path discovery, the local presence table
// and the periodic upload to the backend.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bulpan/YEO.PE-sub001/client"
	"github.com/bulpan/YEO.PE-sub001/logger"
	"github.com/bulpan/YEO.PE-sub001/radio"
)

// API is the backend surface a device depends on.
type API interface {
	FetchIdentity(ctx context.Context) (client.Identity, error)
	RotateIdentity(ctx context.Context) (client.Identity, error)
	UploadSightings(ctx context.Context, sightings []client.Sighting) ([]client.NearbyUser, error)
}

// Device runs the advertiser, the discovery engine and the uploader as
// concurrent callback-driven components over one radio stack.
type Device struct {
	stack  *radio.Stack
	env    Environment
	api    API
	cfg    Config
	prefix string

	presence   *PresenceStore
	advertiser *Advertiser
	scanner    *Scanner
	uploader   *Uploader

	mu           sync.Mutex
	started      bool
	unsubEnv     func()
	identity     client.Identity
	refreshTimer *time.Timer
}

// New wires a device from its capabilities. onNearby, when non-nil, receives
// every fresh nearby-user list (the chat/UI collaborator edge).
func New(stack *radio.Stack, env Environment, api API, cfg Config, onNearby func([]client.NearbyUser)) *Device {
	cfg = cfg.withDefaults()
	presence := NewPresenceStore(cfg.PresenceTimeout)
	prefix := shortHash(stack.Address())

	return &Device{
		stack:      stack,
		env:        env,
		api:        api,
		cfg:        cfg,
		prefix:     prefix,
		presence:   presence,
		advertiser: NewAdvertiser(stack),
		scanner:    NewScanner(stack, presence, cfg),
		uploader:   NewUploader(presence, api, cfg.UploadPeriod, prefix, onNearby),
	}
}

// Start fetches the device's presence code and brings up advertising,
// discovery and uploads. A forbidden caller (suspended user) gets an error
// and nothing is broadcast.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	id, err := d.api.FetchIdentity(ctx)
	if err != nil {
		if errors.Is(err, client.ErrForbidden) {
			return fmt.Errorf("device: caller not permitted to participate: %w", err)
		}
		return fmt.Errorf("device: fetch presence code: %w", err)
	}

	d.mu.Lock()
	d.identity = id
	d.started = true
	d.mu.Unlock()

	d.stack.SetStateCallback(d.handleRadioState)

	if err := d.advertiser.Start(id.Identifier); err != nil {
		return fmt.Errorf("device: start advertising: %w", err)
	}
	d.scanner.Start()
	d.uploader.Start()

	if !d.env.IsForeground() {
		d.scanner.Pause()
		d.advertiser.Pause()
	}
	d.mu.Lock()
	d.unsubEnv = d.env.Subscribe(d.handleLifecycle)
	d.mu.Unlock()
	d.scheduleRefresh(id.ExpiresAt)

	logger.Info(d.prefix, "device started, code expires %s", id.ExpiresAt.Format("15:04:05"))
	return nil
}

// Stop tears everything down: timers, scans, broadcasts and in-flight links.
func (d *Device) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	unsub := d.unsubEnv
	d.unsubEnv = nil
	if d.refreshTimer != nil {
		d.refreshTimer.Stop()
		d.refreshTimer = nil
	}
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	d.uploader.Stop()
	d.scanner.Stop()
	d.advertiser.Stop()
	logger.Info(d.prefix, "device stopped")
}

// RefreshIdentity re-fetches the caller's code and switches broadcasts over
// if it changed. The refresh timer calls this ahead of expiry; it is also
// safe to call directly after the backend signals rotation.
func (d *Device) RefreshIdentity(ctx context.Context) error {
	id, err := d.api.FetchIdentity(ctx)
	if err != nil {
		return fmt.Errorf("device: refresh presence code: %w", err)
	}
	return d.adoptIdentity(id)
}

// Rotate forces a fresh code ("start fresh" privacy action) and switches
// broadcasts over promptly: the old value is invalidated server-side at once,
// so any residual broadcast of it resolves to nothing.
func (d *Device) Rotate(ctx context.Context) error {
	id, err := d.api.RotateIdentity(ctx)
	if err != nil {
		return fmt.Errorf("device: rotate presence code: %w", err)
	}
	return d.adoptIdentity(id)
}

func (d *Device) adoptIdentity(id client.Identity) error {
	d.mu.Lock()
	changed := d.identity.Identifier != id.Identifier
	d.identity = id
	d.mu.Unlock()

	d.scheduleRefresh(id.ExpiresAt)

	if !changed {
		return nil
	}
	logger.Info(d.prefix, "presence code rotated")
	return d.advertiser.SetCode(id.Identifier)
}

// scheduleRefresh arms the timer that re-fetches the code before it expires,
// so the broadcast never outlives its server-side validity.
func (d *Device) scheduleRefresh(expiresAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	if d.refreshTimer != nil {
		d.refreshTimer.Stop()
	}
	delay := time.Until(expiresAt) - d.cfg.RefreshMargin
	if delay < time.Second {
		delay = time.Second
	}
	d.refreshTimer = time.AfterFunc(delay, d.refreshExpiring)
	logger.Debug(d.prefix, "code refresh in %s", delay.Round(time.Second))
}

func (d *Device) refreshExpiring() {
	d.mu.Lock()
	started := d.started
	expiresAt := d.identity.ExpiresAt
	d.mu.Unlock()
	if !started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.RefreshIdentity(ctx); err != nil {
		// Keep broadcasting the current code; retry on the next cycle.
		logger.Warn(d.prefix, "code refresh failed: %v", err)
		d.scheduleRefresh(expiresAt)
	}
}

// Identity returns the current presence code and its expiry.
func (d *Device) Identity() client.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

// Nearby returns the latest resolved nearby-user list.
func (d *Device) Nearby() []client.NearbyUser {
	return d.uploader.Nearby()
}

// Presence exposes the presence store (upload input, tests).
func (d *Device) Presence() *PresenceStore { return d.presence }

// Advertiser exposes the advertiser component.
func (d *Device) Advertiser() *Advertiser { return d.advertiser }

// Scanner exposes the discovery engine.
func (d *Device) Scanner() *Scanner { return d.scanner }

// Uploader exposes the upload component.
func (d *Device) Uploader() *Uploader { return d.uploader }

// handleRadioState feeds radio power transitions into the components.
func (d *Device) handleRadioState(state radio.PowerState) {
	logger.Debug(d.prefix, "radio state: %s", state)
	d.advertiser.HandleRadioState(state)
}

// handleLifecycle pauses the whole discovery loop on backgrounding and
// resumes it on foregrounding.
func (d *Device) handleLifecycle(foreground bool) {
	if foreground {
		d.scanner.Resume()
		d.advertiser.Resume()
		return
	}
	d.scanner.Pause()
	d.advertiser.Pause()
}
