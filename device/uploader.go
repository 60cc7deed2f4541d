package device

import (
	"context"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bulpan/YEO.PE-sub001/client"
	"github.com/bulpan/YEO.PE-sub001/logger"
)

// SightingSender is the slice of the backend client the uploader needs.
type SightingSender interface {
	UploadSightings(ctx context.Context, sightings []client.Sighting) ([]client.NearbyUser, error)
}

// Uploader periodically ships the presence snapshot to the backend and keeps
// the latest resolved nearby-user list. Its timer is independent of the scan
// duty cycle: an upload operates on whatever the store holds at fire time.
// Upload failure never clears the store; the next tick retries with the
// then-current snapshot.
type Uploader struct {
	presence *PresenceStore
	sender   SightingSender
	period   time.Duration
	prefix   string
	onResult func([]client.NearbyUser)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	cancel  context.CancelFunc
	nearby  []client.NearbyUser
}

// NewUploader creates an uploader. onResult, when non-nil, receives each
// fresh nearby-user list (the chat/UI collaborator edge).
func NewUploader(presence *PresenceStore, sender SightingSender, period time.Duration, prefix string, onResult func([]client.NearbyUser)) *Uploader {
	if period <= 0 {
		period = DefaultUploadPeriod
	}
	return &Uploader{
		presence: presence,
		sender:   sender,
		period:   period,
		prefix:   prefix,
		onResult: onResult,
	}
}

// Start begins the periodic upload timer.
func (u *Uploader) Start() {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return
	}
	u.running = true
	u.stop = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	stop := u.stop
	u.mu.Unlock()

	go u.loop(ctx, stop)
}

// Stop cancels the pending timer and any in-flight upload.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stop)
	u.cancel()
	u.mu.Unlock()
}

// Nearby returns the most recently resolved nearby-user list.
func (u *Uploader) Nearby() []client.NearbyUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]client.NearbyUser, len(u.nearby))
	copy(out, u.nearby)
	return out
}

func (u *Uploader) loop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(u.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			u.uploadOnce(ctx)
		}
	}
}

// UploadNow performs one immediate upload round outside the timer.
func (u *Uploader) UploadNow(ctx context.Context) {
	u.uploadOnce(ctx)
}

func (u *Uploader) uploadOnce(ctx context.Context) {
	u.presence.EvictExpired(time.Now())

	entries := u.presence.Snapshot()
	if len(entries) == 0 {
		logger.Trace(u.prefix, "upload skipped: presence table empty")
		return
	}

	sightings := make([]client.Sighting, 0, len(entries))
	for _, e := range entries {
		sightings = append(sightings, client.Sighting{
			Identifier:     e.Code,
			SignalStrength: e.RSSI,
		})
	}

	users, err := u.sender.UploadSightings(ctx, sightings)
	if err != nil {
		// The store stays untouched; stale entries will have been evicted
		// locally by the time the next round retries.
		logger.Warn(u.prefix, "upload failed (%d sightings): %v", len(sightings), err)
		return
	}

	u.mu.Lock()
	u.nearby = users
	onResult := u.onResult
	u.mu.Unlock()

	logger.Debug(u.prefix, "⬆️  uploaded %d sightings, %d nearby users", len(sightings), len(users))
	u.logRound(sightings, users)
	if onResult != nil {
		onResult(users)
	}
}

// logRound emits the round's wire payloads as PB JSON at debug level.
func (u *Uploader) logRound(sightings []client.Sighting, users []client.NearbyUser) {
	if logger.GetLevel() > logger.DEBUG {
		return
	}
	report, err := roundReport(sightings, users)
	if err != nil {
		logger.Warn(u.prefix, "round report failed: %v", err)
		return
	}
	logger.DebugJSON(u.prefix, "upload round", report)
}

// roundReport packs a completed round's request and response payloads into a
// protobuf struct, mirroring what went over the wire.
func roundReport(sightings []client.Sighting, users []client.NearbyUser) (*structpb.Struct, error) {
	uploaded := make([]interface{}, 0, len(sightings))
	for _, s := range sightings {
		uploaded = append(uploaded, map[string]interface{}{
			"identifier":     s.Identifier,
			"signalStrength": s.SignalStrength,
		})
	}
	resolved := make([]interface{}, 0, len(users))
	for _, nu := range users {
		resolved = append(resolved, map[string]interface{}{
			"userId":                    nu.UserID,
			"displayIdentity":           nu.DisplayIdentity,
			"approximateSignalStrength": nu.SignalStrength,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"identifiers": uploaded,
		"users":       resolved,
	})
}
