package device

import "time"

// Presence BLE service and characteristic UUIDs.
// These are the stable identifiers shared by advertiser and scanner; they must
// match across platforms for interoperability.
const (
	// Service UUID - the presence exchange service
	PresenceServiceUUID = "3E1180A5-6C10-43C9-AB4B-0D7E3F5B1A2E"

	// Read-only characteristic exposing the current presence code as UTF-8
	// bytes. Slow-path scanners read this after connecting.
	PresenceCodeCharUUID = "3E1180A5-6C10-43C9-AB4B-0D7E3F5B1A2F"
)

// Protocol timing defaults. Scan window is strictly shorter than the period to
// bound radio and battery usage; the presence timeout is well under the
// 24-hour code rotation period so stale codes are forgotten locally first.
const (
	DefaultScanWindow      = 6 * time.Second
	DefaultScanPeriod      = 15 * time.Second
	DefaultPresenceTimeout = 120 * time.Second
	DefaultUploadPeriod    = 20 * time.Second

	DefaultMaxTransientLinks = 3
	DefaultConnectTimeout    = 5 * time.Second
	DefaultReadTimeout       = 5 * time.Second

	// DefaultRefreshMargin is how long before code expiry the device re-fetches
	// its identity. It is kept inside the issuer's refresh-ahead window so the
	// re-fetch comes back with a fresh code, never an expired one.
	DefaultRefreshMargin = 30 * time.Minute
)

// Config carries the protocol timings. Zero values fall back to the defaults
// above; tests shrink them to keep runs fast.
type Config struct {
	ScanWindow      time.Duration
	ScanPeriod      time.Duration
	PresenceTimeout time.Duration
	UploadPeriod    time.Duration

	MaxTransientLinks int
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration

	RefreshMargin time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.ScanPeriod <= 0 {
		c.ScanPeriod = DefaultScanPeriod
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = DefaultPresenceTimeout
	}
	if c.UploadPeriod <= 0 {
		c.UploadPeriod = DefaultUploadPeriod
	}
	if c.MaxTransientLinks <= 0 {
		c.MaxTransientLinks = DefaultMaxTransientLinks
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	return c
}

// shortHash safely truncates an address for log prefixes (max 8 chars)
func shortHash(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	if s == "" {
		return "(empty)"
	}
	return s
}
