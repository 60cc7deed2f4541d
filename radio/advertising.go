package radio

// MaxAdvertisingPayload is the legacy advertising data budget in bytes.
const MaxAdvertisingPayload = 31

// Advertisement is the data a device broadcasts while advertising.
// LocalName is the fast-path carrier: scanners that see it need no connection.
// A backgrounded device advertises without LocalName and serves the same value
// through a readable attribute instead.
type Advertisement struct {
	LocalName    string
	ServiceUUIDs []string
	Connectable  bool
}

// PayloadSize accounts for the advertisement in AD-structure (TLV) terms:
// 3 bytes of flags, 18 bytes per 128-bit service UUID (length + type + 16),
// and 2 + len(name) for the local name field when present.
func (a Advertisement) PayloadSize() int {
	size := 3
	size += 18 * len(a.ServiceUUIDs)
	if a.LocalName != "" {
		size += 2 + len(a.LocalName)
	}
	return size
}

// HasService reports whether the advertisement lists the given service UUID.
func (a Advertisement) HasService(serviceUUID string) bool {
	for _, u := range a.ServiceUUIDs {
		if u == serviceUUID {
			return true
		}
	}
	return false
}

// Discovery is one observation of a peer's advertisement during a scan.
type Discovery struct {
	Address       string // radio-layer address of the advertiser
	Advertisement Advertisement
	RSSI          int // signal strength at observation time, dBm
}
