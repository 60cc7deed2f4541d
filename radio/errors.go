package radio

import "errors"

var (
	// ErrPoweredOff is returned when an operation requires the radio to be powered on.
	ErrPoweredOff = errors.New("radio: not powered on")

	// ErrPayloadTooLarge is returned when advertisement data exceeds the payload budget.
	ErrPayloadTooLarge = errors.New("radio: advertising payload exceeds budget")

	// ErrConnectionLimit is returned when the concurrent connection budget is exhausted.
	ErrConnectionLimit = errors.New("radio: connection limit reached")

	// ErrUnknownPeer is returned when the target address is not reachable on the medium.
	ErrUnknownPeer = errors.New("radio: unknown peer")

	// ErrNotConnected is returned for link operations on an address with no open link.
	ErrNotConnected = errors.New("radio: not connected")

	// ErrNoSuchAttribute is returned when a read targets an attribute the peer does not serve.
	ErrNoSuchAttribute = errors.New("radio: no such attribute")
)
