package hub

import "errors"

// Caller errors: rejected immediately, no state change.
var (
	ErrUnknownToken          = errors.New("hub: unknown token")
	ErrAlreadyRegistered     = errors.New("hub: token already registered with different decimals")
	ErrRequestInFlight       = errors.New("hub: remote request already in flight for token")
	ErrEndpointNotConfigured = errors.New("hub: remote endpoint not configured")
	ErrChannelSend           = errors.New("hub: channel send failed")
)

// Transient data errors: the specific call fails, cached data is untouched.
var (
	ErrStaleSourceData = errors.New("hub: local source returned no data")
	ErrNoFreshData     = errors.New("hub: no fresh yield data on either side")
)

// Security errors: hard rejects, audited, never partially applied.
var (
	ErrUntrustedSender       = errors.New("hub: message from untrusted sender")
	ErrMalformedMessage      = errors.New("hub: malformed message payload")
	ErrUnknownOrStaleRequest = errors.New("hub: response for unknown or non-pending request")
)

// ErrNoSourceData is returned by a LocalYieldSource when the market has
// no reading for the token. The hub maps it to ErrStaleSourceData.
var ErrNoSourceData = errors.New("source: no data for token")
