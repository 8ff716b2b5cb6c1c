package transport

import "errors"

// Lifecycle errors
var (
	// ErrNotStarted indicates a send before Start supplied keys.
	ErrNotStarted = errors.New("transport not started")

	// ErrAlreadyStarted indicates discovery was attempted after Start.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("transport closed")
)

// Discovery errors
var (
	// ErrDiscoveryFailed indicates no valid discovery response arrived.
	ErrDiscoveryFailed = errors.New("ip discovery failed")

	// ErrMalformedDiscovery indicates a response with the wrong shape.
	ErrMalformedDiscovery = errors.New("malformed discovery packet")
)
