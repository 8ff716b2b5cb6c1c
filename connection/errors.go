package connection

import (
	"errors"

	"github.com/opd-ai/voxcore/crypto"
)

// Connect errors
var (
	// ErrTimeout indicates the handshake did not finish in time.
	ErrTimeout = errors.New("voice connection timed out")

	// ErrCryptoNegotiationFailed indicates no encryption mode in common
	// with the server.
	ErrCryptoNegotiationFailed = errors.New("crypto negotiation failed")

	// ErrClosed indicates the server closed the session for good.
	ErrClosed = errors.New("voice session closed by server")

	// ErrDecryptionFailed is reported when inbound packets stop
	// authenticating.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
)

// Lifecycle errors
var (
	// ErrNotConnected indicates an operation that needs a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates Connect on a live connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidInfo indicates incomplete connection credentials.
	ErrInvalidInfo = errors.New("invalid connection info")

	// ErrHeartbeatTimeout indicates too many unacknowledged heartbeats.
	ErrHeartbeatTimeout = errors.New("heartbeat not acknowledged")
)
