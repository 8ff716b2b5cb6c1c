package crypto

import "errors"

// Negotiation errors.
var (
	// ErrUnknownMode indicates a mode name this package does not implement.
	ErrUnknownMode = errors.New("unknown encryption mode")

	// ErrNoCommonMode indicates the server offered no supported mode.
	ErrNoCommonMode = errors.New("no mutually supported encryption mode")

	// ErrInvalidKey indicates key material of the wrong length.
	ErrInvalidKey = errors.New("invalid secret key length")
)

// Packet errors.
var (
	// ErrDecryptionFailed indicates the authenticator did not verify.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrPacketTooShort indicates a packet cannot hold header, tag and nonce.
	ErrPacketTooShort = errors.New("packet too short")
)
