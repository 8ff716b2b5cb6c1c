package crypto

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Mode is a negotiable packet encryption mode. All modes use
// xsalsa20_poly1305; they differ only in where the nonce comes from.
type Mode int

const (
	// ModeNormal derives the nonce from the packet header, zero padded.
	ModeNormal Mode = iota
	// ModeSuffix appends a random 24-byte nonce to every packet.
	ModeSuffix
	// ModeLite appends an incrementing 4-byte nonce to every packet.
	ModeLite
)

const (
	// KeySize is the length of a session secret key.
	KeySize = 32
	// NonceSize is the full xsalsa20 nonce length.
	NonceSize = 24
	// TagSize is the poly1305 authenticator length prepended to the ciphertext.
	TagSize = secretbox.Overhead

	// headerNonceSize caps the header bytes ModeNormal uses as its nonce:
	// the fixed RTP header, never the CSRC list.
	headerNonceSize = 12
)

var modeNames = map[Mode]string{
	ModeNormal: "xsalsa20_poly1305",
	ModeSuffix: "xsalsa20_poly1305_suffix",
	ModeLite:   "xsalsa20_poly1305_lite",
}

// DefaultModes lists the supported modes in preference order.
func DefaultModes() []Mode {
	return []Mode{ModeLite, ModeSuffix, ModeNormal}
}

// String returns the mode's protocol name.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a protocol name back to a Mode.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// SuffixLen is the number of nonce bytes the mode appends to each packet.
func (m Mode) SuffixLen() int {
	switch m {
	case ModeSuffix:
		return NonceSize
	case ModeLite:
		return 4
	default:
		return 0
	}
}

// Overhead is the number of bytes encryption adds to a payload.
func (m Mode) Overhead() int {
	return TagSize + m.SuffixLen()
}

// Negotiate picks the first mode in preferred that the server offered.
// Offered names that are not recognised are ignored.
func Negotiate(preferred []Mode, offered []string) (Mode, error) {
	available := make(map[Mode]bool, len(offered))
	for _, name := range offered {
		if m, err := ParseMode(name); err == nil {
			available[m] = true
		}
	}
	for _, m := range preferred {
		if available[m] {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: offered %v", ErrNoCommonMode, offered)
}
