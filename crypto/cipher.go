package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// Key is a session secret key issued by the voice server.
type Key [KeySize]byte

// KeyFromBytes copies b into a Key, rejecting the wrong length.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// Cipher seals and opens voice packets for one session.
//
// Packet layout is header | tag | ciphertext | nonce suffix, where the
// suffix is empty in ModeNormal. Seal and Open may be called from different
// goroutines; Seal itself must not be called concurrently.
type Cipher struct {
	mode      Mode
	key       Key
	liteNonce atomic.Uint32
	random    io.Reader
}

// NewCipher creates a cipher for the negotiated mode and key.
func NewCipher(mode Mode, key Key) (*Cipher, error) {
	return newCipher(mode, key, rand.Reader)
}

func newCipher(mode Mode, key Key, random io.Reader) (*Cipher, error) {
	if _, ok := modeNames[mode]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}

	c := &Cipher{mode: mode, key: key, random: random}
	if mode == ModeLite {
		var start [4]byte
		if _, err := io.ReadFull(random, start[:]); err != nil {
			return nil, fmt.Errorf("failed to seed lite nonce: %w", err)
		}
		c.liteNonce.Store(binary.BigEndian.Uint32(start[:]))
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewCipher",
		"mode":     mode.String(),
	}).Debug("Packet cipher created")

	return c, nil
}

// Mode returns the negotiated mode.
func (c *Cipher) Mode() Mode { return c.mode }

// Seal appends header, then the encrypted payload and any nonce suffix, to dst.
func (c *Cipher) Seal(dst, header, payload []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	suffix := nonce[:c.mode.SuffixLen()]

	switch c.mode {
	case ModeNormal:
		copy(nonce[:], header[:min(len(header), headerNonceSize)])
	case ModeSuffix:
		if _, err := io.ReadFull(c.random, nonce[:]); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
	case ModeLite:
		binary.BigEndian.PutUint32(nonce[:4], c.liteNonce.Add(1)-1)
	}

	out := append(dst, header...)
	out = secretbox.Seal(out, payload, &nonce, (*[KeySize]byte)(&c.key))
	return append(out, suffix...), nil
}

// Open authenticates and decrypts packet, whose first headerLen bytes are
// the plaintext header, and appends the payload to dst.
func (c *Cipher) Open(dst, packet []byte, headerLen int) ([]byte, error) {
	suffixLen := c.mode.SuffixLen()
	if headerLen < 0 || len(packet) < headerLen+TagSize+suffixLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(packet))
	}

	var nonce [NonceSize]byte
	body := packet[headerLen : len(packet)-suffixLen]
	if suffixLen == 0 {
		copy(nonce[:], packet[:min(headerLen, headerNonceSize)])
	} else {
		copy(nonce[:], packet[len(packet)-suffixLen:])
	}

	out, ok := secretbox.Open(dst, body, &nonce, (*[KeySize]byte)(&c.key))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// Wipe zeroes the key. The cipher must not be used afterwards.
func (c *Cipher) Wipe() {
	ZeroBytes(c.key[:])
}
