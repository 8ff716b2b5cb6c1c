package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/secretbox"
)

func testKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func testHeader() []byte {
	return []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x03, 0xc0, 0xde, 0xad, 0xbe, 0xef}
}

func TestCipherRoundTrip(t *testing.T) {
	const maxFrame = 1275 // largest single Opus frame

	for _, mode := range []Mode{ModeNormal, ModeSuffix, ModeLite} {
		for _, size := range []int{0, 1, maxFrame} {
			t.Run(fmt.Sprintf("%s/%d", mode, size), func(t *testing.T) {
				c, err := NewCipher(mode, testKey())
				require.NoError(t, err)

				payload := bytes.Repeat([]byte{0x5a}, size)
				packet, err := c.Seal(nil, testHeader(), payload)
				require.NoError(t, err)
				assert.Len(t, packet, len(testHeader())+size+mode.Overhead())
				assert.Equal(t, testHeader(), packet[:12])

				plain, err := c.Open(nil, packet, 12)
				require.NoError(t, err)
				assert.Equal(t, len(payload), len(plain))
				assert.True(t, bytes.Equal(payload, plain))
			})
		}
	}
}

func TestCipherRejectsTamperedTag(t *testing.T) {
	for _, mode := range []Mode{ModeNormal, ModeSuffix, ModeLite} {
		t.Run(mode.String(), func(t *testing.T) {
			c, err := NewCipher(mode, testKey())
			require.NoError(t, err)

			packet, err := c.Seal(nil, testHeader(), []byte("voice"))
			require.NoError(t, err)
			packet[12] ^= 0xff

			_, err = c.Open(nil, packet, 12)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestCipherWrongKey(t *testing.T) {
	sender, err := NewCipher(ModeSuffix, testKey())
	require.NoError(t, err)
	receiver, err := NewCipher(ModeSuffix, Key{1})
	require.NoError(t, err)

	packet, err := sender.Seal(nil, testHeader(), []byte("voice"))
	require.NoError(t, err)
	_, err = receiver.Open(nil, packet, 12)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCipherShortPacket(t *testing.T) {
	c, err := NewCipher(ModeLite, testKey())
	require.NoError(t, err)

	_, err = c.Open(nil, make([]byte, 12+TagSize+3), 12)
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestLiteNonceIncrements(t *testing.T) {
	seed := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xfe})
	c, err := newCipher(ModeLite, testKey(), seed)
	require.NoError(t, err)

	var got []uint32
	for i := 0; i < 3; i++ {
		packet, err := c.Seal(nil, testHeader(), []byte{1})
		require.NoError(t, err)
		got = append(got, binary.BigEndian.Uint32(packet[len(packet)-4:]))
	}
	assert.Equal(t, []uint32{0xfffffffe, 0xffffffff, 0}, got)
}

func TestNormalModeNonceIsHeader(t *testing.T) {
	c, err := NewCipher(ModeNormal, testKey())
	require.NoError(t, err)

	packet, err := c.Seal(nil, testHeader(), []byte("abc"))
	require.NoError(t, err)

	// Changing the header changes the nonce, so authentication fails.
	packet[3] ^= 0x01
	_, err = c.Open(nil, packet, 12)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNormalModeNonceIgnoresCSRCs(t *testing.T) {
	c, err := NewCipher(ModeNormal, testKey())
	require.NoError(t, err)

	header := append(testHeader(), 0x01, 0x02, 0x03, 0x04)
	header[0] |= 0x01
	packet, err := c.Seal(nil, header, []byte("abc"))
	require.NoError(t, err)

	var nonce [NonceSize]byte
	copy(nonce[:], header[:12])
	key := testKey()
	want := secretbox.Seal(append([]byte(nil), header...), []byte("abc"), &nonce, (*[KeySize]byte)(&key))
	assert.Equal(t, want, packet)

	plain, err := c.Open(nil, packet, len(header))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), plain)

	// An 8-byte control header is used whole.
	control := testHeader()[:8]
	packet, err = c.Seal(nil, control, []byte("rtcp"))
	require.NoError(t, err)
	plain, err = c.Open(nil, packet, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("rtcp"), plain)
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name        string
		preferred   []Mode
		offered     []string
		want        Mode
		expectError bool
	}{
		{
			name:      "Prefers lite",
			preferred: DefaultModes(),
			offered:   []string{"xsalsa20_poly1305", "xsalsa20_poly1305_suffix", "xsalsa20_poly1305_lite"},
			want:      ModeLite,
		},
		{
			name:      "Falls back to normal",
			preferred: DefaultModes(),
			offered:   []string{"aead_aes256_gcm", "xsalsa20_poly1305"},
			want:      ModeNormal,
		},
		{
			name:        "Nothing in common",
			preferred:   DefaultModes(),
			offered:     []string{"aead_aes256_gcm_rtpsize"},
			expectError: true,
		},
		{
			name:        "Empty offer",
			preferred:   []Mode{ModeSuffix},
			offered:     nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.preferred, tt.offered)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrNoCommonMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range DefaultModes() {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("rot13")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestKeyFromBytes(t *testing.T) {
	_, err := KeyFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidKey)

	k, err := KeyFromBytes(bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)
	assert.Equal(t, byte(9), k[31])
}

func TestWipe(t *testing.T) {
	c, err := NewCipher(ModeNormal, testKey())
	require.NoError(t, err)
	c.Wipe()
	assert.Equal(t, Key{}, c.key)
}
