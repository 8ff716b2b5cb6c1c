// Package codec encodes mixed frames for the wire and decodes inbound voice.
//
// Outbound audio is encoded with libopus (gopkg.in/hraban/opus.v2). Inbound
// packets are decoded with the pure Go pion/opus decoder so that receiving
// does not require cgo state per remote speaker.
package codec

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MaxPacketSize is the largest Opus packet libopus will produce.
const MaxPacketSize = 4000

// SilenceFrame is the canonical three-byte Opus silence packet.
var SilenceFrame = []byte{0xf8, 0xff, 0xfe}

// ErrInvalidBitrate indicates a bitrate outside the codec's range.
var ErrInvalidBitrate = errors.New("invalid bit rate")

// Encoder turns one call-format frame into a wire payload.
type Encoder interface {
	// Encode writes the encoded frame into out and returns its length.
	Encode(pcm []int16, out []byte) (int, error)
	SetBitrate(bitrate int) error
}

// PCMEncoder passes samples through as little-endian bytes. It is useful
// for tests and loopback debugging.
type PCMEncoder struct {
	bitrate int
}

// NewPCMEncoder creates a passthrough encoder.
func NewPCMEncoder() *PCMEncoder {
	return &PCMEncoder{}
}

// Encode implements Encoder.
func (e *PCMEncoder) Encode(pcm []int16, out []byte) (int, error) {
	if len(out) < len(pcm)*2 {
		return 0, fmt.Errorf("output buffer too small: need %d bytes, have %d", len(pcm)*2, len(out))
	}
	for i, sample := range pcm {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return len(pcm) * 2, nil
}

// SetBitrate records the bitrate; passthrough output size does not change.
func (e *PCMEncoder) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	logrus.WithFields(logrus.Fields{
		"function":     "PCMEncoder.SetBitrate",
		"old_bit_rate": e.bitrate,
		"new_bit_rate": bitrate,
	}).Debug("Updating encoder bit rate")
	e.bitrate = bitrate
	return nil
}
