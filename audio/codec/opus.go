package codec

import (
	"fmt"

	popus "github.com/pion/opus"
	"github.com/sirupsen/logrus"
	hopus "gopkg.in/hraban/opus.v2"

	"github.com/opd-ai/voxcore/audio"
)

const (
	// DefaultBitrate matches what voice servers expect for music.
	DefaultBitrate = 128000
	MinBitrate     = 500
	MaxBitrate     = 512000
)

// OpusEncoder wraps a libopus encoder configured for the call format.
type OpusEncoder struct {
	encoder *hopus.Encoder
}

// NewOpusEncoder creates a 48 kHz stereo encoder in audio mode.
func NewOpusEncoder(bitrate int) (*OpusEncoder, error) {
	encoder, err := hopus.NewEncoder(audio.SampleRate, audio.Channels, hopus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	e := &OpusEncoder{encoder: encoder}
	if bitrate == 0 {
		bitrate = DefaultBitrate
	}
	if err := e.SetBitrate(bitrate); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewOpusEncoder",
		"bit_rate": bitrate,
	}).Debug("Opus encoder created")

	return e, nil
}

// Encode implements Encoder.
func (e *OpusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	n, err := e.encoder.Encode(pcm, out)
	if err != nil {
		return 0, fmt.Errorf("opus encode failed: %w", err)
	}
	return n, nil
}

// SetBitrate implements Encoder.
func (e *OpusEncoder) SetBitrate(bitrate int) error {
	if bitrate < MinBitrate || bitrate > MaxBitrate {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, bitrate)
	}
	if err := e.encoder.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("failed to set opus bitrate: %w", err)
	}
	return nil
}

// OpusDecoder decodes inbound voice packets to interleaved int16 PCM.
type OpusDecoder struct {
	decoder popus.Decoder
	buf     []byte
}

// NewOpusDecoder creates a decoder for one remote stream.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		decoder: popus.NewDecoder(),
		buf:     make([]byte, audio.FrameSamples*2),
	}
}

// Decode decodes packet and returns the samples along with whether the
// stream is stereo and its sample rate.
func (d *OpusDecoder) Decode(packet []byte) (pcm []int16, stereo bool, rate int, err error) {
	if len(packet) == 0 {
		return nil, false, 0, fmt.Errorf("opus packet cannot be empty")
	}
	bandwidth, isStereo, err := d.decoder.Decode(packet, d.buf)
	if err != nil {
		return nil, false, 0, fmt.Errorf("opus decode failed: %w", err)
	}

	rate = bandwidth.SampleRate() * silkUpsample
	pcm = make([]int16, min(decodedSamples(packet[0], rate), len(d.buf)/2))
	for i := range pcm {
		pcm[i] = int16(uint16(d.buf[2*i]) | uint16(d.buf[2*i+1])<<8)
	}
	return pcm, isStereo, rate, nil
}

// silkUpsample is the factor pion/opus repeats each SILK sample by.
const silkUpsample = 3

// decodedSamples returns how many samples a single-frame packet with the
// given TOC byte yields at rate.
func decodedSamples(toc byte, rate int) int {
	config := toc >> 3
	if config >= 12 {
		// Hybrid and CELT configurations are not decoded.
		return 0
	}
	frameMs := [4]int{10, 20, 40, 60}[config%4]
	return rate * frameMs / 1000
}
