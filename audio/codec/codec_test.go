package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voxcore/audio"
)

func TestPCMEncoder(t *testing.T) {
	enc := NewPCMEncoder()
	out := make([]byte, 8)
	n, err := enc.Encode([]int16{1, -1, 256, 0x7fff}, out)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 0, 0xff, 0xff, 0, 1, 0xff, 0x7f}, out)

	_, err = enc.Encode(make([]int16, 10), make([]byte, 4))
	assert.Error(t, err)

	assert.ErrorIs(t, enc.SetBitrate(0), ErrInvalidBitrate)
	assert.NoError(t, enc.SetBitrate(64000))
}

func TestOpusEncoderEncodesFrame(t *testing.T) {
	enc, err := NewOpusEncoder(0)
	require.NoError(t, err)

	frame := make([]int16, audio.FrameSamples)
	_, _ = audio.NewSine(440, 0.5).ReadFrame(frame)

	out := make([]byte, MaxPacketSize)
	n, err := enc.Encode(frame, out)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Less(t, n, MaxPacketSize)
}

func TestOpusEncoderBitrateBounds(t *testing.T) {
	enc, err := NewOpusEncoder(64000)
	require.NoError(t, err)
	assert.ErrorIs(t, enc.SetBitrate(100), ErrInvalidBitrate)
	assert.ErrorIs(t, enc.SetBitrate(1_000_000), ErrInvalidBitrate)
	assert.NoError(t, enc.SetBitrate(96000))
}

func TestDecodedSamples(t *testing.T) {
	tests := []struct {
		name string
		toc  byte
		rate int
		want int
	}{
		{"wideband 20ms", 9 << 3, 48000, 960},
		{"wideband 10ms", 8 << 3, 48000, 480},
		{"narrowband 20ms", 1 << 3, 24000, 480},
		{"stereo flag ignored", 9<<3 | 0x04, 48000, 960},
		{"celt", 31 << 3, 48000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodedSamples(tt.toc, tt.rate))
		})
	}
}

func TestOpusDecoderRejectsEmpty(t *testing.T) {
	dec := NewOpusDecoder()
	_, _, _, err := dec.Decode(nil)
	assert.Error(t, err)
}
