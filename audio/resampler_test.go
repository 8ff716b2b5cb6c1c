package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResampler(t *testing.T) {
	tests := []struct {
		name        string
		config      ResamplerConfig
		expectError bool
		errorMsg    string
	}{
		{"Valid", ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 2}, false, ""},
		{"Zero input rate", ResamplerConfig{InputRate: 0, OutputRate: 48000, Channels: 2}, true, "invalid sample rates"},
		{"Three channels", ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 3}, true, "unsupported channel count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.InputRate, r.InputRate())
			assert.Equal(t, tt.config.OutputRate, r.OutputRate())
		})
	}
}

func TestResamplerStreamingLength(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 24000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	var out []int16
	for i := 0; i < 10; i++ {
		chunk := make([]int16, 240)
		for j := range chunk {
			chunk[j] = 1000
		}
		out, err = r.Resample(out, chunk)
		require.NoError(t, err)
	}

	// 2400 input samples doubled, less the final interpolation point.
	assert.InDelta(t, 4800, len(out), 2)
	for _, s := range out {
		assert.Equal(t, int16(1000), s)
	}
}

func TestResamplerInterpolates(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 1, OutputRate: 2, Channels: 1})
	require.NoError(t, err)

	out, err := r.Resample(nil, []int16{0, 100, 200})
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 50, 100, 150}, out)

	out, err = r.Resample(nil, []int16{300})
	require.NoError(t, err)
	assert.Equal(t, []int16{200, 250}, out)
}

func TestResamplerSameRate(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)
	out, err := r.Resample(nil, []int16{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 4}, out)

	_, err = r.Resample(nil, []int16{1, 2, 3})
	assert.Error(t, err)
}
