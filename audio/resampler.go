package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved PCM between sample rates with linear
// interpolation. It keeps the last input frame between calls so that
// consecutive chunks join without clicks.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	step       float64
	position   float64
	last       []int16
	hasLast    bool
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  int // Input sample rate in Hz
	OutputRate int // Output sample rate in Hz
	Channels   int // 1 or 2
}

// NewResampler creates a streaming resampler.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate <= 0 || config.OutputRate <= 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Creating audio resampler")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		step:       float64(config.InputRate) / float64(config.OutputRate),
		last:       make([]int16, config.Channels),
	}, nil
}

// Resample converts one chunk and appends the result to dst.
func (r *Resampler) Resample(dst, input []int16) ([]int16, error) {
	if len(input)%r.channels != 0 {
		return dst, fmt.Errorf("input length %d not aligned to %d channels", len(input), r.channels)
	}
	frames := len(input) / r.channels
	if frames == 0 {
		return dst, nil
	}
	if r.inputRate == r.outputRate {
		return append(dst, input...), nil
	}

	if !r.hasLast {
		copy(r.last, input[:r.channels])
		r.hasLast = true
	}

	// position is relative to the first frame of input; -1 addresses the
	// final frame of the previous chunk.
	for {
		idx := int(r.position)
		if r.position < 0 {
			idx = -1
		}
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			a := r.sample(input, idx, ch)
			b := input[(idx+1)*r.channels+ch]
			dst = append(dst, int16(float64(a)+(float64(b)-float64(a))*frac))
		}
		r.position += r.step
	}

	r.position -= float64(frames)
	copy(r.last, input[(frames-1)*r.channels:])
	return dst, nil
}

func (r *Resampler) sample(input []int16, idx, ch int) int16 {
	if idx < 0 {
		return r.last[ch]
	}
	return input[idx*r.channels+ch]
}

// Reset discards interpolation state, e.g. after a seek.
func (r *Resampler) Reset() {
	r.position = 0
	r.hasLast = false
	for i := range r.last {
		r.last[i] = 0
	}
}

// InputRate returns the configured input sample rate.
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the configured output sample rate.
func (r *Resampler) OutputRate() int { return r.outputRate }
