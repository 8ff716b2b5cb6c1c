package audio

import (
	"math"
	"time"
)

// Sine is an endless test tone, the same on both channels.
type Sine struct {
	frequency float64
	amplitude float64
	sample    int64
}

// NewSine creates a tone at frequency Hz with amplitude in [0, 1].
func NewSine(frequency, amplitude float64) *Sine {
	return &Sine{frequency: frequency, amplitude: math.Max(0, math.Min(1, amplitude))}
}

// ReadFrame implements Source.
func (s *Sine) ReadFrame(dst Frame) (int, error) {
	frames := len(dst) / Channels
	for i := 0; i < frames; i++ {
		t := float64(s.sample) / SampleRate
		v := int16(s.amplitude * math.MaxInt16 * math.Sin(2*math.Pi*s.frequency*t))
		dst[2*i], dst[2*i+1] = v, v
		s.sample++
	}
	return frames * Channels, nil
}

// Seek implements Seeker.
func (s *Sine) Seek(pos time.Duration) error {
	s.sample = DurationToSamples(pos, SampleRate)
	return nil
}

// Constant emits the same sample value forever. It is mostly useful for
// checking mixer arithmetic.
type Constant int16

// ReadFrame implements Source.
func (c Constant) ReadFrame(dst Frame) (int, error) {
	for i := range dst {
		dst[i] = int16(c)
	}
	return len(dst), nil
}
