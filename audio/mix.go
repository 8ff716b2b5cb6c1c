package audio

import "math"

// Mix accumulates several frames at float precision and renders the clipped
// sum.
type Mix struct {
	acc    [FrameSamples]float32
	tracks int
}

// Reset clears the accumulator for a new tick.
func (m *Mix) Reset() {
	m.acc = [FrameSamples]float32{}
	m.tracks = 0
}

// Add mixes the first n values of f at the given volume.
func (m *Mix) Add(f Frame, n int, volume float32) {
	if n > len(f) {
		n = len(f)
	}
	if n > FrameSamples {
		n = FrameSamples
	}
	m.tracks++
	if volume == 0 {
		return
	}
	for i := 0; i < n; i++ {
		m.acc[i] += float32(f[i]) * volume
	}
}

// Tracks returns the number of frames added since Reset.
func (m *Mix) Tracks() int { return m.tracks }

// Render writes the mixed frame into dst, clipping to the int16 range.
func (m *Mix) Render(dst Frame) {
	for i := range dst[:FrameSamples] {
		dst[i] = Clip(m.acc[i])
	}
}

// Clip saturates v to the int16 range.
func Clip(v float32) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
