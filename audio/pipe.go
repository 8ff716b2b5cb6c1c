package audio

import (
	"errors"
	"fmt"
	"io"
)

// maxEmptyReads bounds how often a decoder may return nothing without an
// error before it is treated as stuck.
const maxEmptyReads = 8

// pipe converts a stream of interleaved int16 samples at an arbitrary rate
// and channel count into call-format frames.
type pipe struct {
	pull      func(dst []int16) (int, error)
	channels  int
	resampler *Resampler
	chunk     []int16
	stereo    []int16
	pending   []int16
	eof       bool
}

func newPipe(rate, channels int, pull func([]int16) (int, error)) (*pipe, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", channels)
	}
	p := &pipe{
		pull:     pull,
		channels: channels,
		chunk:    make([]int16, SamplesPerChannel*channels),
	}
	if rate != SampleRate {
		r, err := NewResampler(ResamplerConfig{InputRate: rate, OutputRate: SampleRate, Channels: Channels})
		if err != nil {
			return nil, err
		}
		p.resampler = r
	}
	return p, nil
}

func (p *pipe) ReadFrame(dst Frame) (int, error) {
	empty := 0
	for len(p.pending) < len(dst) && !p.eof {
		n, err := p.pull(p.chunk)
		if n > 0 {
			empty = 0
			if err := p.push(p.chunk[:n-n%p.channels]); err != nil {
				return 0, err
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			p.eof = true
		case err != nil:
			return 0, err
		case n == 0:
			empty++
			if empty >= maxEmptyReads {
				return 0, io.ErrNoProgress
			}
		}
	}

	if len(p.pending) == 0 {
		return 0, ErrExhausted
	}
	n := copy(dst, p.pending)
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return n, nil
}

func (p *pipe) push(samples []int16) error {
	p.stereo = p.stereo[:0]
	if p.channels == 1 {
		for _, s := range samples {
			p.stereo = append(p.stereo, s, s)
		}
	} else {
		p.stereo = append(p.stereo, samples...)
	}

	if p.resampler == nil {
		p.pending = append(p.pending, p.stereo...)
		return nil
	}
	var err error
	p.pending, err = p.resampler.Resample(p.pending, p.stereo)
	return err
}

// reset drops buffered audio after the underlying stream was repositioned.
func (p *pipe) reset() {
	p.pending = p.pending[:0]
	p.eof = false
	if p.resampler != nil {
		p.resampler.Reset()
	}
}

// bytePuller reads little-endian int16 samples from r.
func bytePuller(r io.Reader) func([]int16) (int, error) {
	var buf []byte
	return func(dst []int16) (int, error) {
		if cap(buf) < len(dst)*2 {
			buf = make([]byte, len(dst)*2)
		}
		n, err := io.ReadFull(r, buf[:len(dst)*2])
		samples := n / 2
		for i := 0; i < samples; i++ {
			dst[i] = int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		}
		return samples, err
	}
}
