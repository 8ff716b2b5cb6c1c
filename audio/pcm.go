package audio

import (
	"fmt"
	"io"
	"time"
)

// PCMFormat describes raw little-endian int16 input.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// CallFormat is the format frames are produced in.
var CallFormat = PCMFormat{SampleRate: SampleRate, Channels: Channels}

// PCMReader adapts a raw PCM stream. It can seek when the reader is an
// io.Seeker.
type PCMReader struct {
	r      io.Reader
	format PCMFormat
	pipe   *pipe
}

// NewPCMReader wraps r, converting from format to call format.
func NewPCMReader(r io.Reader, format PCMFormat) (*PCMReader, error) {
	if r == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	p, err := newPipe(format.SampleRate, format.Channels, bytePuller(r))
	if err != nil {
		return nil, err
	}
	return &PCMReader{r: r, format: format, pipe: p}, nil
}

// ReadFrame implements Source.
func (s *PCMReader) ReadFrame(dst Frame) (int, error) { return s.pipe.ReadFrame(dst) }

// CanSeek reports whether the underlying reader supports seeking.
func (s *PCMReader) CanSeek() bool {
	_, ok := s.r.(io.Seeker)
	return ok
}

// Seek repositions the stream to pos.
func (s *PCMReader) Seek(pos time.Duration) error {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return ErrSeekUnsupported
	}
	offset := DurationToSamples(pos, s.format.SampleRate) * int64(s.format.Channels) * 2
	if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek PCM stream: %w", err)
	}
	s.pipe.reset()
	return nil
}

// Close closes the underlying reader if it is closable.
func (s *PCMReader) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BufferSource plays call-format samples held in memory.
type BufferSource struct {
	samples []int16
	pos     int
}

// NewBufferSource wraps interleaved call-format samples without copying.
func NewBufferSource(samples []int16) *BufferSource {
	return &BufferSource{samples: samples}
}

// ReadFrame implements Source.
func (b *BufferSource) ReadFrame(dst Frame) (int, error) {
	if b.pos >= len(b.samples) {
		return 0, ErrExhausted
	}
	n := copy(dst, b.samples[b.pos:])
	b.pos += n
	return n, nil
}

// Seek implements Seeker. Seeking past the end exhausts the source.
func (b *BufferSource) Seek(pos time.Duration) error {
	if pos < 0 {
		return fmt.Errorf("negative seek position %v", pos)
	}
	offset := DurationToSamples(pos, SampleRate) * Channels
	if offset > int64(len(b.samples)) {
		offset = int64(len(b.samples))
	}
	b.pos = int(offset)
	return nil
}

// Len returns the buffer's duration.
func (b *BufferSource) Len() time.Duration {
	return time.Duration(len(b.samples)/Channels) * time.Second / SampleRate
}
