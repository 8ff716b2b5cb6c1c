package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/sirupsen/logrus"
)

// MP3Source decodes an MP3 stream. go-mp3 always produces 16-bit stereo;
// other sample rates are resampled to the call rate.
type MP3Source struct {
	r       io.Reader
	decoder *mp3.Decoder
	pipe    *pipe
}

// NewMP3Source starts decoding r. Seeking is available when r is an
// io.ReadSeeker.
func NewMP3Source(r io.Reader) (*MP3Source, error) {
	if r == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	p, err := newPipe(decoder.SampleRate(), 2, bytePuller(decoder))
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewMP3Source",
		"sample_rate": decoder.SampleRate(),
		"length":      decoder.Length(),
	}).Debug("MP3 source opened")

	return &MP3Source{r: r, decoder: decoder, pipe: p}, nil
}

// ReadFrame implements Source.
func (s *MP3Source) ReadFrame(dst Frame) (int, error) { return s.pipe.ReadFrame(dst) }

// CanSeek reports whether the underlying reader supports seeking.
func (s *MP3Source) CanSeek() bool {
	_, ok := s.r.(io.Seeker)
	return ok
}

// Seek repositions decoding to pos.
func (s *MP3Source) Seek(pos time.Duration) error {
	if !s.CanSeek() {
		return ErrSeekUnsupported
	}
	offset := DurationToSamples(pos, s.decoder.SampleRate()) * 4
	if _, err := s.decoder.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek MP3 stream: %w", err)
	}
	s.pipe.reset()
	return nil
}

// Duration returns the stream length when it is known.
func (s *MP3Source) Duration() (time.Duration, bool) {
	n := s.decoder.Length()
	if n < 0 {
		return 0, false
	}
	return time.Duration(n/4) * time.Second / time.Duration(s.decoder.SampleRate()), true
}

// Close closes the underlying reader if it is closable.
func (s *MP3Source) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
