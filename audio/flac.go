package audio

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// FLACSource decodes a FLAC stream, converting bit depth, channel count and
// sample rate to the call format. It does not seek.
type FLACSource struct {
	stream   *flac.Stream
	channels int
	shift    int
	pipe     *pipe
	block    []int16
	offset   int
}

// NewFLACSource parses the stream header of r.
func NewFLACSource(r io.Reader) (*FLACSource, error) {
	if r == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	channels := int(info.NChannels)
	if channels > 2 {
		stream.Close()
		return nil, fmt.Errorf("unsupported FLAC channel count: %d", channels)
	}

	s := &FLACSource{
		stream:   stream,
		channels: channels,
		shift:    int(info.BitsPerSample) - 16,
	}
	s.pipe, err = newPipe(int(info.SampleRate), channels, s.pull)
	if err != nil {
		stream.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewFLACSource",
		"sample_rate": info.SampleRate,
		"channels":    channels,
		"bit_depth":   info.BitsPerSample,
	}).Debug("FLAC source opened")

	return s, nil
}

// ReadFrame implements Source.
func (s *FLACSource) ReadFrame(dst Frame) (int, error) { return s.pipe.ReadFrame(dst) }

// pull copies decoded samples into dst, parsing FLAC frames as needed.
func (s *FLACSource) pull(dst []int16) (int, error) {
	if s.offset >= len(s.block) {
		frame, err := s.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		s.block = s.block[:0]
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.channels; ch++ {
				s.block = append(s.block, s.scale(frame.Subframes[ch].Samples[i]))
			}
		}
		s.offset = 0
	}
	n := copy(dst, s.block[s.offset:])
	s.offset += n
	return n, nil
}

func (s *FLACSource) scale(v int32) int16 {
	switch {
	case s.shift > 0:
		return int16(v >> s.shift)
	case s.shift < 0:
		return int16(v << -s.shift)
	default:
		return int16(v)
	}
}

// Close releases the stream.
func (s *FLACSource) Close() error {
	return s.stream.Close()
}
