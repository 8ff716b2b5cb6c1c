package audio

import (
	"errors"
	"time"
)

const (
	// SampleRate is the call's fixed sample rate in Hz.
	SampleRate = 48000
	// Channels is the call's fixed channel count.
	Channels = 2
	// FrameDuration is the length of one mixer tick.
	FrameDuration = 20 * time.Millisecond
	// SamplesPerChannel is the number of samples per channel in one frame.
	SamplesPerChannel = SampleRate / 1000 * 20
	// FrameSamples is the interleaved length of one frame.
	FrameSamples = SamplesPerChannel * Channels
)

// Source errors.
var (
	// ErrExhausted signals the end of a finite source.
	ErrExhausted = errors.New("audio source exhausted")

	// ErrNotReady signals that a buffered source has no frame yet. The mixer
	// plays silence for the track without advancing its position.
	ErrNotReady = errors.New("audio source not ready")

	// ErrSeekUnsupported is returned by sources that cannot seek.
	ErrSeekUnsupported = errors.New("audio source is not seekable")
)

// Frame is one tick of interleaved stereo PCM.
type Frame []int16

// NewFrame allocates a zeroed frame.
func NewFrame() Frame { return make(Frame, FrameSamples) }

// Source produces call-format PCM frames.
//
// ReadFrame fills dst and returns the number of values written. A short
// count means the source ended mid-frame; the next call returns
// ErrExhausted. ReadFrame must return promptly.
type Source interface {
	ReadFrame(dst Frame) (int, error)
}

// Seeker is a Source that supports random access by play position.
type Seeker interface {
	Source
	Seek(pos time.Duration) error
}

// ReadyState reports how close a source is to producing audio.
type ReadyState int

const (
	// Uninitialised sources have not started decoding.
	Uninitialised ReadyState = iota
	// Preparing sources are decoding but have no frame buffered.
	Preparing
	// Playable sources can produce a frame immediately.
	Playable
)

func (r ReadyState) String() string {
	switch r {
	case Preparing:
		return "preparing"
	case Playable:
		return "playable"
	default:
		return "uninitialised"
	}
}

// Readier is implemented by sources that buffer ahead of playback.
type Readier interface {
	Ready() ReadyState
}

// IsSeekable reports whether src can seek. Sources whose seekability
// depends on the underlying reader may implement CanSeek.
func IsSeekable(src Source) bool {
	if _, ok := src.(Seeker); !ok {
		return false
	}
	if c, ok := src.(interface{ CanSeek() bool }); ok {
		return c.CanSeek()
	}
	return true
}

// ReadinessOf returns src's ready state, treating plain sources as playable.
func ReadinessOf(src Source) ReadyState {
	if r, ok := src.(Readier); ok {
		return r.Ready()
	}
	return Playable
}

// DurationToSamples converts a play position into samples per channel at rate.
func DurationToSamples(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}
