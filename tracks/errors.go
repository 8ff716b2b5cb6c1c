package tracks

import (
	"errors"
	"fmt"
)

// Control errors, returned synchronously by Handle methods.
var (
	// ErrSeekUnsupported indicates the track's source cannot seek.
	ErrSeekUnsupported = errors.New("track source is not seekable")

	// ErrTrackEnded indicates the track already stopped or failed.
	ErrTrackEnded = errors.New("track has ended")

	// ErrInboxFull indicates the command inbox is at capacity; back off and retry.
	ErrInboxFull = errors.New("track command inbox full")

	// ErrInvalidTrackEvent indicates an event spec that cannot attach to a track.
	ErrInvalidTrackEvent = errors.New("invalid track event")

	// ErrInvalidVolume indicates a negative or non-finite volume.
	ErrInvalidVolume = errors.New("invalid volume")
)

// Play errors.
var (
	// ErrSourceUnavailable indicates a track cannot be built from the source.
	ErrSourceUnavailable = errors.New("audio source unavailable")
)

// PlayOp names the stage at which a source failed.
type PlayOp string

const (
	OpCreate PlayOp = "create"
	OpParse  PlayOp = "parse"
	OpDecode PlayOp = "decode"
	OpSeek   PlayOp = "seek"
)

// PlayError is the reason a track entered the Errored mode.
type PlayError struct {
	Op  PlayOp
	Err error
}

func (e *PlayError) Error() string {
	return fmt.Sprintf("track %s failed: %v", e.Op, e.Err)
}

func (e *PlayError) Unwrap() error { return e.Err }
