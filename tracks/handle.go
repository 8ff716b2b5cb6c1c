package tracks

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/voxcore/events"
)

// Handle controls a track from outside the mixer. Copies of the pointer
// may be shared freely; dropping every handle does not stop playback.
//
// All control methods enqueue a command and return immediately. The
// change becomes visible in State after the next mixer tick.
type Handle struct {
	id       uuid.UUID
	inbox    chan<- Command
	state    *atomic.Pointer[State]
	seekable bool
}

// ID returns the track's identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// State returns the snapshot published after the most recent tick.
func (h *Handle) State() State { return *h.state.Load() }

// Seekable reports whether Seek and looping are available.
func (h *Handle) Seekable() bool { return h.seekable }

// Play resumes a paused track.
func (h *Handle) Play() error { return h.send(Command{Kind: CmdPlay}) }

// Pause pauses a playing track.
func (h *Handle) Pause() error { return h.send(Command{Kind: CmdPause}) }

// Stop ends the track permanently.
func (h *Handle) Stop() error { return h.send(Command{Kind: CmdStop}) }

// Seek moves playback to pos.
func (h *Handle) Seek(pos time.Duration) error {
	if !h.seekable {
		return ErrSeekUnsupported
	}
	if pos < 0 {
		return fmt.Errorf("negative seek position %v", pos)
	}
	return h.send(Command{Kind: CmdSeek, Position: pos})
}

// SetVolume sets the gain applied when mixing; 1 is unchanged.
func (h *Handle) SetVolume(volume float32) error {
	if volume < 0 || math.IsNaN(float64(volume)) || math.IsInf(float64(volume), 0) {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	return h.send(Command{Kind: CmdVolume, Volume: volume})
}

// SetLoops sets how many more times the track restarts when it ends.
func (h *Handle) SetLoops(loops LoopState) error {
	if loops.active() && !h.seekable {
		return ErrSeekUnsupported
	}
	return h.send(Command{Kind: CmdLoop, Loops: loops})
}

// AddEvent attaches handler to this track. Spec must describe a track
// event: a state change, a periodic timer or a delayed timer.
func (h *Handle) AddEvent(spec events.Spec, handler events.Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrInvalidTrackEvent)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrackEvent, err)
	}
	return h.send(Command{Kind: CmdAddEvent, Attachment: events.NewAttachment(spec, handler)})
}

func (h *Handle) send(cmd Command) error {
	if h.State().Mode.IsTerminal() {
		return ErrTrackEnded
	}
	select {
	case h.inbox <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}
