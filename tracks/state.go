package tracks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/events"
)

// PlayMode is the playback state of a track. Stopped and Errored are
// terminal: a track in either is reaped after its last tick.
type PlayMode int

const (
	// Playing tracks contribute one frame per tick.
	Playing PlayMode = iota
	// Paused tracks keep their position and contribute silence.
	Paused
	// Stopped tracks were stopped or ran out of audio.
	Stopped
	// Errored tracks hit a source failure; State.Err holds the reason.
	Errored
)

func (m PlayMode) String() string {
	switch m {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("PlayMode(%d)", int(m))
	}
}

// IsTerminal reports whether the mode is Stopped or Errored.
func (m PlayMode) IsTerminal() bool { return m == Stopped || m == Errored }

// LoopState says how many more times a track restarts when it ends.
type LoopState struct {
	Infinite  bool
	Remaining uint
}

// NoLoop plays a track once.
var NoLoop = LoopState{}

// LoopForever restarts a track every time it ends.
func LoopForever() LoopState { return LoopState{Infinite: true} }

// LoopTimes restarts a track n more times.
func LoopTimes(n uint) LoopState { return LoopState{Remaining: n} }

func (l LoopState) active() bool { return l.Infinite || l.Remaining > 0 }

func (l LoopState) next() LoopState {
	if !l.Infinite && l.Remaining > 0 {
		l.Remaining--
	}
	return l
}

// State is a read-only snapshot of a track, published by the mixer after
// every tick the track takes part in.
type State struct {
	Mode PlayMode
	// Err is set when Mode is Errored.
	Err    error
	Volume float32
	Loops  LoopState
	// Position is the play position within the source.
	Position time.Duration
	// PlayTime is the total audio played, across loops and seeks.
	PlayTime time.Duration
	// Frames counts the frames this track contributed.
	Frames uint64
	Ready  audio.ReadyState
}

// Event is the context published for track events.
type Event struct {
	kind   events.Kind
	ID     uuid.UUID
	State  State
	Handle *Handle
}

// Kind implements events.Context.
func (e Event) Kind() events.Kind { return e.kind }
