package tracks

import (
	"time"

	"github.com/opd-ai/voxcore/events"
)

// CommandKind tags a Command.
type CommandKind int

const (
	CmdPlay CommandKind = iota
	CmdPause
	CmdStop
	CmdSeek
	CmdVolume
	CmdLoop
	CmdAddEvent
)

func (k CommandKind) String() string {
	return [...]string{"play", "pause", "stop", "seek", "volume", "loop", "add_event"}[k]
}

// Command is a control request queued on a track's inbox. Only the field
// matching Kind is meaningful.
type Command struct {
	Kind       CommandKind
	Position   time.Duration
	Volume     float32
	Loops      LoopState
	Attachment *events.Attachment
}
