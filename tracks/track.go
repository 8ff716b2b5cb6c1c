// Package tracks implements controllable playback units.
//
// A Track is owned by exactly one mixer and is only mutated from its tick.
// Callers hold a Handle, which reaches the track through its bounded
// command inbox and an atomically published State snapshot; it never
// touches the Track itself.
package tracks

import (
	"errors"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/events"
)

// DefaultInboxSize bounds the commands a track buffers between ticks.
const DefaultInboxSize = 32

// Options configure a new track.
type Options struct {
	Volume    float32
	Loops     LoopState
	Paused    bool
	InboxSize int
}

// DefaultOptions plays once at full volume.
func DefaultOptions() Options {
	return Options{Volume: 1, InboxSize: DefaultInboxSize}
}

// Track is a single playback unit. Its methods are called only by the
// mixer that owns it.
type Track struct {
	id     uuid.UUID
	source audio.Source
	handle *Handle

	mode     PlayMode
	err      error
	volume   float32
	loops    LoopState
	position time.Duration
	playTime time.Duration
	frames   uint64
	ready    audio.ReadyState

	inbox       chan Command
	state       *atomic.Pointer[State]
	attachments []*events.Attachment
	bus         *events.Bus
}

// New creates a track for src along with its handle. The track does
// nothing until a mixer adopts it.
func New(src audio.Source, opts Options) (*Track, *Handle, error) {
	if src == nil {
		return nil, nil, &PlayError{Op: OpCreate, Err: ErrSourceUnavailable}
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.Volume < 0 || math.IsNaN(float64(opts.Volume)) {
		return nil, nil, ErrInvalidVolume
	}
	seekable := audio.IsSeekable(src)
	if opts.Loops.active() && !seekable {
		return nil, nil, ErrSeekUnsupported
	}

	t := &Track{
		id:     uuid.New(),
		source: src,
		mode:   Playing,
		volume: opts.Volume,
		loops:  opts.Loops,
		ready:  audio.ReadinessOf(src),
		inbox:  make(chan Command, opts.InboxSize),
		state:  new(atomic.Pointer[State]),
	}
	if opts.Paused {
		t.mode = Paused
	}
	t.handle = &Handle{id: t.id, inbox: t.inbox, state: t.state, seekable: seekable}
	t.publishState()

	logrus.WithFields(logrus.Fields{
		"function": "tracks.New",
		"track_id": t.id.String(),
		"seekable": seekable,
		"mode":     t.mode.String(),
	}).Debug("Track created")

	return t, t.handle, nil
}

// ID returns the track's identifier.
func (t *Track) ID() uuid.UUID { return t.id }

// Handle returns the track's handle.
func (t *Track) Handle() *Handle { return t.handle }

// Mode returns the current play mode.
func (t *Track) Mode() PlayMode { return t.mode }

// Volume returns the current volume.
func (t *Track) Volume() float32 { return t.volume }

// Done reports whether the track reached a terminal mode and can be reaped.
func (t *Track) Done() bool { return t.mode.IsTerminal() }

// Attach routes the track's events to bus. The mixer calls this on adoption.
func (t *Track) Attach(bus *events.Bus) {
	t.bus = bus
}

// ProcessCommands applies the commands that were queued when the call
// began, in order. Commands sent while it runs wait for the next tick.
func (t *Track) ProcessCommands() {
	pending := len(t.inbox)
	for i := 0; i < pending; i++ {
		t.apply(<-t.inbox)
	}
}

// Stop ends the track without going through its inbox. Only the owning
// mixer may call it.
func (t *Track) Stop() { t.apply(Command{Kind: CmdStop}) }

func (t *Track) apply(cmd Command) {
	if cmd.Kind == CmdAddEvent {
		t.attachments = append(t.attachments, cmd.Attachment)
		cmd.Attachment.Rewind(t.position)
		return
	}
	if t.mode.IsTerminal() {
		return
	}

	switch cmd.Kind {
	case CmdPlay:
		if t.mode == Paused {
			t.mode = Playing
			t.emit(events.KindTrackPlay)
		}
	case CmdPause:
		if t.mode == Playing {
			t.mode = Paused
			t.emit(events.KindTrackPause)
		}
	case CmdStop:
		t.mode = Stopped
		t.emit(events.KindTrackEnd)
	case CmdSeek:
		t.seek(cmd.Position)
	case CmdVolume:
		t.volume = cmd.Volume
	case CmdLoop:
		t.loops = cmd.Loops
	}
}

func (t *Track) seek(pos time.Duration) {
	seeker, ok := t.source.(audio.Seeker)
	if !ok {
		return
	}
	if err := seeker.Seek(pos); err != nil {
		t.fail(OpSeek, err)
		return
	}
	t.position = pos
	for _, a := range t.attachments {
		a.Rewind(pos)
	}
}

// Mix pulls one frame into scratch and adds it to m. It reports whether
// the track contributed audio this tick.
func (t *Track) Mix(m *audio.Mix, scratch audio.Frame) bool {
	if t.mode != Playing {
		return false
	}

	for attempt := 0; attempt < 2; attempt++ {
		n, err := t.source.ReadFrame(scratch)
		switch {
		case err == nil:
			t.ready = audio.Playable
			m.Add(scratch, n, t.volume)
			t.advance(n)
			return true
		case errors.Is(err, audio.ErrNotReady):
			t.ready = audio.Preparing
			return false
		case errors.Is(err, audio.ErrExhausted):
			if !t.restart() {
				return false
			}
		default:
			t.fail(OpDecode, err)
			return false
		}
	}
	return false
}

// restart handles the end of the source: it loops when loops remain and
// otherwise stops the track. It reports whether another read should follow.
func (t *Track) restart() bool {
	if !t.loops.active() {
		t.mode = Stopped
		t.emit(events.KindTrackEnd)
		return false
	}
	seeker, ok := t.source.(audio.Seeker)
	if !ok {
		t.fail(OpSeek, audio.ErrSeekUnsupported)
		return false
	}
	if err := seeker.Seek(0); err != nil {
		t.fail(OpSeek, err)
		return false
	}
	t.loops = t.loops.next()
	t.position = 0
	for _, a := range t.attachments {
		a.Rewind(0)
	}
	t.emit(events.KindTrackLoop)
	return true
}

func (t *Track) advance(n int) {
	d := time.Duration(n/audio.Channels) * time.Second / audio.SampleRate
	t.position += d
	t.playTime += d
	t.frames++

	kept := t.attachments[:0]
	for _, a := range t.attachments {
		if a.Due(t.position) {
			t.deliver(a, a.Spec.Kind)
		}
		if !a.Removed() {
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(t.attachments); i++ {
		t.attachments[i] = nil
	}
	t.attachments = kept
}

func (t *Track) fail(op PlayOp, err error) {
	t.mode = Errored
	t.err = &PlayError{Op: op, Err: err}

	logrus.WithFields(logrus.Fields{
		"function": "Track.fail",
		"track_id": t.id.String(),
		"op":       string(op),
		"error":    err.Error(),
	}).Warn("Track failed")

	t.emit(events.KindTrackError)
}

// emit publishes a state event and runs handlers attached for its kind.
func (t *Track) emit(kind events.Kind) {
	if t.bus == nil {
		return
	}
	ev := t.event(kind)
	t.bus.Publish(ev)
	for _, a := range t.attachments {
		if a.Spec.Kind == kind && !a.Removed() {
			t.bus.Deliver(a, ev)
		}
	}
}

func (t *Track) deliver(a *events.Attachment, kind events.Kind) {
	if t.bus != nil {
		t.bus.Deliver(a, t.event(kind))
	}
}

func (t *Track) event(kind events.Kind) Event {
	return Event{kind: kind, ID: t.id, State: t.snapshot(), Handle: t.handle}
}

func (t *Track) snapshot() State {
	return State{
		Mode:     t.mode,
		Err:      t.err,
		Volume:   t.volume,
		Loops:    t.loops,
		Position: t.position,
		PlayTime: t.playTime,
		Frames:   t.frames,
		Ready:    t.ready,
	}
}

// Publish stores the current state for handles to read.
func (t *Track) Publish() {
	t.publishState()
}

func (t *Track) publishState() {
	s := t.snapshot()
	t.state.Store(&s)
}

// Close releases the source if it holds resources.
func (t *Track) Close() error {
	if c, ok := t.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
