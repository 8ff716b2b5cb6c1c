package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Action tells the bus whether a handler wants further events.
type Action int

const (
	// Keep leaves the handler registered.
	Keep Action = iota
	// Remove unregisters the handler after this call.
	Remove
)

// Handler reacts to an event. It runs on the dispatch goroutine and should
// return quickly; a slow handler delays later events but never a publisher.
type Handler func(ctx Context) Action

// Spec describes when a track-attached handler fires.
type Spec struct {
	Kind Kind
	// Period is the repeat interval for KindTrackPeriodic.
	Period time.Duration
	// Offset is the first firing point on the track's play clock for
	// KindTrackPeriodic and the single firing point for KindTrackDelayed.
	Offset time.Duration
}

// Track creates a spec for a state-change event of a track.
func Track(kind Kind) Spec { return Spec{Kind: kind} }

// Periodic creates a spec firing every period of play time, starting at offset.
func Periodic(period, offset time.Duration) Spec {
	return Spec{Kind: KindTrackPeriodic, Period: period, Offset: offset}
}

// Delayed creates a spec firing once after d of play time.
func Delayed(d time.Duration) Spec {
	return Spec{Kind: KindTrackDelayed, Offset: d}
}

// Validate rejects specs that cannot be attached to a track.
func (s Spec) Validate() error {
	switch {
	case !s.Kind.IsTrackEvent():
		return fmt.Errorf("%s is not a track event", s.Kind)
	case s.Kind == KindTrackPeriodic && s.Period <= 0:
		return fmt.Errorf("periodic event needs a positive period, got %v", s.Period)
	case s.Offset < 0:
		return fmt.Errorf("event offset cannot be negative, got %v", s.Offset)
	}
	return nil
}

// Attachment is a handler bound to one track. The mixer decides when it
// fires; the bus runs it and records whether it asked to be removed.
type Attachment struct {
	Spec    Spec
	handler Handler
	removed atomic.Bool

	// next is the play-clock position of the next timed firing. Only the
	// owning mixer reads or writes it.
	next time.Duration
}

// NewAttachment binds h to spec.
func NewAttachment(spec Spec, h Handler) *Attachment {
	return &Attachment{Spec: spec, handler: h, next: spec.Offset}
}

// Removed reports whether the handler returned Remove.
func (a *Attachment) Removed() bool { return a.removed.Load() }

// Due reports whether a timed attachment should fire at play position pos,
// and schedules its next firing. Untimed attachments are never due.
func (a *Attachment) Due(pos time.Duration) bool {
	if a.Removed() || pos < a.next {
		return false
	}
	switch a.Spec.Kind {
	case KindTrackPeriodic:
		for a.next <= pos {
			a.next += a.Spec.Period
		}
		return true
	case KindTrackDelayed:
		a.removed.Store(true)
		return true
	}
	return false
}

// Rewind restarts timed firing from pos, used after seeks and loops.
func (a *Attachment) Rewind(pos time.Duration) {
	switch a.Spec.Kind {
	case KindTrackPeriodic:
		a.next = a.Spec.Offset
		for a.next < pos {
			a.next += a.Spec.Period
		}
	case KindTrackDelayed:
		a.next = a.Spec.Offset
	}
}

func (a *Attachment) run(ctx Context) {
	if a.Spec.Kind == KindTrackDelayed {
		a.handler(ctx)
		return
	}
	if a.handler(ctx) == Remove {
		a.removed.Store(true)
	}
}
