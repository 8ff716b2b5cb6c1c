// Package events delivers track and driver notifications to observers.
//
// Publishers never block: contexts are queued on a bounded channel and a
// single dispatch goroutine hands them to subscribers in publish order.
// When the queue is full the event is dropped and counted.
package events

import (
	"fmt"
	"time"
)

// Kind identifies what an event context describes.
type Kind int

const (
	// KindTrackPlay fires when a track starts or resumes playing.
	KindTrackPlay Kind = iota
	// KindTrackPause fires when a track is paused.
	KindTrackPause
	// KindTrackEnd fires when a track stops or its source is exhausted.
	KindTrackEnd
	// KindTrackError fires when a track's source fails.
	KindTrackError
	// KindTrackLoop fires each time a looping track restarts.
	KindTrackLoop
	// KindTrackPeriodic fires on a track's play clock at a fixed period.
	KindTrackPeriodic
	// KindTrackDelayed fires once after a track has played for a duration.
	KindTrackDelayed
	// KindSpeaking fires when the mixer starts or stops sending audio.
	KindSpeaking
	// KindSpeakingUpdate fires when a remote user's speaking state changes.
	KindSpeakingUpdate
	// KindClientDisconnect fires when a remote user leaves the channel.
	KindClientDisconnect
	// KindStateChange fires on every session state transition.
	KindStateChange
	// KindConnect fires when a session is first established.
	KindConnect
	// KindReconnect fires when a session is resumed or re-established.
	KindReconnect
	// KindDisconnect fires when the driver gives up on a session.
	KindDisconnect
	// KindVoicePacket fires for each authenticated inbound voice packet.
	KindVoicePacket
	// KindControlPacket fires for each inbound RTCP packet.
	KindControlPacket
	// KindLatencyOverrun fires when a mixer tick misses its deadline.
	KindLatencyOverrun
	// KindTick fires once per mixer tick while anyone listens for it.
	KindTick

	numKinds
)

var kindNames = [...]string{
	KindTrackPlay:        "TrackPlay",
	KindTrackPause:       "TrackPause",
	KindTrackEnd:         "TrackEnd",
	KindTrackError:       "TrackError",
	KindTrackLoop:        "TrackLoop",
	KindTrackPeriodic:    "TrackPeriodic",
	KindTrackDelayed:     "TrackDelayed",
	KindSpeaking:         "Speaking",
	KindSpeakingUpdate:   "SpeakingUpdate",
	KindClientDisconnect: "ClientDisconnect",
	KindStateChange:      "StateChange",
	KindConnect:          "Connect",
	KindReconnect:        "Reconnect",
	KindDisconnect:       "Disconnect",
	KindVoicePacket:      "VoicePacket",
	KindControlPacket:    "ControlPacket",
	KindLatencyOverrun:   "LatencyOverrun",
	KindTick:             "Tick",
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsTrackEvent reports whether k can be attached to an individual track.
func (k Kind) IsTrackEvent() bool {
	return k >= KindTrackPlay && k <= KindTrackDelayed
}

// Context is an immutable snapshot describing one event.
type Context interface {
	Kind() Kind
}

// Tick is published once per mixer cycle.
type Tick struct {
	Cycle uint64
	At    time.Time
	// Active is the number of tracks that contributed audio.
	Active int
}

// Kind implements Context.
func (Tick) Kind() Kind { return KindTick }

// LatencyOverrun reports a mixer tick that finished after its deadline.
type LatencyOverrun struct {
	Cycle uint64
	// Late is how far past the deadline the tick finished.
	Late time.Duration
	// Skipped is the number of whole periods dropped to catch up.
	Skipped int
}

// Kind implements Context.
func (LatencyOverrun) Kind() Kind { return KindLatencyOverrun }

// Speaking reports the local speaking indicator flipping.
type Speaking struct {
	Speaking bool
}

// Kind implements Context.
func (Speaking) Kind() Kind { return KindSpeaking }
