package connection

import (
	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/id"
)

// StateChange is published on every transition.
type StateChange struct {
	From, To State
}

// Kind implements events.Context.
func (StateChange) Kind() events.Kind { return events.KindStateChange }

// Connected is published when Connect succeeds.
type Connected struct {
	GuildID id.GuildID
	SSRC    uint32
	Mode    crypto.Mode
	Server  string
}

// Kind implements events.Context.
func (Connected) Kind() events.Kind { return events.KindConnect }

// Reconnected is published when a dropped session is restored. Method is
// "resume" when the session survived and "reconnect" when it was replaced.
type Reconnected struct {
	GuildID id.GuildID
	SSRC    uint32
	Method  string
}

// Kind implements events.Context.
func (Reconnected) Kind() events.Kind { return events.KindReconnect }

// Disconnected is the final event of a session. Err is nil after a local
// Disconnect.
type Disconnected struct {
	GuildID id.GuildID
	Err     error
}

// Kind implements events.Context.
func (Disconnected) Kind() events.Kind { return events.KindDisconnect }

// SpeakingUpdate reports a remote user's speaking state and SSRC.
type SpeakingUpdate struct {
	SSRC     uint32
	UserID   id.UserID
	Speaking bool
}

// Kind implements events.Context.
func (SpeakingUpdate) Kind() events.Kind { return events.KindSpeakingUpdate }

// ClientDisconnected reports that a remote user left the channel.
type ClientDisconnected struct {
	UserID id.UserID
}

// Kind implements events.Context.
func (ClientDisconnected) Kind() events.Kind { return events.KindClientDisconnect }
