package connection

import (
	"fmt"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/id"
	"github.com/opd-ai/voxcore/transport"
)

// Info holds the credentials the main gateway hands out for a voice
// session.
type Info struct {
	// Endpoint is the voice server host:port, or a ws:// or wss:// URL.
	Endpoint  string
	GuildID   id.GuildID
	ChannelID id.ChannelID
	UserID    id.UserID
	SessionID string
	Token     string
}

// Validate checks that every field needed by Identify is present.
func (i Info) Validate() error {
	switch {
	case i.Endpoint == "":
		return fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidInfo)
	case i.GuildID.IsZero():
		return fmt.Errorf("%w: guild id cannot be zero", ErrInvalidInfo)
	case i.UserID.IsZero():
		return fmt.Errorf("%w: user id cannot be zero", ErrInvalidInfo)
	case i.SessionID == "":
		return fmt.Errorf("%w: session id cannot be empty", ErrInvalidInfo)
	case i.Token == "":
		return fmt.Errorf("%w: token cannot be empty", ErrInvalidInfo)
	}
	return nil
}

// Session is what a completed handshake established. It is replaced as a
// whole on full reconnect and never modified.
type Session struct {
	Info     Info
	SSRC     uint32
	Server   transport.Address
	External transport.Address
	Mode     crypto.Mode
	Key      crypto.Key
}
