package connection

import (
	"time"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/transport"
)

// Config tunes session handling.
type Config struct {
	// Modes lists acceptable encryption modes, most preferred first.
	Modes []crypto.Mode
	// ConnectTimeout bounds a whole handshake.
	ConnectTimeout time.Duration
	// MaxMissedHeartbeats unacknowledged heartbeats drop the session.
	MaxMissedHeartbeats int
	// MaxResumeAttempts bounds resumes before a full reconnect.
	MaxResumeAttempts int
	// MaxReconnectAttempts bounds full reconnects before giving up.
	MaxReconnectAttempts int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	// SendFailureThreshold consecutive failed writes force a reconnect.
	SendFailureThreshold int
	// DecryptFailureThreshold failures within DecryptFailureWindow force
	// a reconnect.
	DecryptFailureThreshold int
	DecryptFailureWindow    time.Duration
	Transport               transport.Config
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		Modes:                   crypto.DefaultModes(),
		ConnectTimeout:          10 * time.Second,
		MaxMissedHeartbeats:     3,
		MaxResumeAttempts:       5,
		MaxReconnectAttempts:    3,
		BackoffInitial:          500 * time.Millisecond,
		BackoffMax:              10 * time.Second,
		SendFailureThreshold:    50,
		DecryptFailureThreshold: 25,
		DecryptFailureWindow:    5 * time.Second,
		Transport:               transport.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Modes) == 0 {
		c.Modes = def.Modes
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = def.MaxMissedHeartbeats
	}
	if c.MaxResumeAttempts <= 0 {
		c.MaxResumeAttempts = def.MaxResumeAttempts
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = def.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.SendFailureThreshold <= 0 {
		c.SendFailureThreshold = def.SendFailureThreshold
	}
	if c.DecryptFailureThreshold <= 0 {
		c.DecryptFailureThreshold = def.DecryptFailureThreshold
	}
	if c.DecryptFailureWindow <= 0 {
		c.DecryptFailureWindow = def.DecryptFailureWindow
	}
	return c
}
