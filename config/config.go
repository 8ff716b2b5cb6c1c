// Package config gathers the driver's tunables in one place.
//
// A Config starts from Default, can be overlaid from VOXCORE_* environment
// variables (optionally loaded from .env files) and is split into the
// per-package configurations by the accessors at the bottom of this file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/connection"
	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/mixer"
	"github.com/opd-ai/voxcore/transport"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Silence policies, re-exported for callers that only import config.
const (
	SilenceFill     = mixer.SilenceFill
	SilenceSuppress = mixer.SilenceSuppress
)

// Encoder names.
const (
	EncoderOpus = "opus"
	EncoderPCM  = "pcm"
)

// Config holds every driver setting.
type Config struct {
	// Encryption modes, most preferred first.
	Modes []crypto.Mode

	// Mixer
	Silence     mixer.SilencePolicy
	Encoder     string
	Bitrate     int
	MixerPeriod time.Duration

	// Event bus
	EventQueue int

	// Session
	ConnectTimeout          time.Duration
	MaxMissedHeartbeats     int
	MaxResumeAttempts       int
	MaxReconnectAttempts    int
	BackoffInitial          time.Duration
	BackoffMax              time.Duration
	SendFailureThreshold    int
	DecryptFailureThreshold int
	DecryptFailureWindow    time.Duration

	// Media socket
	SendQueue         int
	DiscoveryAttempts int
	DiscoveryInterval time.Duration
	DecodeVoice       bool

	// Tracks
	PrefetchFrames int

	LogLevel string
}

// Default returns the stock configuration.
func Default() *Config {
	conn := connection.DefaultConfig()
	tr := transport.DefaultConfig()
	return &Config{
		Modes:                   crypto.DefaultModes(),
		Silence:                 SilenceFill,
		Encoder:                 EncoderOpus,
		Bitrate:                 codec.DefaultBitrate,
		MixerPeriod:             mixer.DefaultConfig().Period,
		EventQueue:              256,
		ConnectTimeout:          conn.ConnectTimeout,
		MaxMissedHeartbeats:     conn.MaxMissedHeartbeats,
		MaxResumeAttempts:       conn.MaxResumeAttempts,
		MaxReconnectAttempts:    conn.MaxReconnectAttempts,
		BackoffInitial:          conn.BackoffInitial,
		BackoffMax:              conn.BackoffMax,
		SendFailureThreshold:    conn.SendFailureThreshold,
		DecryptFailureThreshold: conn.DecryptFailureThreshold,
		DecryptFailureWindow:    conn.DecryptFailureWindow,
		SendQueue:               tr.SendQueue,
		DiscoveryAttempts:       tr.DiscoveryAttempts,
		DiscoveryInterval:       tr.DiscoveryInterval,
		PrefetchFrames:          50,
		LogLevel:                "info",
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(len(c.Modes) > 0, "at least one crypto mode is required")
	check(c.Silence == SilenceFill || c.Silence == SilenceSuppress, "unknown silence policy %d", c.Silence)
	check(c.Encoder == EncoderOpus || c.Encoder == EncoderPCM, "unknown encoder %q", c.Encoder)
	check(c.Bitrate >= codec.MinBitrate && c.Bitrate <= codec.MaxBitrate,
		"bitrate %d outside [%d, %d]", c.Bitrate, codec.MinBitrate, codec.MaxBitrate)
	check(c.MixerPeriod > 0, "mixer period must be positive")
	check(c.EventQueue > 0, "event queue must be positive")
	check(c.ConnectTimeout > 0, "connect timeout must be positive")
	check(c.MaxMissedHeartbeats > 0, "max missed heartbeats must be positive")
	check(c.MaxResumeAttempts > 0, "max resume attempts must be positive")
	check(c.MaxReconnectAttempts > 0, "max reconnect attempts must be positive")
	check(c.BackoffInitial > 0 && c.BackoffMax >= c.BackoffInitial, "backoff must satisfy 0 < initial <= max")
	check(c.SendFailureThreshold > 0, "send failure threshold must be positive")
	check(c.DecryptFailureThreshold > 0, "decrypt failure threshold must be positive")
	check(c.DecryptFailureWindow > 0, "decrypt failure window must be positive")
	check(c.SendQueue > 0, "send queue must be positive")
	check(c.DiscoveryAttempts > 0, "discovery attempts must be positive")
	check(c.DiscoveryInterval > 0, "discovery interval must be positive")
	check(c.PrefetchFrames >= 0, "prefetch frames cannot be negative")
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	return errors.Join(errs...)
}

// Connection returns the session settings.
func (c *Config) Connection() connection.Config {
	return connection.Config{
		Modes:                   append([]crypto.Mode(nil), c.Modes...),
		ConnectTimeout:          c.ConnectTimeout,
		MaxMissedHeartbeats:     c.MaxMissedHeartbeats,
		MaxResumeAttempts:       c.MaxResumeAttempts,
		MaxReconnectAttempts:    c.MaxReconnectAttempts,
		BackoffInitial:          c.BackoffInitial,
		BackoffMax:              c.BackoffMax,
		SendFailureThreshold:    c.SendFailureThreshold,
		DecryptFailureThreshold: c.DecryptFailureThreshold,
		DecryptFailureWindow:    c.DecryptFailureWindow,
		Transport:               c.Transport(),
	}
}

// Transport returns the media socket settings.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		SendQueue:         c.SendQueue,
		DiscoveryAttempts: c.DiscoveryAttempts,
		DiscoveryInterval: c.DiscoveryInterval,
		DecodeVoice:       c.DecodeVoice,
	}
}

// Mixer returns the mixer settings.
func (c *Config) Mixer() mixer.Config {
	cfg := mixer.DefaultConfig()
	cfg.Period = c.MixerPeriod
	cfg.Silence = c.Silence
	return cfg
}

// NewEncoder builds the configured encoder.
func (c *Config) NewEncoder() (codec.Encoder, error) {
	if c.Encoder == EncoderPCM {
		enc := codec.NewPCMEncoder()
		return enc, enc.SetBitrate(c.Bitrate)
	}
	return codec.NewOpusEncoder(c.Bitrate)
}
