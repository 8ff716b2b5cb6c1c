package voxcore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/connection"
	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/gateway"
)

type options struct {
	registerer prometheus.Registerer
	dialer     gateway.Dialer
	udpDialer  connection.UDPDialer
	encoder    codec.Encoder
	clock      crypto.TimeProvider
}

// Option customises a Call.
type Option func(*options)

// WithRegisterer exports the driver metrics on reg. Without it metrics
// are not collected.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDialer replaces the websocket signalling dialer.
func WithDialer(d gateway.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithUDPDialer replaces how the media socket is opened.
func WithUDPDialer(d connection.UDPDialer) Option {
	return func(o *options) { o.udpDialer = d }
}

// WithEncoder replaces the configured encoder.
func WithEncoder(enc codec.Encoder) Option {
	return func(o *options) { o.encoder = enc }
}

// WithClock injects the clock used by the mixer and the session.
func WithClock(tp crypto.TimeProvider) Option {
	return func(o *options) { o.clock = tp }
}
