// Package mixer runs the real-time loop of a call.
//
// Every period the mixer applies queued track commands, pulls one frame
// from each playing track, mixes and encodes the result and hands it to
// the sink. Nothing in a cycle blocks: new tracks and control requests
// arrive on bounded channels drained without waiting, and the sink is
// expected to queue rather than write.
package mixer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/metrics"
	"github.com/opd-ai/voxcore/tracks"
)

// TrailingSilenceFrames are sent after audio stops so that receivers'
// decoders do not interpolate across the gap.
const TrailingSilenceFrames = 5

var (
	// ErrMixerBusy indicates a bounded mixer queue is full.
	ErrMixerBusy = errors.New("mixer queue full")

	// ErrNilTrack indicates Add was called without a track.
	ErrNilTrack = errors.New("track cannot be nil")
)

// SilencePolicy chooses what is sent while no track is playing.
type SilencePolicy int

const (
	// SilenceFill sends an Opus silence frame every tick.
	SilenceFill SilencePolicy = iota
	// SilenceSuppress sends a few trailing silence frames, then nothing.
	// The RTP timestamp keeps advancing.
	SilenceSuppress
)

func (p SilencePolicy) String() string {
	if p == SilenceSuppress {
		return "suppress"
	}
	return "fill"
}

// Sink receives encoded frames. Send and Skip must not block.
type Sink interface {
	// Send packetizes and queues payload, advancing sequence and timestamp.
	Send(payload []byte) error
	// Skip advances the timestamp by one frame without sending.
	Skip()
}

// Config tunes a Mixer.
type Config struct {
	Period       time.Duration
	Silence      SilencePolicy
	AddQueue     int
	ControlQueue int
}

// DefaultConfig returns a 20 ms, silence-filling mixer.
func DefaultConfig() Config {
	return Config{
		Period:       audio.FrameDuration,
		Silence:      SilenceFill,
		AddQueue:     32,
		ControlQueue: 16,
	}
}

type controlKind int

const (
	ctlMute controlKind = iota
	ctlBitrate
	ctlStopAll
)

type control struct {
	kind    controlKind
	mute    bool
	bitrate int
}

type sinkBox struct{ sink Sink }

// CycleResult describes one mixer cycle.
type CycleResult struct {
	// Active is the number of tracks that contributed audio.
	Active int
	// Sent reports whether a packet was handed to the sink.
	Sent bool
	// Payload is the encoded frame; it is only valid until the next cycle.
	Payload []byte
}

// Mixer owns the tracks of one call.
type Mixer struct {
	cfg     Config
	encoder codec.Encoder
	bus     *events.Bus
	clock   crypto.TimeProvider
	metrics *metrics.Collector

	adds    chan *tracks.Track
	control chan control
	sink    atomic.Pointer[sinkBox]
	onError atomic.Pointer[func(error)]
	count   atomic.Int32

	arena map[uuid.UUID]*tracks.Track
	order []*tracks.Track

	mix         audio.Mix
	scratch     audio.Frame
	mixed       audio.Frame
	packet      []byte
	muted       bool
	speaking    bool
	silenceLeft int
	cycle       uint64
}

// Option customises a Mixer.
type Option func(*Mixer)

// WithClock replaces the wall clock.
func WithClock(tp crypto.TimeProvider) Option {
	return func(m *Mixer) { m.clock = crypto.OrDefault(tp) }
}

// WithMetrics records cycle statistics.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Mixer) { m.metrics = c }
}

// New creates a mixer that publishes on bus and encodes with enc.
func New(cfg Config, enc codec.Encoder, bus *events.Bus, opts ...Option) (*Mixer, error) {
	if enc == nil {
		return nil, errors.New("encoder cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.AddQueue <= 0 {
		cfg.AddQueue = def.AddQueue
	}
	if cfg.ControlQueue <= 0 {
		cfg.ControlQueue = def.ControlQueue
	}

	m := &Mixer{
		cfg:     cfg,
		encoder: enc,
		bus:     bus,
		clock:   crypto.DefaultTimeProvider{},
		adds:    make(chan *tracks.Track, cfg.AddQueue),
		control: make(chan control, cfg.ControlQueue),
		arena:   make(map[uuid.UUID]*tracks.Track),
		scratch: audio.NewFrame(),
		mixed:   audio.NewFrame(),
		packet:  make([]byte, codec.MaxPacketSize),
	}
	for _, opt := range opts {
		opt(m)
	}

	logrus.WithFields(logrus.Fields{
		"function": "mixer.New",
		"period":   cfg.Period.String(),
		"silence":  cfg.Silence.String(),
	}).Info("Mixer created")

	return m, nil
}

// Add hands a track to the mixer. It starts on the next cycle.
func (m *Mixer) Add(t *tracks.Track) error {
	if t == nil {
		return ErrNilTrack
	}
	select {
	case m.adds <- t:
		return nil
	default:
		return ErrMixerBusy
	}
}

// SetSink attaches the packet sink; nil detaches it. Cycles without a
// sink still mix, so tracks keep time while disconnected.
func (m *Mixer) SetSink(s Sink) {
	if s == nil {
		m.sink.Store(nil)
		return
	}
	m.sink.Store(&sinkBox{sink: s})
}

// OnSendError registers a callback for sink failures. It runs on the
// mixer goroutine and must not block.
func (m *Mixer) OnSendError(fn func(error)) {
	m.onError.Store(&fn)
}

// SetMute replaces mixed audio with silence while keeping tracks running.
func (m *Mixer) SetMute(mute bool) error {
	return m.sendControl(control{kind: ctlMute, mute: mute})
}

// SetBitrate changes the encoder bitrate from the next cycle.
func (m *Mixer) SetBitrate(bitrate int) error {
	return m.sendControl(control{kind: ctlBitrate, bitrate: bitrate})
}

// StopAll stops every track on the next cycle.
func (m *Mixer) StopAll() error {
	return m.sendControl(control{kind: ctlStopAll})
}

func (m *Mixer) sendControl(c control) error {
	select {
	case m.control <- c:
		return nil
	default:
		return ErrMixerBusy
	}
}

// TrackCount returns the number of tracks the mixer owned after its last
// cycle.
func (m *Mixer) TrackCount() int { return int(m.count.Load()) }

// Run drives cycles until ctx is cancelled. Deadlines are computed from
// the start time, so a slow cycle never shifts later ones.
func (m *Mixer) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"function": "Mixer.Run",
	}).Info("Mixer loop started")
	defer m.shutdown()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	start := m.clock.Now()
	var n int64
	for {
		m.Cycle()
		n++

		next := start.Add(time.Duration(n) * m.cfg.Period)
		now := m.clock.Now()
		if now.After(next) {
			n = m.overrun(start, now, n)
			next = start.Add(time.Duration(n) * m.cfg.Period)
		}

		timer.Reset(next.Sub(now))
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.Run",
				"cycles":   m.cycle,
			}).Info("Mixer loop stopped")
			return
		case <-timer.C:
		}
	}
}

// overrun realigns the schedule after a late cycle and returns the index
// of the next deadline still in the future.
func (m *Mixer) overrun(start, now time.Time, n int64) int64 {
	missed := now.Sub(start.Add(time.Duration(n) * m.cfg.Period))
	aligned := int64(now.Sub(start)/m.cfg.Period) + 1
	skipped := int(aligned - n)

	if box := m.sink.Load(); box != nil {
		for i := 0; i < skipped; i++ {
			box.sink.Skip()
		}
	}
	m.metrics.Overrun()
	m.bus.Publish(events.LatencyOverrun{Cycle: m.cycle, Late: missed, Skipped: skipped})

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.overrun",
		"late":     missed.String(),
		"skipped":  skipped,
	}).Warn("Mixer cycle overran its deadline")

	return aligned
}

func (m *Mixer) shutdown() {
	for _, t := range m.order {
		_ = t.Close()
	}
	m.order = nil
	m.arena = make(map[uuid.UUID]*tracks.Track)
	m.count.Store(0)
}
