package voxcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/config"
	"github.com/opd-ai/voxcore/connection"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/gateway"
	"github.com/opd-ai/voxcore/metrics"
	"github.com/opd-ai/voxcore/mixer"
	"github.com/opd-ai/voxcore/tracks"
	"github.com/opd-ai/voxcore/transport"
)

// speakingTimeout bounds the signalling write made when the local
// speaking indicator flips.
const speakingTimeout = 2 * time.Second

// Call is the handle to one voice channel driver. It owns the mixer, the
// event bus and the session, and is safe for concurrent use.
type Call struct {
	cfg     *config.Config
	bus     *events.Bus
	mixer   *mixer.Mixer
	conn    *connection.Connection
	metrics *metrics.Collector
	queue   *tracks.Queue

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	speaking *events.Subscription

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a Call and starts its mixer. A nil cfg uses config.Default.
// The Call is not connected until Join succeeds.
func New(cfg *config.Config, opts ...Option) (*Call, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{dialer: gateway.WebsocketDialer{}}
	for _, opt := range opts {
		opt(&o)
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.New(o.registerer)
	}

	enc := o.encoder
	if enc == nil {
		var err error
		if enc, err = cfg.NewEncoder(); err != nil {
			return nil, fmt.Errorf("failed to create encoder: %w", err)
		}
	}

	bus := events.NewBus(cfg.EventQueue)
	bus.OnDrop(collector.EventDropped)

	mix, err := mixer.New(cfg.Mixer(), enc, bus, mixer.WithMetrics(collector), mixer.WithClock(o.clock))
	if err != nil {
		bus.Close()
		return nil, err
	}

	connOpts := []connection.Option{connection.WithMetrics(collector), connection.WithClock(o.clock)}
	if o.udpDialer != nil {
		connOpts = append(connOpts, connection.WithUDPDialer(o.udpDialer))
	}
	conn, err := connection.New(cfg.Connection(), o.dialer, bus, connOpts...)
	if err != nil {
		bus.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	c := &Call{
		cfg:     cfg,
		bus:     bus,
		mixer:   mix,
		conn:    conn,
		metrics: collector,
		queue:   tracks.NewQueue(),
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
	}

	conn.OnTransport(c.attach)
	mix.OnSendError(conn.ReportSendFailure)
	c.speaking = bus.Subscribe(events.OnKinds(events.KindSpeaking), c.onSpeaking)

	group.Go(func() error {
		mix.Run(gctx)
		return nil
	})

	logrus.WithFields(logrus.Fields{
		"function": "voxcore.New",
		"encoder":  cfg.Encoder,
		"bitrate":  cfg.Bitrate,
		"silence":  cfg.Silence.String(),
	}).Info("Call created")

	return c, nil
}

// attach points the mixer at the session's media socket. t is nil while
// no socket is live.
func (c *Call) attach(t *transport.Transport) {
	if t == nil {
		c.mixer.SetSink(nil)
		return
	}
	c.mixer.SetSink(t)
}

func (c *Call) onSpeaking(ctx events.Context) events.Action {
	sp, ok := ctx.(events.Speaking)
	if !ok {
		return events.Keep
	}
	wctx, cancel := context.WithTimeout(c.ctx, speakingTimeout)
	defer cancel()
	if err := c.conn.SetSpeaking(wctx, sp.Speaking); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		logrus.WithFields(logrus.Fields{
			"function": "Call.onSpeaking",
			"speaking": sp.Speaking,
			"error":    err.Error(),
		}).Warn("Failed to update speaking state")
	}
	return events.Keep
}

// Join connects to the voice session described by info. It blocks until
// the session is established or ctx ends.
func (c *Call) Join(ctx context.Context, info connection.Info) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.Connect(ctx, info)
}

// Leave ends the session. Tracks keep playing into the void and will be
// heard again after the next Join.
func (c *Call) Leave() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.Disconnect()
}

// State returns the session state.
func (c *Call) State() connection.State { return c.conn.State() }

// Session returns the negotiated session, if connected.
func (c *Call) Session() (connection.Session, bool) { return c.conn.Session() }

// Play starts src immediately at full volume.
func (c *Call) Play(src audio.Source) (*tracks.Handle, error) {
	return c.PlayTrack(src, tracks.DefaultOptions())
}

// PlayTrack starts src with opts. The Call takes ownership of src; it is
// closed when the track is reaped.
func (c *Call) PlayTrack(src audio.Source, opts tracks.Options) (*tracks.Handle, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	t, h, err := tracks.New(src, opts)
	if err != nil {
		return nil, err
	}
	if err := c.mixer.Add(t); err != nil {
		_ = t.Close()
		return nil, err
	}
	return h, nil
}

// PlayFile decodes the file at path, prefetching frames ahead of the
// mixer when the configuration asks for it.
func (c *Call) PlayFile(path string) (*tracks.Handle, error) {
	src, err := c.Open(path)
	if err != nil {
		return nil, err
	}
	return c.Play(src)
}

// Open decodes the file at path into a source for PlayTrack or Enqueue.
func (c *Call) Open(path string) (audio.Source, error) {
	src, err := audio.Open(path)
	if err != nil {
		return nil, &tracks.PlayError{Op: tracks.OpCreate, Err: err}
	}
	if c.cfg.PrefetchFrames > 0 {
		return audio.NewPrefetcher(src, c.cfg.PrefetchFrames), nil
	}
	return src, nil
}

// Enqueue appends src to the builtin queue. It plays once every earlier
// queued track has ended.
func (c *Call) Enqueue(src audio.Source) (*tracks.Handle, error) {
	opts := tracks.DefaultOptions()
	opts.Paused = true
	h, err := c.PlayTrack(src, opts)
	if err != nil {
		return nil, err
	}
	if err := c.queue.Add(h); err != nil {
		_ = h.Stop()
		return nil, err
	}
	return h, nil
}

// Queue returns the builtin track queue.
func (c *Call) Queue() *tracks.Queue { return c.queue }

// Subscribe registers h for events matching filter.
func (c *Call) Subscribe(filter events.Filter, h events.Handler) *events.Subscription {
	return c.bus.Subscribe(filter, h)
}

// SubscribeChan delivers matching events on a channel. Events that do not
// fit in buffer are dropped.
func (c *Call) SubscribeChan(filter events.Filter, buffer int) (*events.Subscription, <-chan events.Context) {
	return c.bus.SubscribeChan(filter, buffer)
}

// SetMute sends silence in place of the mix. Tracks keep advancing.
func (c *Call) SetMute(mute bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.mixer.SetMute(mute)
}

// SetBitrate changes the encoder bitrate.
func (c *Call) SetBitrate(bitrate int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.mixer.SetBitrate(bitrate)
}

// StopAll stops every track, queued or not.
func (c *Call) StopAll() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.queue.Stop()
	return c.mixer.StopAll()
}

// TrackCount returns how many tracks the mixer currently owns.
func (c *Call) TrackCount() int { return c.mixer.TrackCount() }

// Close leaves the session, stops the mixer and shuts the event bus down.
// It is safe to call more than once.
func (c *Call) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		err := c.conn.Disconnect()
		if errors.Is(err, connection.ErrNotConnected) {
			err = nil
		}

		c.speaking.Cancel()
		c.cancel()
		if gerr := c.group.Wait(); gerr != nil && err == nil {
			err = gerr
		}
		c.bus.Close()
		c.closeErr = err

		logrus.WithFields(logrus.Fields{
			"function": "Call.Close",
		}).Info("Call closed")
	})
	return c.closeErr
}
