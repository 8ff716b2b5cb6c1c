package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/gateway"
	"github.com/opd-ai/voxcore/id"
	"github.com/opd-ai/voxcore/metrics"
	"github.com/opd-ai/voxcore/transport"
)

// UDPDialer opens the media socket of a session.
type UDPDialer func(ctx context.Context, address string, cfg transport.Config, bus *events.Bus) (*transport.Transport, error)

// Connection is the driver's view of one voice session.
type Connection struct {
	cfg     Config
	dialer  gateway.Dialer
	dialUDP UDPDialer
	bus     *events.Bus
	metrics *metrics.Collector
	clock   crypto.TimeProvider
	machine *machine

	mu        sync.Mutex
	info      Info
	session   *Session
	ws        gateway.Conn
	transport *transport.Transport
	signal    *signalling
	interval  time.Duration
	runCtx    context.Context
	runCancel context.CancelFunc

	onTransport atomic.Pointer[func(*transport.Transport)]

	nonce        atomic.Uint64
	missed       atomic.Int32
	sentAt       atomic.Int64
	sendFailures atomic.Int32
	reconnecting atomic.Bool
	reconnectWG  sync.WaitGroup

	decryptMu       sync.Mutex
	decryptFailures []time.Time

	speakersMu sync.RWMutex
	speakers   map[uint32]id.UserID
}

// Option customises a Connection.
type Option func(*Connection)

// WithMetrics records state and reconnect statistics.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithClock replaces the wall clock used for heartbeat nonces and failure
// windows.
func WithClock(tp crypto.TimeProvider) Option {
	return func(c *Connection) { c.clock = crypto.OrDefault(tp) }
}

// WithUDPDialer replaces how media sockets are opened.
func WithUDPDialer(d UDPDialer) Option {
	return func(c *Connection) { c.dialUDP = d }
}

// New creates a disconnected Connection.
func New(cfg Config, dialer gateway.Dialer, bus *events.Bus, opts ...Option) (*Connection, error) {
	if dialer == nil {
		return nil, errors.New("dialer cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	c := &Connection{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		bus:      bus,
		clock:    crypto.DefaultTimeProvider{},
		speakers: make(map[uint32]id.UserID),
	}
	c.dialUDP = func(ctx context.Context, address string, cfg transport.Config, bus *events.Bus) (*transport.Transport, error) {
		return transport.Dial(ctx, address, cfg, bus, transport.WithMetrics(c.metrics))
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = newMachine(c.transitioned)
	return c, nil
}

// State returns the current session state.
func (c *Connection) State() State { return c.machine.current() }

// Session returns the established session, if any.
func (c *Connection) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Transport returns the current media transport, if any.
func (c *Connection) Transport() *transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// OnTransport registers a callback run whenever the media transport is
// replaced; it receives nil when the transport goes away.
func (c *Connection) OnTransport(fn func(*transport.Transport)) {
	c.onTransport.Store(&fn)
}

// UserForSSRC returns the user last seen speaking with ssrc.
func (c *Connection) UserForSSRC(ssrc uint32) (id.UserID, bool) {
	c.speakersMu.RLock()
	defer c.speakersMu.RUnlock()
	u, ok := c.speakers[ssrc]
	return u, ok
}

func (c *Connection) transitioned(from, to State) {
	c.metrics.StateChange(from.String(), to.String(), int(to))
	c.bus.Publish(StateChange{From: from, To: to})

	logrus.WithFields(logrus.Fields{
		"function": "Connection.transitioned",
		"from":     from.String(),
		"to":       to.String(),
	}).Debug("Session state changed")
}

// Connect establishes a session with the credentials in info. It fails
// with ErrTimeout when the handshake exceeds the configured timeout,
// ErrCryptoNegotiationFailed when no mode is shared, and ErrClosed when
// the server refuses the session.
func (c *Connection) Connect(ctx context.Context, info Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if err := c.machine.fire(evDiscover); err != nil {
		return ErrAlreadyConnected
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Connection.Connect",
		"guild_id": info.GuildID.String(),
		"endpoint": info.Endpoint,
	})
	logger.Info("Connecting voice session")

	est, err := c.handshake(ctx, info, true)
	if err != nil {
		_ = c.machine.fire(evDisconnect)
		logger.WithField("error", err.Error()).Error("Voice connection failed")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.info = info
	c.runCtx, c.runCancel = runCtx, cancel
	c.mu.Unlock()

	if err := c.install(est, true); err != nil {
		cancel()
		_ = c.machine.fire(evDisconnect)
		return err
	}
	if err := c.machine.fire(evEstablish); err != nil {
		c.teardown()
		return err
	}

	c.bus.Publish(Connected{
		GuildID: info.GuildID,
		SSRC:    est.session.SSRC,
		Mode:    est.session.Mode,
		Server:  est.session.Server.String(),
	})
	logger.WithFields(logrus.Fields{
		"ssrc": est.session.SSRC,
		"mode": est.session.Mode.String(),
	}).Info("Voice session connected")
	return nil
}

// install makes est the live session. A fresh install starts its
// transport with new RTP counters.
func (c *Connection) install(est *established, fresh bool) error {
	if fresh {
		if err := est.start(); err != nil {
			est.close()
			return err
		}
		est.transport.OnDecryptFailure(c.reportDecryptFailure)
		est.transport.OnWrite(c.observeWrite)
	}

	c.missed.Store(0)
	c.sendFailures.Store(0)
	c.resetDecryptFailures()

	c.mu.Lock()
	c.session = &est.session
	c.ws = est.ws
	c.interval = est.interval
	if fresh {
		c.transport = est.transport
	}
	c.signal = c.startSignalling(est.ws, est.interval)
	c.mu.Unlock()

	if fresh {
		c.notifyTransport(est.transport)
	}
	return nil
}

func (c *Connection) notifyTransport(t *transport.Transport) {
	if fn := c.onTransport.Load(); fn != nil {
		(*fn)(t)
	}
}

// SetSpeaking announces our speaking state to the server.
func (c *Connection) SetSpeaking(ctx context.Context, speaking bool) error {
	c.mu.Lock()
	ws, session := c.ws, c.session
	c.mu.Unlock()
	if ws == nil || session == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	flags := 0
	if speaking {
		flags = gateway.SpeakingMicrophone
	}
	if err := ws.Send(ctx, gateway.OpSpeaking, gateway.Speaking{Speaking: flags, SSRC: session.SSRC}); err != nil {
		return fmt.Errorf("failed to send speaking state: %w", err)
	}
	return nil
}

// ReportSendFailure counts a failed media write. Enough consecutive
// failures replace the session.
func (c *Connection) ReportSendFailure(err error) {
	if err == nil {
		return
	}
	n := c.sendFailures.Add(1)
	if int(n) < c.cfg.SendFailureThreshold {
		return
	}
	c.sendFailures.Store(0)
	c.lost(fmt.Errorf("%d consecutive send failures: %w", n, err), gateway.RecoverReconnect)
}

// ReportSendSuccess resets the send failure count.
func (c *Connection) ReportSendSuccess() {
	c.sendFailures.Store(0)
}

func (c *Connection) observeWrite(err error) {
	if err != nil {
		c.ReportSendFailure(err)
		return
	}
	c.ReportSendSuccess()
}

// reportDecryptFailure counts inbound packets that failed authentication
// within a sliding window.
func (c *Connection) reportDecryptFailure(err error) {
	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.DecryptFailureWindow)

	c.decryptMu.Lock()
	kept := c.decryptFailures[:0]
	for _, at := range c.decryptFailures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.decryptFailures = append(kept, now)
	tripped := len(c.decryptFailures) >= c.cfg.DecryptFailureThreshold
	if tripped {
		c.decryptFailures = c.decryptFailures[:0]
	}
	c.decryptMu.Unlock()

	if tripped {
		c.lost(fmt.Errorf("%w: threshold reached: %v", ErrDecryptionFailed, err), gateway.RecoverReconnect)
	}
}

func (c *Connection) resetDecryptFailures() {
	c.decryptMu.Lock()
	c.decryptFailures = c.decryptFailures[:0]
	c.decryptMu.Unlock()
}

// Disconnect ends the session, stopping any reconnect in progress.
func (c *Connection) Disconnect() error {
	if c.State() == StateDisconnected {
		return ErrNotConnected
	}

	// Cancelling under the lock stops lost from starting new recoveries.
	c.mu.Lock()
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()
	c.reconnectWG.Wait()

	c.terminate(nil)
	logrus.WithFields(logrus.Fields{
		"function": "Connection.Disconnect",
	}).Info("Voice session disconnected")
	return nil
}

// teardown closes signalling and transport and forgets the session.
func (c *Connection) teardown() {
	c.mu.Lock()
	sig, tr := c.signal, c.transport
	c.signal, c.transport, c.ws, c.session = nil, nil, nil, nil
	c.mu.Unlock()

	if sig != nil {
		sig.stop(gateway.CloseNormal)
	}
	if tr != nil {
		c.notifyTransport(nil)
		_ = tr.Close()
	}

	c.speakersMu.Lock()
	c.speakers = make(map[uint32]id.UserID)
	c.speakersMu.Unlock()
}

// terminate tears the session down and publishes the final event once.
func (c *Connection) terminate(cause error) {
	c.teardown()
	if err := c.machine.fire(evDisconnect); err != nil {
		return
	}
	c.mu.Lock()
	guild := c.info.GuildID
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()
	c.bus.Publish(Disconnected{GuildID: guild, Err: cause})
}
