package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/metrics"
	"github.com/opd-ai/voxcore/rtp"
)

const (
	// KeepaliveSize is the length of a UDP keepalive: SSRC then counter.
	KeepaliveSize = 8

	readTimeout    = 100 * time.Millisecond
	replayIdle     = time.Minute
	maxDatagram    = 2048
	packetCapacity = rtp.HeaderSize + 4000 + crypto.TagSize + crypto.NonceSize
)

// Config tunes a Transport.
type Config struct {
	// SendQueue bounds the packets waiting for the writer.
	SendQueue int
	// DiscoveryAttempts is how many probes Discover sends.
	DiscoveryAttempts int
	// DiscoveryInterval is how long each probe waits for its answer.
	DiscoveryInterval time.Duration
	// DecodeVoice decodes inbound Opus for VoicePacket subscribers.
	DecodeVoice bool
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		SendQueue:         64,
		DiscoveryAttempts: 5,
		DiscoveryInterval: time.Second,
	}
}

// Transport is the encrypted UDP media channel of one voice session.
type Transport struct {
	conn    net.Conn
	cfg     Config
	bus     *events.Bus
	metrics *metrics.Collector

	cipher    atomic.Pointer[crypto.Cipher]
	packets   atomic.Pointer[rtp.PacketState]
	keepalive atomic.Uint32
	started   atomic.Bool

	queue   chan []byte
	buffers sync.Pool

	tracker  *rtp.ReceiveTracker
	replay   *crypto.ReplayFilter
	decoders *decoderSet

	onDecryptFailure atomic.Pointer[func(error)]
	onWrite          atomic.Pointer[func(error)]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option customises a Transport.
type Option func(*Transport)

// WithMetrics records packet counters.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Transport) { t.metrics = c }
}

// Dial opens a UDP socket to the voice server at address.
func Dial(ctx context.Context, address string, cfg Config, bus *events.Bus, opts ...Option) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	t, err := New(conn, cfg, bus, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// New wraps a connected datagram socket. The transport takes ownership of
// conn.
func New(conn net.Conn, cfg Config, bus *events.Bus, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	def := DefaultConfig()
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.DiscoveryAttempts <= 0 {
		cfg.DiscoveryAttempts = def.DiscoveryAttempts
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:     conn,
		cfg:      cfg,
		bus:      bus,
		queue:    make(chan []byte, cfg.SendQueue),
		tracker:  rtp.NewReceiveTracker(),
		replay:   crypto.NewReplayFilter(nil),
		decoders: newDecoderSet(),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.buffers.New = func() any {
		b := make([]byte, 0, packetCapacity)
		return &b
	}
	for _, opt := range opts {
		opt(t)
	}

	logrus.WithFields(logrus.Fields{
		"function": "transport.New",
		"local":    conn.LocalAddr().String(),
		"remote":   conn.RemoteAddr().String(),
	}).Debug("Voice transport created")

	return t, nil
}

// LocalAddr returns the local socket address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the voice server address.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// OnDecryptFailure registers a callback for inbound packets that fail
// authentication. It runs on the reader goroutine.
func (t *Transport) OnDecryptFailure(fn func(error)) {
	t.onDecryptFailure.Store(&fn)
}

// OnWrite registers a callback receiving the result of every socket write.
// It runs on the writer goroutine.
func (t *Transport) OnWrite(fn func(error)) {
	t.onWrite.Store(&fn)
}

// Start installs the session cipher and RTP counters and starts the reader
// and writer. Calling it again swaps the cipher and counters in place.
func (t *Transport) Start(cipher *crypto.Cipher, packets *rtp.PacketState) error {
	if cipher == nil || packets == nil {
		return errors.New("cipher and packet state cannot be nil")
	}
	if t.ctx.Err() != nil {
		return ErrClosed
	}

	if old := t.cipher.Swap(cipher); old != nil && old != cipher {
		old.Wipe()
	}
	t.packets.Store(packets)

	if t.started.Swap(true) {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.Start",
			"ssrc":     packets.SSRC(),
			"mode":     cipher.Mode().String(),
		}).Info("Voice transport rekeyed")
		return nil
	}

	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Transport.Start",
		"ssrc":     packets.SSRC(),
		"mode":     cipher.Mode().String(),
	}).Info("Voice transport started")
	return nil
}

// PacketState returns the outbound RTP counters, or nil before Start.
func (t *Transport) PacketState() *rtp.PacketState { return t.packets.Load() }

// Send builds, seals and queues one voice packet. It never blocks: when
// the writer is behind the packet is dropped and counted.
func (t *Transport) Send(payload []byte) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	cipher, packets := t.cipher.Load(), t.packets.Load()
	if cipher == nil || packets == nil {
		return ErrNotStarted
	}

	var hdr [rtp.HeaderSize]byte
	header, err := packets.Next(hdr[:], audio.SamplesPerChannel)
	if err != nil {
		return err
	}

	bp := t.buffers.Get().(*[]byte)
	packet, err := cipher.Seal((*bp)[:0], header, payload)
	if err != nil {
		t.buffers.Put(bp)
		return err
	}
	*bp = packet

	select {
	case t.queue <- packet:
		return nil
	default:
		t.buffers.Put(bp)
		t.metrics.PacketDropped("queue_full")
		logrus.WithFields(logrus.Fields{
			"function": "Transport.Send",
			"queued":   len(t.queue),
		}).Debug("Send queue full, dropping packet")
		return nil
	}
}

// Skip advances the RTP timestamp by one frame without sending.
func (t *Transport) Skip() {
	if packets := t.packets.Load(); packets != nil {
		packets.Skip(audio.SamplesPerChannel)
	}
}

// Keepalive sends one keepalive datagram.
func (t *Transport) Keepalive() error {
	packets := t.packets.Load()
	if packets == nil {
		return ErrNotStarted
	}
	var buf [KeepaliveSize]byte
	binary.BigEndian.PutUint32(buf[0:4], packets.SSRC())
	binary.BigEndian.PutUint32(buf[4:8], t.keepalive.Add(1)-1)
	t.replay.Prune(replayIdle)
	_, err := t.conn.Write(buf[:])
	return err
}

// Stats returns receive counters for a remote SSRC.
func (t *Transport) Stats(ssrc uint32) (rtp.StreamStats, bool) {
	return t.tracker.Stats(ssrc)
}

// Forget drops receive and decoder state for a remote SSRC.
func (t *Transport) Forget(ssrc uint32) {
	t.tracker.Forget(ssrc)
	t.replay.Forget(ssrc)
	t.decoders.forget(ssrc)
}

// Close stops the goroutines and closes the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
		t.wg.Wait()
		if c := t.cipher.Swap(nil); c != nil {
			c.Wipe()
		}
		logrus.WithFields(logrus.Fields{
			"function": "Transport.Close",
		}).Info("Voice transport closed")
	})
	return err
}

// writeLoop owns queued packets and returns their buffers to the pool.
func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case packet := <-t.queue:
			_, err := t.conn.Write(packet)
			packet = packet[:0]
			t.buffers.Put(&packet)

			if err != nil {
				if t.ctx.Err() != nil {
					return
				}
				t.metrics.PacketDropped("write_error")
				logrus.WithFields(logrus.Fields{
					"function": "Transport.writeLoop",
					"error":    err.Error(),
				}).Warn("Failed to write voice packet")
			} else {
				t.metrics.PacketSent()
			}
			if fn := t.onWrite.Load(); fn != nil {
				(*fn)(err)
			}
		}
	}
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buffer := make([]byte, maxDatagram)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := t.conn.Read(buffer)
		if err != nil {
			if t.handleReadError(err) {
				return
			}
			continue
		}
		t.handlePacket(buffer[:n])
	}
}

// handleReadError reports whether the read loop should stop.
func (t *Transport) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	logrus.WithFields(logrus.Fields{
		"function": "Transport.readLoop",
		"error":    err.Error(),
	}).Debug("Voice socket read failed")
	return false
}
