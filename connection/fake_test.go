package connection

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/gateway"
	"github.com/opd-ai/voxcore/id"
	"github.com/opd-ai/voxcore/rtp"
	"github.com/opd-ai/voxcore/transport"
)

// fakeConn is an in-memory gateway.Conn. The server side uses push, recv
// and kill.
type fakeConn struct {
	toClient  chan gateway.Payload
	toServer  chan gateway.Payload
	done      chan struct{}
	once      sync.Once
	err       error
	closeCode atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient: make(chan gateway.Payload, 16),
		toServer: make(chan gateway.Payload, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeConn) shutdown(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *fakeConn) Send(ctx context.Context, op gateway.Opcode, data any) error {
	p, err := gateway.NewPayload(op, data)
	if err != nil {
		return err
	}
	select {
	case <-f.done:
		return f.err
	default:
	}
	select {
	case f.toServer <- p:
		return nil
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Receive(ctx context.Context) (gateway.Payload, error) {
	select {
	case p := <-f.toClient:
		return p, nil
	case <-f.done:
		return gateway.Payload{}, f.err
	case <-ctx.Done():
		return gateway.Payload{}, ctx.Err()
	}
}

func (f *fakeConn) Close(code int, _ string) error {
	f.closeCode.CompareAndSwap(0, int32(code))
	f.shutdown(net.ErrClosed)
	return nil
}

func (f *fakeConn) push(op gateway.Opcode, data any) {
	p, err := gateway.NewPayload(op, data)
	if err != nil {
		panic(err)
	}
	select {
	case f.toClient <- p:
	case <-f.done:
	}
}

func (f *fakeConn) kill(code int) {
	f.shutdown(&gateway.CloseError{Code: code})
}

// voiceServer scripts the server half of the signalling protocol and
// answers IP discovery on a loopback UDP socket.
type voiceServer struct {
	t        *testing.T
	udp      net.PacketConn
	ssrc     uint32
	key      crypto.Key
	interval time.Duration

	mu            sync.Mutex
	modes         []string
	identifyClose int
	silent        bool
	down          bool
	failResumes   int
	ack           bool
	conns         []*fakeConn
	received      []gateway.Payload
	keepalives    int
	media         []rtp.MediaHeader
}

func newVoiceServer(t *testing.T) *voiceServer {
	t.Helper()
	udp, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &voiceServer{
		t:        t,
		udp:      udp,
		ssrc:     4242,
		key:      crypto.Key{9, 8, 7, 6, 5, 4, 3, 2, 1},
		interval: 10 * time.Second,
		modes:    []string{"xsalsa20_poly1305", "xsalsa20_poly1305_suffix", "xsalsa20_poly1305_lite"},
		ack:      true,
	}
	t.Cleanup(func() {
		udp.Close()
		s.mu.Lock()
		conns := append([]*fakeConn(nil), s.conns...)
		s.mu.Unlock()
		for _, c := range conns {
			c.shutdown(net.ErrClosed)
		}
	})
	go s.serveUDP()
	return s
}

func (s *voiceServer) serveUDP() {
	buf := make([]byte, 2048)
	for {
		n, from, err := s.udp.ReadFrom(buf)
		if err != nil {
			return
		}
		switch {
		case n == transport.DiscoverySize && binary.BigEndian.Uint16(buf[0:2]) == 1:
			ua := from.(*net.UDPAddr)
			resp := transport.EncodeDiscoveryResponse(binary.BigEndian.Uint32(buf[4:8]),
				transport.Address{IP: ua.IP.String(), Port: uint16(ua.Port)})
			_, _ = s.udp.WriteTo(resp, from)
		case n == transport.KeepaliveSize:
			s.mu.Lock()
			s.keepalives++
			s.mu.Unlock()
		case rtp.Classify(buf[:n]) == rtp.KindMedia:
			if h, err := rtp.ParseMediaHeader(buf[:n]); err == nil {
				s.mu.Lock()
				s.media = append(s.media, h)
				s.mu.Unlock()
			}
		}
	}
}

func (s *voiceServer) set(fn func(s *voiceServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *voiceServer) Dial(ctx context.Context, endpoint string) (gateway.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	s.conns = append(s.conns, conn)
	go s.serve(conn)
	return conn, nil
}

// mediaAfter waits for more than n media packets and returns the newest.
func (s *voiceServer) mediaAfter(n int) rtp.MediaHeader {
	s.t.Helper()
	var h rtp.MediaHeader
	require.Eventually(s.t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.media) <= n {
			return false
		}
		h = s.media[len(s.media)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return h
}

func (s *voiceServer) current() *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func (s *voiceServer) count(op gateway.Opcode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.received {
		if p.Op == op {
			n++
		}
	}
	return n
}

func (s *voiceServer) last(op gateway.Opcode) (gateway.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.received) - 1; i >= 0; i-- {
		if s.received[i].Op == op {
			return s.received[i], true
		}
	}
	return gateway.Payload{}, false
}

func (s *voiceServer) serve(conn *fakeConn) {
	conn.push(gateway.OpHello, gateway.Hello{HeartbeatInterval: float64(s.interval / time.Millisecond)})
	port := uint16(s.udp.LocalAddr().(*net.UDPAddr).Port)

	for {
		var p gateway.Payload
		select {
		case p = <-conn.toServer:
		case <-conn.done:
			return
		}

		s.mu.Lock()
		s.received = append(s.received, p)
		modes, silent, closeCode, ack := s.modes, s.silent, s.identifyClose, s.ack
		s.mu.Unlock()

		switch p.Op {
		case gateway.OpIdentify:
			if silent {
				continue
			}
			if closeCode != 0 {
				conn.kill(closeCode)
				return
			}
			conn.push(gateway.OpReady, gateway.Ready{SSRC: s.ssrc, IP: "127.0.0.1", Port: port, Modes: modes})
		case gateway.OpSelectProtocol:
			var sel gateway.SelectProtocol
			_ = p.Decode(&sel)
			key := make([]int, len(s.key))
			for i, b := range s.key {
				key[i] = int(b)
			}
			conn.push(gateway.OpSessionDescription, gateway.SessionDescription{Mode: sel.Data.Mode, SecretKey: key})
		case gateway.OpHeartbeat:
			if ack {
				var nonce uint64
				_ = p.Decode(&nonce)
				conn.push(gateway.OpHeartbeatAck, nonce)
			}
		case gateway.OpResume:
			s.mu.Lock()
			fail := s.failResumes > 0
			if fail {
				s.failResumes--
			} else {
				s.ack = true
			}
			s.mu.Unlock()
			if fail {
				conn.kill(gateway.CloseServerCrashed)
				return
			}
			conn.push(gateway.OpResumed, nil)
		}
	}
}

var testInfo = Info{
	Endpoint:  "voice.test:443",
	GuildID:   id.GuildID(1),
	ChannelID: id.ChannelID(3),
	UserID:    id.UserID(2),
	SessionID: "session",
	Token:     "token",
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.BackoffInitial = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.MaxResumeAttempts = 2
	cfg.MaxReconnectAttempts = 2
	cfg.Transport.DiscoveryInterval = 200 * time.Millisecond
	return cfg
}

func newTestConnection(t *testing.T, s *voiceServer, cfg Config, opts ...Option) (*Connection, *events.Bus) {
	t.Helper()
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)
	c, err := New(cfg, s, bus, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, bus
}

// waitFor reads ch until match accepts an event.
func waitFor[T events.Context](t *testing.T, ch <-chan events.Context, match func(T) bool) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if v, ok := ev.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
