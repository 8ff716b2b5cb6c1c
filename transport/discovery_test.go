package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voxcore/events"
)

func TestDiscoveryRequestLayout(t *testing.T) {
	buf := EncodeDiscoveryRequest(0xdeadbeef)
	require.Len(t, buf, DiscoverySize)
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(buf[0:2]))
	assert.Equal(t, uint16(70), binary.BigEndian.Uint16(buf[2:4]))
	assert.Equal(t, uint32(0xdeadbeef), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, make([]byte, 66), buf[8:])
}

func TestDecodeDiscoveryResponse(t *testing.T) {
	want := Address{IP: "203.0.113.7", Port: 50004}
	good := EncodeDiscoveryResponse(42, want)

	wrongType := append([]byte(nil), good...)
	wrongType[1] = 0x1
	badAddr := EncodeDiscoveryResponse(42, Address{IP: "not-an-ip", Port: 1})

	tests := []struct {
		name    string
		buf     []byte
		ssrc    uint32
		wantErr bool
	}{
		{"valid", good, 42, false},
		{"short", good[:20], 42, true},
		{"request type", wrongType, 42, true},
		{"other ssrc", good, 43, true},
		{"bad address", badAddr, 42, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := DecodeDiscoveryResponse(tt.buf, tt.ssrc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedDiscovery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, addr)
			assert.Equal(t, "203.0.113.7:50004", addr.String())
		})
	}
}

// fakeVoiceServer answers discovery probes, ignoring the first skip of them.
func fakeVoiceServer(t *testing.T, skip int, external Address) net.PacketConn {
	t.Helper()
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	go func() {
		buf := make([]byte, 1500)
		seen := 0
		for {
			n, from, err := server.ReadFrom(buf)
			if err != nil {
				return
			}
			if n != DiscoverySize || binary.BigEndian.Uint16(buf[0:2]) != 1 {
				continue
			}
			seen++
			if seen <= skip {
				continue
			}
			ssrc := binary.BigEndian.Uint32(buf[4:8])
			_, _ = server.WriteTo(EncodeDiscoveryResponse(ssrc, external), from)
		}
	}()
	return server
}

func dialTest(t *testing.T, server net.PacketConn, cfg Config) (*Transport, *events.Bus) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	tr, err := Dial(context.Background(), server.LocalAddr().String(), cfg, bus)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, bus
}

func TestDiscover(t *testing.T) {
	external := Address{IP: "198.51.100.20", Port: 61000}
	server := fakeVoiceServer(t, 0, external)
	tr, _ := dialTest(t, server, DefaultConfig())

	addr, err := tr.Discover(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, external, addr)
}

func TestDiscoverRetries(t *testing.T) {
	external := Address{IP: "198.51.100.20", Port: 61000}
	server := fakeVoiceServer(t, 2, external)
	cfg := DefaultConfig()
	cfg.DiscoveryInterval = 50 * time.Millisecond
	tr, _ := dialTest(t, server, cfg)

	addr, err := tr.Discover(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, external, addr)
}

func TestDiscoverGivesUp(t *testing.T) {
	server := fakeVoiceServer(t, 100, Address{})
	cfg := DefaultConfig()
	cfg.DiscoveryAttempts = 2
	cfg.DiscoveryInterval = 20 * time.Millisecond
	tr, _ := dialTest(t, server, cfg)

	_, err := tr.Discover(context.Background(), 7)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

func TestDiscoverHonoursContext(t *testing.T) {
	server := fakeVoiceServer(t, 100, Address{})
	tr, _ := dialTest(t, server, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := tr.Discover(ctx, 7)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
