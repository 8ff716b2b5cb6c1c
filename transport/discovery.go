package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Discovery packet layout.
const (
	DiscoverySize     = 74
	discoveryRequest  = 0x1
	discoveryResponse = 0x2
	discoveryLength   = 70
	addressLen        = 64
)

// Address is an IP and port as reported by discovery.
type Address struct {
	IP   string
	Port uint16
}

func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// EncodeDiscoveryRequest builds the probe sent to the voice server.
func EncodeDiscoveryRequest(ssrc uint32) []byte {
	return encodeDiscovery(discoveryRequest, ssrc, Address{})
}

// EncodeDiscoveryResponse builds the server's answer. Voice servers send
// this; it is exported for test servers.
func EncodeDiscoveryResponse(ssrc uint32, addr Address) []byte {
	return encodeDiscovery(discoveryResponse, ssrc, addr)
}

func encodeDiscovery(kind uint16, ssrc uint32, addr Address) []byte {
	buf := make([]byte, DiscoverySize)
	binary.BigEndian.PutUint16(buf[0:2], kind)
	binary.BigEndian.PutUint16(buf[2:4], discoveryLength)
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	copy(buf[8:8+addressLen-1], addr.IP)
	binary.BigEndian.PutUint16(buf[8+addressLen:], addr.Port)
	return buf
}

// DecodeDiscoveryResponse parses a response and checks it answers ssrc.
func DecodeDiscoveryResponse(buf []byte, ssrc uint32) (Address, error) {
	if len(buf) < DiscoverySize {
		return Address{}, fmt.Errorf("%w: %d bytes", ErrMalformedDiscovery, len(buf))
	}
	if kind := binary.BigEndian.Uint16(buf[0:2]); kind != discoveryResponse {
		return Address{}, fmt.Errorf("%w: type %#x", ErrMalformedDiscovery, kind)
	}
	if got := binary.BigEndian.Uint32(buf[4:8]); got != ssrc {
		return Address{}, fmt.Errorf("%w: ssrc %d, want %d", ErrMalformedDiscovery, got, ssrc)
	}

	raw := buf[8 : 8+addressLen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	ip := net.ParseIP(string(raw))
	if ip == nil {
		return Address{}, fmt.Errorf("%w: bad address %q", ErrMalformedDiscovery, raw)
	}
	return Address{
		IP:   ip.String(),
		Port: binary.BigEndian.Uint16(buf[8+addressLen:]),
	}, nil
}

// Discover sends discovery probes for ssrc until a matching response
// arrives, the attempts run out or ctx ends. It must run before Start.
func (t *Transport) Discover(ctx context.Context, ssrc uint32) (Address, error) {
	if t.started.Load() {
		return Address{}, ErrAlreadyStarted
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Transport.Discover",
		"remote":   t.conn.RemoteAddr().String(),
		"ssrc":     ssrc,
	})
	logger.Debug("Starting IP discovery")

	probe := EncodeDiscoveryRequest(ssrc)
	buf := make([]byte, 2*DiscoverySize)
	defer t.conn.SetReadDeadline(time.Time{})

	for attempt := 1; attempt <= t.cfg.DiscoveryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Address{}, err
		}
		if _, err := t.conn.Write(probe); err != nil {
			return Address{}, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
		}

		deadline := time.Now().Add(t.cfg.DiscoveryInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = t.conn.SetReadDeadline(deadline)

		addr, err := t.awaitDiscovery(buf, ssrc, deadline)
		if err == nil {
			logger.WithFields(logrus.Fields{
				"attempt":  attempt,
				"external": addr.String(),
			}).Info("IP discovery complete")
			return addr, nil
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Debug("Discovery attempt failed")
	}

	if err := ctx.Err(); err != nil {
		return Address{}, err
	}
	return Address{}, fmt.Errorf("%w after %d attempts", ErrDiscoveryFailed, t.cfg.DiscoveryAttempts)
}

// awaitDiscovery reads until a valid response or the deadline. Stray
// datagrams are skipped.
func (t *Transport) awaitDiscovery(buf []byte, ssrc uint32, deadline time.Time) (Address, error) {
	for time.Now().Before(deadline) {
		n, err := t.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Address{}, err
			}
			return Address{}, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
		}
		addr, err := DecodeDiscoveryResponse(buf[:n], ssrc)
		if err == nil {
			return addr, nil
		}
	}
	return Address{}, ErrDiscoveryFailed
}
