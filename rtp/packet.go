// Package rtp builds and classifies voice RTP packets.
//
// Outbound headers are built with pion/rtp from a PacketState whose
// sequence number and timestamp start at random values for every fresh
// session. Inbound packets are sorted into media, control and unknown
// before any decryption is attempted.
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderSize is the fixed RTP header length without CSRCs.
	HeaderSize = 12
	// ControlHeaderSize is the plaintext prefix of an RTCP packet.
	ControlHeaderSize = 8
	// PayloadTypeOpus is the payload type voice servers expect for Opus.
	PayloadTypeOpus = 0x78
	// Version is the only RTP version accepted.
	Version = 2
)

// ErrMalformedHeader indicates a packet whose header cannot be parsed.
var ErrMalformedHeader = errors.New("malformed RTP header")

// PacketState holds the outbound sequence number, timestamp and SSRC of a
// session. Both counters wrap.
type PacketState struct {
	mu        sync.Mutex
	ssrc      uint32
	sequence  uint16
	timestamp uint32
}

// NewPacketState creates counters for ssrc starting at random values.
func NewPacketState(ssrc uint32) (*PacketState, error) {
	var seed [6]byte
	if _, err := rand.Read(seed[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPacketState",
			"error":    err.Error(),
		}).Error("Failed to seed RTP counters")
		return nil, fmt.Errorf("failed to seed RTP counters: %w", err)
	}

	state := NewPacketStateAt(ssrc, binary.BigEndian.Uint16(seed[:2]), binary.BigEndian.Uint32(seed[2:]))

	logrus.WithFields(logrus.Fields{
		"function":  "NewPacketState",
		"ssrc":      ssrc,
		"sequence":  state.sequence,
		"timestamp": state.timestamp,
	}).Debug("RTP counters initialised")

	return state, nil
}

// NewPacketStateAt creates counters with explicit starting values.
func NewPacketStateAt(ssrc uint32, sequence uint16, timestamp uint32) *PacketState {
	return &PacketState{ssrc: ssrc, sequence: sequence, timestamp: timestamp}
}

// SSRC returns the stream's synchronisation source.
func (s *PacketState) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// Snapshot returns the values the next packet will carry.
func (s *PacketState) Snapshot() (sequence uint16, timestamp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence, s.timestamp
}

// Next writes the header for the next packet into buf, advances the
// sequence by one and the timestamp by samples, and returns the header bytes.
func (s *PacketState) Next(buf []byte, samples uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := rtp.Header{
		Version:        Version,
		PayloadType:    PayloadTypeOpus,
		SequenceNumber: s.sequence,
		Timestamp:      s.timestamp,
		SSRC:           s.ssrc,
	}
	if cap(buf) < HeaderSize {
		buf = make([]byte, HeaderSize)
	}
	n, err := header.MarshalTo(buf[:HeaderSize])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP header: %w", err)
	}

	s.sequence++
	s.timestamp += samples
	return buf[:n], nil
}

// Skip advances the timestamp without consuming a sequence number, for ticks
// where nothing is sent.
func (s *PacketState) Skip(samples uint32) {
	s.mu.Lock()
	s.timestamp += samples
	s.mu.Unlock()
}

// Kind classifies an inbound datagram.
type Kind int

const (
	// KindUnknown packets are dropped.
	KindUnknown Kind = iota
	// KindMedia is an RTP voice packet.
	KindMedia
	// KindControl is an RTCP packet (payload types 200-204).
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Classify inspects the version bits and the second byte of packet.
func Classify(packet []byte) Kind {
	if len(packet) < ControlHeaderSize || packet[0]>>6 != Version {
		return KindUnknown
	}
	switch pt := packet[1]; {
	case pt >= 200 && pt <= 204:
		return KindControl
	case pt&0x7f == PayloadTypeOpus && len(packet) >= HeaderSize:
		return KindMedia
	default:
		return KindUnknown
	}
}

// MediaHeader is the plaintext part of an inbound voice packet.
type MediaHeader struct {
	rtp.Header
	// Len is the number of plaintext bytes preceding the encrypted body.
	Len int
}

// ParseMediaHeader parses the fixed header and CSRC list. The extension and
// padding, if flagged, live inside the encrypted body and are removed by
// TrimPayload after decryption.
func ParseMediaHeader(packet []byte) (MediaHeader, error) {
	if len(packet) < HeaderSize {
		return MediaHeader{}, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(packet))
	}
	csrcs := int(packet[0] & 0x0f)
	n := HeaderSize + 4*csrcs
	if len(packet) < n {
		return MediaHeader{}, fmt.Errorf("%w: truncated CSRC list", ErrMalformedHeader)
	}

	plain := make([]byte, n)
	copy(plain, packet[:n])
	padding := plain[0]&0x20 != 0
	extension := plain[0]&0x10 != 0
	plain[0] &^= 0x30 // padding and extension are resolved after decryption

	var h rtp.Header
	if _, err := h.Unmarshal(plain); err != nil {
		return MediaHeader{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	h.Padding = padding
	h.Extension = extension
	return MediaHeader{Header: h, Len: n}, nil
}

// TrimPayload removes the header extension block from the front and any
// padding from the back of a decrypted payload.
func TrimPayload(h MediaHeader, payload []byte) ([]byte, error) {
	if h.Padding {
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: padding on empty payload", ErrMalformedHeader)
		}
		pad := int(payload[len(payload)-1])
		if pad == 0 || pad > len(payload) {
			return nil, fmt.Errorf("%w: invalid padding length %d", ErrMalformedHeader, pad)
		}
		payload = payload[:len(payload)-pad]
	}
	if !h.Extension {
		return payload, nil
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: extension header truncated", ErrMalformedHeader)
	}
	words := int(binary.BigEndian.Uint16(payload[2:4]))
	end := 4 + 4*words
	if len(payload) < end {
		return nil, fmt.Errorf("%w: extension body truncated", ErrMalformedHeader)
	}
	return payload[end:], nil
}
