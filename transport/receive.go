package transport

import (
	"encoding/binary"
	"sync"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/rtp"
)

// VoicePacket is published for every authenticated inbound voice packet.
type VoicePacket struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	// Payload is the decrypted Opus packet with extensions removed.
	Payload []byte
	// Lost is the number of packets missing just before this one.
	Lost int
	// Audio holds decoded PCM when decoding is enabled.
	Audio      []int16
	Stereo     bool
	SampleRate int
}

// Kind implements events.Context.
func (VoicePacket) Kind() events.Kind { return events.KindVoicePacket }

// ControlPacket is published for every authenticated inbound RTCP datagram.
type ControlPacket struct {
	Packets []rtcp.Packet
}

// Kind implements events.Context.
func (ControlPacket) Kind() events.Kind { return events.KindControlPacket }

type decoderSet struct {
	mu       sync.Mutex
	decoders map[uint32]*codec.OpusDecoder
}

func newDecoderSet() *decoderSet {
	return &decoderSet{decoders: make(map[uint32]*codec.OpusDecoder)}
}

func (s *decoderSet) get(ssrc uint32) *codec.OpusDecoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decoders[ssrc]
	if !ok {
		d = codec.NewOpusDecoder()
		s.decoders[ssrc] = d
	}
	return d
}

func (s *decoderSet) forget(ssrc uint32) {
	s.mu.Lock()
	delete(s.decoders, ssrc)
	s.mu.Unlock()
}

func (t *Transport) handlePacket(packet []byte) {
	switch rtp.Classify(packet) {
	case rtp.KindMedia:
		t.handleMedia(packet)
	case rtp.KindControl:
		t.handleControl(packet)
	default:
		t.metrics.PacketReceived(rtp.KindUnknown.String())
		logrus.WithFields(logrus.Fields{
			"function": "Transport.handlePacket",
			"size":     len(packet),
		}).Debug("Dropping unrecognised datagram")
	}
}

func (t *Transport) handleMedia(packet []byte) {
	cipher := t.cipher.Load()
	if cipher == nil {
		return
	}
	h, err := rtp.ParseMediaHeader(packet)
	if err != nil {
		t.malformed(err)
		return
	}
	payload, err := cipher.Open(nil, packet, h.Len)
	if err != nil {
		t.decryptFailed(err)
		return
	}
	payload, err = rtp.TrimPayload(h, payload)
	if err != nil {
		t.malformed(err)
		return
	}
	if !t.replay.Accept(h.SSRC, h.SequenceNumber) {
		t.metrics.PacketDropped("replay")
		return
	}

	lost := t.tracker.Observe(h.SSRC, h.SequenceNumber)
	t.metrics.PacketReceived(rtp.KindMedia.String())
	if !t.bus.HasSubscribers(events.KindVoicePacket) {
		return
	}

	ev := VoicePacket{
		SSRC:      h.SSRC,
		Sequence:  h.SequenceNumber,
		Timestamp: h.Timestamp,
		Payload:   payload,
		Lost:      lost,
	}
	if t.cfg.DecodeVoice && len(payload) > 0 {
		pcm, stereo, rate, err := t.decoders.get(h.SSRC).Decode(payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Transport.handleMedia",
				"ssrc":     h.SSRC,
				"error":    err.Error(),
			}).Debug("Failed to decode inbound voice")
		} else {
			ev.Audio, ev.Stereo, ev.SampleRate = pcm, stereo, rate
		}
	}
	t.bus.Publish(ev)
}

func (t *Transport) handleControl(packet []byte) {
	cipher := t.cipher.Load()
	if cipher == nil {
		return
	}
	plain := make([]byte, rtp.ControlHeaderSize, len(packet))
	copy(plain, packet[:rtp.ControlHeaderSize])
	plain, err := cipher.Open(plain, packet, rtp.ControlHeaderSize)
	if err != nil {
		t.decryptFailed(err)
		return
	}

	// The length field counts the sealed datagram; shrink it to the
	// plaintext when it no longer fits.
	declared := (int(binary.BigEndian.Uint16(plain[2:4])) + 1) * 4
	if declared > len(plain) && len(plain)%4 == 0 {
		binary.BigEndian.PutUint16(plain[2:4], uint16(len(plain)/4-1))
	}

	packets, err := rtcp.Unmarshal(plain)
	if err != nil {
		t.malformed(err)
		return
	}
	t.metrics.PacketReceived(rtp.KindControl.String())
	t.bus.Publish(ControlPacket{Packets: packets})
}

func (t *Transport) decryptFailed(err error) {
	t.metrics.DecryptFailure()
	logrus.WithFields(logrus.Fields{
		"function": "Transport.decryptFailed",
		"error":    err.Error(),
	}).Debug("Dropping packet that failed authentication")
	if fn := t.onDecryptFailure.Load(); fn != nil {
		(*fn)(err)
	}
}

func (t *Transport) malformed(err error) {
	t.metrics.PacketDropped("malformed")
	logrus.WithFields(logrus.Fields{
		"function": "Transport.malformed",
		"error":    err.Error(),
	}).Debug("Dropping malformed packet")
}
