package rtp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// StreamStats describes what has been received from one SSRC.
type StreamStats struct {
	SSRC         uint32
	LastSequence uint16
	Received     uint64
	Lost         uint64
	Late         uint64
}

// ReceiveTracker follows sequence numbers per remote SSRC and counts gaps.
// Only packets that passed authentication may be observed.
type ReceiveTracker struct {
	mu      sync.RWMutex
	streams map[uint32]*StreamStats
}

// NewReceiveTracker creates an empty tracker.
func NewReceiveTracker() *ReceiveTracker {
	return &ReceiveTracker{streams: make(map[uint32]*StreamStats)}
}

// Observe records a packet and returns how many packets were skipped
// between it and the previous one. Late or duplicate packets return 0 and
// leave LastSequence unchanged.
func (t *ReceiveTracker) Observe(ssrc uint32, sequence uint16) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	stream, ok := t.streams[ssrc]
	if !ok {
		t.streams[ssrc] = &StreamStats{SSRC: ssrc, LastSequence: sequence, Received: 1}
		logrus.WithFields(logrus.Fields{
			"function": "ReceiveTracker.Observe",
			"ssrc":     ssrc,
			"sequence": sequence,
		}).Debug("New inbound stream")
		return 0
	}

	stream.Received++
	delta := sequence - stream.LastSequence
	if delta == 0 || delta >= 0x8000 {
		stream.Late++
		return 0
	}

	gap := int(delta) - 1
	if gap > 0 {
		stream.Lost += uint64(gap)
		logrus.WithFields(logrus.Fields{
			"function":          "ReceiveTracker.Observe",
			"ssrc":              ssrc,
			"expected_sequence": stream.LastSequence + 1,
			"received_sequence": sequence,
		}).Debug("Sequence gap detected in inbound stream")
	}
	stream.LastSequence = sequence
	return gap
}

// Stats returns a copy of the counters for ssrc.
func (t *ReceiveTracker) Stats(ssrc uint32) (StreamStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stream, ok := t.streams[ssrc]
	if !ok {
		return StreamStats{}, false
	}
	return *stream, true
}

// Forget drops state for ssrc, e.g. after the remote user disconnects.
func (t *ReceiveTracker) Forget(ssrc uint32) {
	t.mu.Lock()
	delete(t.streams, ssrc)
	t.mu.Unlock()
}

// Reset drops state for every stream.
func (t *ReceiveTracker) Reset() {
	t.mu.Lock()
	t.streams = make(map[uint32]*StreamStats)
	t.mu.Unlock()
}
