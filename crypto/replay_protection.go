package crypto

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ReplayWindowSize is how many sequence numbers behind the newest one
	// a stream remembers.
	ReplayWindowSize = 64

	// replayRestart is how far behind the window a packet may land before
	// it is taken as the sender restarting its sequence.
	replayRestart = 1024
)

// ReplayFilter rejects authenticated packets that were already accepted.
//
// Each remote SSRC keeps a sliding bitmap of the last ReplayWindowSize
// sequence numbers. A packet is accepted once; duplicates and packets too
// old for the window are refused. A packet far behind the window resets
// the stream, since that is what a sender restarting looks like.
//
// Example usage:
//
//	f := crypto.NewReplayFilter(nil)
//	if !f.Accept(ssrc, seq) {
//	    // replayed, drop it
//	}
//
// The filter is safe for concurrent use.
type ReplayFilter struct {
	mu           sync.Mutex
	streams      map[uint32]*replayWindow
	timeProvider TimeProvider
}

type replayWindow struct {
	top  uint16
	bits uint64
	seen time.Time
}

// NewReplayFilter creates an empty filter. Pass nil for timeProvider to use
// the wall clock.
func NewReplayFilter(timeProvider TimeProvider) *ReplayFilter {
	return &ReplayFilter{
		streams:      make(map[uint32]*replayWindow),
		timeProvider: OrDefault(timeProvider),
	}
}

// Accept reports whether seq is new for ssrc and records it if so.
func (f *ReplayFilter) Accept(ssrc uint32, seq uint16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.timeProvider.Now()
	w, ok := f.streams[ssrc]
	if !ok {
		f.streams[ssrc] = &replayWindow{top: seq, bits: 1, seen: now}
		return true
	}
	w.seen = now

	ahead := seq - w.top
	if ahead != 0 && ahead < 0x8000 {
		if ahead >= ReplayWindowSize {
			w.bits = 1
		} else {
			w.bits = w.bits<<ahead | 1
		}
		w.top = seq
		return true
	}

	behind := w.top - seq
	switch {
	case behind >= replayRestart:
		*w = replayWindow{top: seq, bits: 1, seen: now}
		logrus.WithFields(logrus.Fields{
			"function": "ReplayFilter.Accept",
			"ssrc":     ssrc,
			"sequence": seq,
		}).Debug("Inbound stream restarted its sequence")
		return true
	case behind >= ReplayWindowSize:
		return false
	}

	mask := uint64(1) << behind
	if w.bits&mask != 0 {
		logrus.WithFields(logrus.Fields{
			"function": "ReplayFilter.Accept",
			"ssrc":     ssrc,
			"sequence": seq,
		}).Debug("Replayed packet rejected")
		return false
	}
	w.bits |= mask
	return true
}

// Forget drops the window for ssrc.
func (f *ReplayFilter) Forget(ssrc uint32) {
	f.mu.Lock()
	delete(f.streams, ssrc)
	f.mu.Unlock()
}

// Prune drops streams not heard from for idle and returns how many went.
func (f *ReplayFilter) Prune(idle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.timeProvider.Now()
	removed := 0
	for ssrc, w := range f.streams {
		if now.Sub(w.seen) > idle {
			delete(f.streams, ssrc)
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "ReplayFilter.Prune",
			"removed":   removed,
			"remaining": len(f.streams),
		}).Debug("Pruned idle replay windows")
	}
	return removed
}

// Size returns the number of tracked streams.
func (f *ReplayFilter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}
