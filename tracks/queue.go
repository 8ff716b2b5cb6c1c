package tracks

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/events"
)

// Queue plays tracks one after another. The head of the queue is the
// only track playing; the rest wait paused. When the head ends or fails,
// the next track that can still be played starts.
//
// Tracks should be created paused and handed to the mixer before Add.
type Queue struct {
	mu     sync.Mutex
	tracks []*Handle
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends h, starting it if the queue was empty.
func (q *Queue) Add(h *Handle) error {
	advance := func(ctx events.Context) events.Action {
		ev, ok := ctx.(Event)
		if ok {
			q.finished(ev.ID)
		}
		return events.Remove
	}
	if err := h.AddEvent(events.Track(events.KindTrackEnd), advance); err != nil {
		return err
	}
	if err := h.AddEvent(events.Track(events.KindTrackError), advance); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, h)
	if len(q.tracks) == 1 {
		return q.startHead()
	}
	return nil
}

// finished drops the ended track and starts the next playable one.
func (q *Queue) finished(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 || q.tracks[0].ID() != id {
		q.removeLocked(id)
		return
	}
	q.tracks[0] = nil
	q.tracks = q.tracks[1:]
	if err := q.startHead(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Queue.finished",
			"error":    err.Error(),
		}).Warn("Failed to start next queued track")
	}
}

// startHead plays the head, discarding tracks that already ended.
func (q *Queue) startHead() error {
	for len(q.tracks) > 0 {
		err := q.tracks[0].Play()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTrackEnded) {
			return err
		}
		q.tracks = q.tracks[1:]
	}
	return nil
}

func (q *Queue) removeLocked(id uuid.UUID) *Handle {
	for i, h := range q.tracks {
		if h.ID() == id {
			q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
			return h
		}
	}
	return nil
}

// Current returns the playing track, or nil when empty.
func (q *Queue) Current() *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	return q.tracks[0]
}

// Dequeue removes and returns the track at index, or nil if out of range.
// Removing the head does not stop it; use Skip for that.
func (q *Queue) Dequeue(index int) *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.tracks) {
		return nil
	}
	h := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	return h
}

// Len returns the number of queued tracks, including the playing one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool { return q.Len() == 0 }

// Modify edits the queue under its lock. fn must not call other Queue
// methods. The head is not restarted if fn reorders it; call Resume.
func (q *Queue) Modify(fn func([]*Handle) []*Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = fn(q.tracks)
}

// Pause pauses the current track.
func (q *Queue) Pause() error {
	if h := q.Current(); h != nil {
		return h.Pause()
	}
	return nil
}

// Resume plays the current track.
func (q *Queue) Resume() error {
	if h := q.Current(); h != nil {
		return h.Play()
	}
	return nil
}

// Skip stops the current track; its end event starts the next one.
func (q *Queue) Skip() error {
	if h := q.Current(); h != nil {
		return h.Stop()
	}
	return nil
}

// Stop stops every queued track and empties the queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	tracks := q.tracks
	q.tracks = nil
	q.mu.Unlock()

	for _, h := range tracks {
		_ = h.Stop()
	}
}

// Snapshot returns a copy of the queued handles in play order.
func (q *Queue) Snapshot() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Handle(nil), q.tracks...)
}
