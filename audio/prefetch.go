package audio

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPrefetchDepth buffers one second of audio.
const DefaultPrefetchDepth = 50

type prefetched struct {
	frame Frame
	n     int
	err   error
	gen   uint64
}

type seekRequest struct {
	pos time.Duration
	gen uint64
}

// Prefetcher decodes a possibly blocking Source on its own goroutine and
// serves frames to the mixer without blocking. While the buffer is empty
// ReadFrame returns ErrNotReady.
type Prefetcher struct {
	src    Source
	frames chan prefetched
	seeks  chan seekRequest

	gen   atomic.Uint64
	ready atomic.Int32
	ended bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewPrefetcher starts buffering up to depth frames from src.
func NewPrefetcher(src Source, depth int) *Prefetcher {
	if depth <= 0 {
		depth = DefaultPrefetchDepth
	}
	p := &Prefetcher{
		src:    src,
		frames: make(chan prefetched, depth),
		seeks:  make(chan seekRequest, 1),
		done:   make(chan struct{}),
	}
	p.ready.Store(int32(Preparing))
	go p.run()
	return p
}

// ReadFrame implements Source.
func (p *Prefetcher) ReadFrame(dst Frame) (int, error) {
	if p.ended {
		return 0, ErrExhausted
	}
	for {
		select {
		case f := <-p.frames:
			if f.gen != p.gen.Load() {
				continue
			}
			if f.err != nil {
				if f.err == ErrExhausted {
					p.ended = true
				}
				return 0, f.err
			}
			return copy(dst, f.frame[:f.n]), nil
		default:
			p.ready.Store(int32(Preparing))
			return 0, ErrNotReady
		}
	}
}

// Ready implements Readier.
func (p *Prefetcher) Ready() ReadyState {
	if len(p.frames) > 0 {
		return Playable
	}
	return ReadyState(p.ready.Load())
}

// CanSeek reports whether the wrapped source can seek.
func (p *Prefetcher) CanSeek() bool { return IsSeekable(p.src) }

// Seek discards buffered audio and asks the decoder goroutine to reposition.
// Failures surface as an error from a later ReadFrame.
func (p *Prefetcher) Seek(pos time.Duration) error {
	if !p.CanSeek() {
		return ErrSeekUnsupported
	}
	req := seekRequest{pos: pos, gen: p.gen.Add(1)}
	p.ended = false
	p.ready.Store(int32(Preparing))

	select {
	case <-p.seeks:
	default:
	}
	p.seeks <- req
	return nil
}

// Close stops the decoder goroutine and closes the wrapped source.
func (p *Prefetcher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if c, ok := p.src.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (p *Prefetcher) run() {
	var gen uint64
	stopped := false

	for {
		if stopped {
			select {
			case req := <-p.seeks:
				gen, stopped = p.seek(req)
				continue
			case <-p.done:
				return
			}
		}

		frame := NewFrame()
		n, err := p.src.ReadFrame(frame)
		if err == ErrNotReady {
			time.Sleep(FrameDuration / 4)
			continue
		}
		item := prefetched{frame: frame, n: n, err: err, gen: gen}
		if err != nil {
			stopped = true
			if err != ErrExhausted {
				logrus.WithFields(logrus.Fields{
					"function": "Prefetcher.run",
					"error":    err.Error(),
				}).Warn("Prefetched source failed")
			}
		}

		select {
		case p.frames <- item:
			if err == nil {
				p.ready.Store(int32(Playable))
			}
		case req := <-p.seeks:
			gen, stopped = p.seek(req)
		case <-p.done:
			return
		}
	}
}

// seek runs on the decoder goroutine. A failed seek is reported as a frame
// error and stops decoding until the next seek.
func (p *Prefetcher) seek(req seekRequest) (uint64, bool) {
	err := p.src.(Seeker).Seek(req.pos)
	if err == nil {
		return req.gen, false
	}
	select {
	case p.frames <- prefetched{err: err, gen: req.gen}:
	case <-p.done:
	}
	return req.gen, true
}
