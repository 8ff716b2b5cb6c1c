package audio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource blocks every read until the test releases it.
type gatedSource struct {
	gate   chan struct{}
	inner  *BufferSource
	closed atomic.Bool
}

func (g *gatedSource) ReadFrame(dst Frame) (int, error) {
	<-g.gate
	return g.inner.ReadFrame(dst)
}

func (g *gatedSource) Seek(pos time.Duration) error { return g.inner.Seek(pos) }

func (g *gatedSource) Close() error {
	g.closed.Store(true)
	return nil
}

func readEventually(t *testing.T, p *Prefetcher, dst Frame) (int, error) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := p.ReadFrame(dst)
		if !errors.Is(err, ErrNotReady) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("prefetcher never became ready")
	return 0, nil
}

func TestPrefetcherNotReadyUntilDecoded(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), inner: NewBufferSource(ramp(FrameSamples * 2))}
	p := NewPrefetcher(src, 4)
	defer p.Close()

	_, err := p.ReadFrame(NewFrame())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, Preparing, p.Ready())

	close(src.gate)
	frame := NewFrame()
	n, err := readEventually(t, p, frame)
	require.NoError(t, err)
	assert.Equal(t, FrameSamples, n)

	_, err = readEventually(t, p, frame)
	require.NoError(t, err)
	_, err = readEventually(t, p, frame)
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = p.ReadFrame(frame)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestPrefetcherSeekDiscardsBufferedFrames(t *testing.T) {
	samples := ramp(FrameSamples * 10)
	gate := make(chan struct{})
	close(gate)
	src := &gatedSource{gate: gate, inner: NewBufferSource(samples)}
	p := NewPrefetcher(src, 3)

	frame := NewFrame()
	_, err := readEventually(t, p, frame)
	require.NoError(t, err)

	require.NoError(t, p.Seek(8*FrameDuration))
	_, err = readEventually(t, p, frame)
	require.NoError(t, err)
	assert.Equal(t, samples[8*FrameSamples], frame[0])

	require.NoError(t, p.Close())
	assert.True(t, src.closed.Load())
}

func TestPrefetcherSeekUnsupported(t *testing.T) {
	p := NewPrefetcher(Constant(1), 2)
	defer p.Close()
	assert.False(t, p.CanSeek())
	assert.ErrorIs(t, p.Seek(time.Second), ErrSeekUnsupported)
}
