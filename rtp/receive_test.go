package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveTracker(t *testing.T) {
	tracker := NewReceiveTracker()

	assert.Equal(t, 0, tracker.Observe(7, 65534))
	assert.Equal(t, 0, tracker.Observe(7, 65535))
	assert.Equal(t, 2, tracker.Observe(7, 2))
	assert.Equal(t, 0, tracker.Observe(7, 1), "late packet")
	assert.Equal(t, 0, tracker.Observe(7, 2), "duplicate")

	stats, ok := tracker.Stats(7)
	require.True(t, ok)
	assert.Equal(t, uint16(2), stats.LastSequence)
	assert.Equal(t, uint64(5), stats.Received)
	assert.Equal(t, uint64(2), stats.Lost)
	assert.Equal(t, uint64(2), stats.Late)

	tracker.Forget(7)
	_, ok = tracker.Stats(7)
	assert.False(t, ok)
}

func TestReceiveTrackerIndependentStreams(t *testing.T) {
	tracker := NewReceiveTracker()
	tracker.Observe(1, 100)
	tracker.Observe(2, 500)
	assert.Equal(t, 0, tracker.Observe(1, 101))
	assert.Equal(t, 0, tracker.Observe(2, 501))

	tracker.Reset()
	_, ok := tracker.Stats(1)
	assert.False(t, ok)
}
