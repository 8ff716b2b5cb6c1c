package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMixClipsInsteadOfWrapping(t *testing.T) {
	tests := []struct {
		name   string
		value  int16
		volume float32
		want   int16
	}{
		{"Within range", 1000, 1.0, 2000},
		{"Positive overflow", 20000, 1.0, math.MaxInt16},
		{"Negative overflow", -20000, 1.0, math.MinInt16},
		{"Half volume", 20000, 0.5, 20000},
		{"Muted", 20000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Mix
			frame := NewFrame()
			_, _ = Constant(tt.value).ReadFrame(frame)

			m.Add(frame, len(frame), tt.volume)
			m.Add(frame, len(frame), tt.volume)
			out := NewFrame()
			m.Render(out)

			assert.Equal(t, 2, m.Tracks())
			for _, s := range out {
				if s != tt.want {
					t.Fatalf("sample = %d, want %d", s, tt.want)
				}
			}
		})
	}
}

func TestMixPartialFrame(t *testing.T) {
	var m Mix
	frame := NewFrame()
	_, _ = Constant(100).ReadFrame(frame)
	m.Add(frame, 10, 1)

	out := NewFrame()
	m.Render(out)
	assert.Equal(t, int16(100), out[9])
	assert.Equal(t, int16(0), out[10])

	m.Reset()
	m.Render(out)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, 0, m.Tracks())
}

func TestClip(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), Clip(1e9))
	assert.Equal(t, int16(math.MinInt16), Clip(-1e9))
	assert.Equal(t, int16(-5), Clip(-5.2))
}
