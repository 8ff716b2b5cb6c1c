package mixer

import (
	"fmt"
	"testing"

	"github.com/opd-ai/voxcore/audio"
	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/tracks"
)

type discardSink struct{}

func (discardSink) Send([]byte) error { return nil }
func (discardSink) Skip()             {}

func BenchmarkCycle(b *testing.B) {
	for _, n := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("tracks=%d", n), func(b *testing.B) {
			bus := events.NewBus(1024)
			defer bus.Close()
			m, err := New(Config{AddQueue: n}, codec.NewPCMEncoder(), bus)
			if err != nil {
				b.Fatal(err)
			}
			m.SetSink(discardSink{})
			for i := 0; i < n; i++ {
				tr, _, err := tracks.New(audio.NewSine(440+float64(i), 0.1), tracks.DefaultOptions())
				if err != nil {
					b.Fatal(err)
				}
				if err := m.Add(tr); err != nil {
					b.Fatal(err)
				}
			}
			m.Cycle()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				m.Cycle()
			}
		})
	}
}

// BenchmarkCull measures adopting tracks that end on their first cycle and
// reaping them again.
func BenchmarkCull(b *testing.B) {
	for _, n := range []int{1, 16, 64} {
		b.Run(fmt.Sprintf("tracks=%d", n), func(b *testing.B) {
			bus := events.NewBus(1024)
			defer bus.Close()
			m, err := New(Config{AddQueue: n}, codec.NewPCMEncoder(), bus)
			if err != nil {
				b.Fatal(err)
			}
			m.SetSink(discardSink{})
			batch := make([]*tracks.Track, n)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for j := range batch {
					if batch[j], _, err = tracks.New(audio.NewBufferSource(nil), tracks.DefaultOptions()); err != nil {
						b.Fatal(err)
					}
				}
				b.StartTimer()

				for _, tr := range batch {
					if err := m.Add(tr); err != nil {
						b.Fatal(err)
					}
				}
				for m.Cycle(); m.TrackCount() > 0; m.Cycle() {
				}
			}
		})
	}
}
