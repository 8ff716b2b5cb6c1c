package mixer

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/audio/codec"
	"github.com/opd-ai/voxcore/events"
)

// Cycle runs one mixer tick without waiting for its deadline. Run calls
// it on schedule; tests and benchmarks call it directly.
func (m *Mixer) Cycle() CycleResult {
	began := m.clock.Now()
	m.cycle++

	m.applyControl()
	m.adopt()

	m.mix.Reset()
	for _, t := range m.order {
		t.ProcessCommands()
	}
	for _, t := range m.order {
		t.Mix(&m.mix, m.scratch)
	}
	active := m.mix.Tracks()
	m.reap()

	res := CycleResult{Active: active}
	audible := active > 0 && !m.muted
	m.setSpeaking(audible)

	box := m.sink.Load()
	switch {
	case audible:
		m.silenceLeft = TrailingSilenceFrames
		res.Payload = m.encode()
	case m.cfg.Silence == SilenceFill:
		res.Payload = codec.SilenceFrame
	case m.silenceLeft > 0:
		m.silenceLeft--
		res.Payload = codec.SilenceFrame
	}

	if box != nil {
		if res.Payload != nil {
			if err := box.sink.Send(res.Payload); err != nil {
				m.sendFailed(err)
			} else {
				res.Sent = true
			}
		} else {
			box.sink.Skip()
		}
	}

	for _, t := range m.order {
		t.Publish()
	}
	m.count.Store(int32(len(m.order)))
	m.metrics.ObserveTick(m.clock.Since(began), len(m.order))

	if m.bus.HasSubscribers(events.KindTick) {
		m.bus.Publish(events.Tick{Cycle: m.cycle, At: began, Active: active})
	}
	return res
}

func (m *Mixer) applyControl() {
	pending := len(m.control)
	for i := 0; i < pending; i++ {
		c := <-m.control
		switch c.kind {
		case ctlMute:
			m.muted = c.mute
		case ctlBitrate:
			if err := m.encoder.SetBitrate(c.bitrate); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Mixer.applyControl",
					"bitrate":  c.bitrate,
					"error":    err.Error(),
				}).Warn("Rejected bitrate change")
			}
		case ctlStopAll:
			for _, t := range m.order {
				if err := t.Handle().Stop(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Mixer.applyControl",
						"track_id": t.ID().String(),
						"error":    err.Error(),
					}).Warn("Failed to queue stop, stopping track directly")
					t.Stop()
				}
			}
		}
	}
}

func (m *Mixer) adopt() {
	pending := len(m.adds)
	for i := 0; i < pending; i++ {
		t := <-m.adds
		if _, dup := m.arena[t.ID()]; dup {
			continue
		}
		t.Attach(m.bus)
		m.arena[t.ID()] = t
		m.order = append(m.order, t)
	}
}

// reap removes tracks that reached a terminal mode, publishing their final
// state first.
func (m *Mixer) reap() {
	kept := m.order[:0]
	for _, t := range m.order {
		if !t.Done() {
			kept = append(kept, t)
			continue
		}
		t.Publish()
		delete(m.arena, t.ID())
		if err := t.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.reap",
				"track_id": t.ID().String(),
				"error":    err.Error(),
			}).Debug("Closing finished track failed")
		}
	}
	for i := len(kept); i < len(m.order); i++ {
		m.order[i] = nil
	}
	m.order = kept
}

// encode renders the mix and encodes it, falling back to silence so a bad
// frame never stalls the stream.
func (m *Mixer) encode() []byte {
	m.mix.Render(m.mixed)
	n, err := m.encoder.Encode(m.mixed, m.packet)
	if err != nil || n == 0 {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.encode",
				"error":    err.Error(),
			}).Warn("Encoding failed, sending silence")
		}
		return codec.SilenceFrame
	}
	return m.packet[:n]
}

func (m *Mixer) setSpeaking(on bool) {
	if on == m.speaking {
		return
	}
	m.speaking = on
	m.bus.Publish(events.Speaking{Speaking: on})
}

func (m *Mixer) sendFailed(err error) {
	if fn := m.onError.Load(); fn != nil {
		(*fn)(err)
	}
}
