package rtp

import (
	"encoding/binary"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketStateNext(t *testing.T) {
	state := NewPacketStateAt(0xdeadbeef, 65534, 0xffffff00)

	var sequences []uint16
	var timestamps []uint32
	for i := 0; i < 3; i++ {
		hdr, err := state.Next(nil, 960)
		require.NoError(t, err)
		require.Len(t, hdr, HeaderSize)

		var h rtp.Header
		_, err = h.Unmarshal(hdr)
		require.NoError(t, err)
		assert.Equal(t, uint8(Version), h.Version)
		assert.Equal(t, uint8(PayloadTypeOpus), h.PayloadType)
		assert.Equal(t, uint32(0xdeadbeef), h.SSRC)
		sequences = append(sequences, h.SequenceNumber)
		timestamps = append(timestamps, h.Timestamp)
	}

	assert.Equal(t, []uint16{65534, 65535, 0}, sequences)
	assert.Equal(t, []uint32{0xffffff00, 0x2c0, 0x680}, timestamps, "timestamp wraps")
}

func TestPacketStateSequenceLaw(t *testing.T) {
	state, err := NewPacketState(1)
	require.NoError(t, err)
	startSeq, startTS := state.Snapshot()

	const ticks = 70000
	for i := 0; i < ticks; i++ {
		_, err := state.Next(make([]byte, 0, HeaderSize), 960)
		require.NoError(t, err)
	}

	seq, ts := state.Snapshot()
	assert.Equal(t, uint16((uint32(startSeq)+ticks)%65536), seq)
	assert.Equal(t, startTS+uint32(ticks)*960, ts)
}

func TestPacketStateSkip(t *testing.T) {
	state := NewPacketStateAt(1, 10, 100)
	state.Skip(960)
	seq, ts := state.Snapshot()
	assert.Equal(t, uint16(10), seq)
	assert.Equal(t, uint32(1060), ts)
	assert.Equal(t, uint32(1), state.SSRC())
}

func TestClassify(t *testing.T) {
	media := make([]byte, 20)
	media[0], media[1] = 0x80, PayloadTypeOpus
	mediaMarker := append([]byte(nil), media...)
	mediaMarker[1] |= 0x80
	control := make([]byte, 20)
	control[0], control[1] = 0x81, 201
	discovery := make([]byte, 74)
	binary.BigEndian.PutUint16(discovery, 2)
	otherPT := append([]byte(nil), media...)
	otherPT[1] = 96

	tests := []struct {
		name   string
		packet []byte
		want   Kind
	}{
		{"Voice", media, KindMedia},
		{"Voice with marker", mediaMarker, KindMedia},
		{"Receiver report", control, KindControl},
		{"Discovery response", discovery, KindUnknown},
		{"Other payload type", otherPT, KindUnknown},
		{"Short", []byte{0x80}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.packet))
		})
	}
}

func TestParseMediaHeaderAndTrim(t *testing.T) {
	packet := []byte{0x90, PayloadTypeOpus, 0x00, 0x05, 0, 0, 0, 1, 0, 0, 0, 9, 0xaa}
	h, err := ParseMediaHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, h.Len)
	assert.True(t, h.Extension)
	assert.Equal(t, uint16(5), h.SequenceNumber)
	assert.Equal(t, uint32(9), h.SSRC)

	decrypted := []byte{0xbe, 0xde, 0x00, 0x01, 1, 2, 3, 4, 'o', 'p', 'u', 's'}
	payload, err := TrimPayload(h, decrypted)
	require.NoError(t, err)
	assert.Equal(t, []byte("opus"), payload)

	_, err = TrimPayload(h, []byte{0xbe, 0xde, 0x00, 0x04, 1})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestTrimPayloadPadding(t *testing.T) {
	h := MediaHeader{Header: rtp.Header{Padding: true}}
	payload, err := TrimPayload(h, []byte{'o', 'k', 0, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), payload)

	_, err = TrimPayload(h, []byte{9})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseMediaHeaderTruncated(t *testing.T) {
	_, err := ParseMediaHeader([]byte{0x82, PayloadTypeOpus, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
