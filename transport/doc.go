// Package transport owns the UDP side of a voice session.
//
// A Transport is created per media socket. Before it is started it can run
// IP discovery, which learns the external address the voice server sees.
// Once started with a negotiated cipher and RTP counters it:
//
//   - implements the mixer's sink: each frame is given an RTP header,
//     sealed and queued for a writer goroutine, without blocking
//   - sends 8 byte keepalives on request
//   - reads inbound datagrams, authenticates them and demultiplexes voice
//     (RTP) from control (RTCP) traffic onto the event bus
//
// Wire format of the discovery exchange (big endian):
//
//	type    uint16  1 = request, 2 = response
//	length  uint16  always 70
//	ssrc    uint32
//	address [64]byte, NUL terminated
//	port    uint16
//
// Packets that fail authentication are dropped before any receive state is
// touched and reported through OnDecryptFailure.
package transport
