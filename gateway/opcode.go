// Package gateway speaks the voice signalling protocol (version 4).
//
// Every message is a JSON object with an opcode and a data field:
//
//	{"op": 0, "d": {...}}
//
// The connection package drives the exchange; this package only knows
// the message shapes, how to carry them over a websocket and how to read
// the server's close codes.
package gateway

import "fmt"

// Version is the protocol version requested when dialling.
const Version = 4

// Opcode identifies a signalling message.
type Opcode int

const (
	OpIdentify           Opcode = 0
	OpSelectProtocol     Opcode = 1
	OpReady              Opcode = 2
	OpHeartbeat          Opcode = 3
	OpSessionDescription Opcode = 4
	OpSpeaking           Opcode = 5
	OpHeartbeatAck       Opcode = 6
	OpResume             Opcode = 7
	OpHello              Opcode = 8
	OpResumed            Opcode = 9
	OpClientDisconnect   Opcode = 13
)

var opcodeNames = map[Opcode]string{
	OpIdentify:           "Identify",
	OpSelectProtocol:     "SelectProtocol",
	OpReady:              "Ready",
	OpHeartbeat:          "Heartbeat",
	OpSessionDescription: "SessionDescription",
	OpSpeaking:           "Speaking",
	OpHeartbeatAck:       "HeartbeatAck",
	OpResume:             "Resume",
	OpHello:              "Hello",
	OpResumed:            "Resumed",
	OpClientDisconnect:   "ClientDisconnect",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}
