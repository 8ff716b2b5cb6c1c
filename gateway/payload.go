package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/voxcore/crypto"
)

// ErrUnexpectedPayload indicates a message that does not fit its opcode.
var ErrUnexpectedPayload = errors.New("unexpected gateway payload")

// Payload is the envelope of every signalling message.
type Payload struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d"`
}

// NewPayload marshals data under op.
func NewPayload(op Opcode, data any) (Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode %s: %w", op, err)
	}
	return Payload{Op: op, Data: raw}, nil
}

// Decode unmarshals the data field into v.
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedPayload, p.Op, err)
	}
	return nil
}

// Identify opens a new session.
type Identify struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Ready carries the UDP endpoint and the modes the server accepts.
type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// SelectProtocol reports the discovered address and the chosen mode.
type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SelectProtocolData is the UDP part of SelectProtocol.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SessionDescription confirms the mode and delivers the secret key.
type SessionDescription struct {
	Mode      string `json:"mode"`
	SecretKey []int  `json:"secret_key"`
}

// Key validates and converts the secret key.
func (s SessionDescription) Key() (crypto.Key, error) {
	var k crypto.Key
	if len(s.SecretKey) != crypto.KeySize {
		return k, fmt.Errorf("%w: secret key has %d bytes", ErrUnexpectedPayload, len(s.SecretKey))
	}
	for i, b := range s.SecretKey {
		if b < 0 || b > 0xff {
			return k, fmt.Errorf("%w: secret key byte %d out of range", ErrUnexpectedPayload, i)
		}
		k[i] = byte(b)
	}
	return k, nil
}

// Speaking flags.
const (
	SpeakingMicrophone = 1 << 0
	SpeakingSoundshare = 1 << 1
	SpeakingPriority   = 1 << 2
)

// Speaking announces a speaking state. Outbound it carries our SSRC;
// inbound it also names the user behind a remote SSRC.
type Speaking struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
	UserID   string `json:"user_id,omitempty"`
}

// Hello starts the heartbeat. The interval is in milliseconds.
type Hello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// Resume reattaches to an existing session.
type Resume struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// ClientDisconnect reports that a remote user left.
type ClientDisconnect struct {
	UserID string `json:"user_id"`
}
