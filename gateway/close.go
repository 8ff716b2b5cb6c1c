package gateway

import (
	"errors"
	"fmt"
)

// Close codes sent by voice servers.
const (
	CloseNormal               = 1000
	CloseGoingAway            = 1001
	CloseAbnormal             = 1006
	CloseUnknownOpcode        = 4001
	CloseDecodeFailed         = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseSessionInvalid       = 4006
	CloseSessionTimeout       = 4009
	CloseServerNotFound       = 4011
	CloseUnknownProtocol      = 4012
	CloseDisconnected         = 4014
	CloseServerCrashed        = 4015
	CloseUnknownEncryption    = 4016
)

// CloseError is a close frame received from the server.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("gateway closed with code %d", e.Code)
	}
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Text)
}

// Recovery says how to react to a lost signalling session.
type Recovery int

const (
	// RecoverResume keeps the session and sends Resume.
	RecoverResume Recovery = iota
	// RecoverReconnect discards the session and runs a full connect.
	RecoverReconnect
	// RecoverNone gives up; the session cannot continue.
	RecoverNone
)

func (r Recovery) String() string {
	switch r {
	case RecoverResume:
		return "resume"
	case RecoverReconnect:
		return "reconnect"
	default:
		return "none"
	}
}

// RecoveryFor classifies the error that ended a signalling session.
// Errors other than close frames are network faults and resumable.
func RecoveryFor(err error) Recovery {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return RecoverResume
	}
	switch ce.Code {
	case CloseUnknownOpcode, CloseDecodeFailed, CloseNotAuthenticated,
		CloseAuthenticationFailed, CloseAlreadyAuthenticated, CloseSessionInvalid,
		CloseServerNotFound, CloseUnknownProtocol, CloseDisconnected,
		CloseUnknownEncryption:
		return RecoverNone
	case CloseNormal, CloseSessionTimeout:
		return RecoverReconnect
	default:
		return RecoverResume
	}
}
