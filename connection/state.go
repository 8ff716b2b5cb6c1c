// Package connection runs the voice session state machine.
//
// A Connection signals over a gateway.Conn, discovers its external address
// and negotiates encryption, then keeps the session alive with heartbeats.
// When the session drops it resumes with bounded backoff, falls back to a
// full reconnect, and finally gives up with a Disconnected event. Only
// this package changes the session state; everything else observes it.
package connection

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the session state.
type State int

const (
	StateDisconnected State = iota
	StateDiscovering
	StateHandshaking
	StateConnected
	StateReconnecting
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateDiscovering:  "discovering",
	StateHandshaking:  "handshaking",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func parseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return State(s)
		}
	}
	return StateDisconnected
}

// Transition names.
const (
	evDiscover   = "discover"
	evHandshake  = "handshake"
	evEstablish  = "establish"
	evLose       = "lose"
	evDisconnect = "disconnect"
)

// machine wraps the state machine and reports every transition.
type machine struct {
	fsm *fsm.FSM
}

func newMachine(onChange func(from, to State)) *machine {
	m := &machine{}
	m.fsm = fsm.NewFSM(
		StateDisconnected.String(),
		fsm.Events{
			{Name: evDiscover, Src: []string{StateDisconnected.String()}, Dst: StateDiscovering.String()},
			{Name: evHandshake, Src: []string{StateDiscovering.String()}, Dst: StateHandshaking.String()},
			{Name: evEstablish, Src: []string{StateHandshaking.String(), StateReconnecting.String()}, Dst: StateConnected.String()},
			{Name: evLose, Src: []string{StateConnected.String()}, Dst: StateReconnecting.String()},
			{Name: evDisconnect, Src: []string{
				StateDiscovering.String(),
				StateHandshaking.String(),
				StateConnected.String(),
				StateReconnecting.String(),
			}, Dst: StateDisconnected.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				onChange(parseState(e.Src), parseState(e.Dst))
			},
		},
	)
	return m
}

func (m *machine) fire(event string) error {
	return m.fsm.Event(context.Background(), event)
}

func (m *machine) current() State {
	return parseState(m.fsm.Current())
}
