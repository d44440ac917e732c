// Package fsm tracks the voice connection lifecycle.
package fsm

import (
	"fmt"
	"sync"
)

type State string

type Event string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

const (
	// EventConnect is a user request to connect.
	EventConnect Event = "connect"
	// EventConnected is reported by the engine once voice is up.
	EventConnected Event = "connected"
	// EventDisconnect is a user request to disconnect.
	EventDisconnect Event = "disconnect"
	// EventDisconnected is reported by the engine when voice drops.
	EventDisconnected Event = "disconnected"
	EventFail         Event = "fail"
	EventReset        Event = "reset"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateDisconnected:
		switch event {
		case EventConnect:
			return StateConnecting, nil
		case EventConnected:
			return StateConnected, nil
		case EventDisconnected:
			return StateDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventConnected:
			return StateConnected, nil
		case EventDisconnect, EventDisconnected:
			return StateDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnected:
		switch event {
		case EventDisconnect, EventDisconnected:
			return StateDisconnected, nil
		case EventConnected:
			return StateConnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventReset, EventDisconnect, EventDisconnected:
			return StateDisconnected, nil
		case EventConnect:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

// Machine holds a State behind a mutex.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine starts in StateDisconnected.
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// Fire applies event. On an invalid transition the state is unchanged.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := Transition(m.state, event)
	if err != nil {
		return m.state, err
	}
	m.state = next
	return next, nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
