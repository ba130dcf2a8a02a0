// Package netguard keeps every outgoing request behind a verified proxy
// connection. A Monitor owns the connection state; a Gate consults it before
// each request and fails closed.
package netguard

import (
	"errors"
	"fmt"
)

type State int32

const (
	StateUnknown State = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Allows reports whether traffic may flow. Disabled monitoring allows all.
func (s State) Allows() bool {
	return s == StateConnected || s == StateDisabled
}

var ErrBlocked = errors.New("network blocked by kill switch")

// BlockedError is returned for every request refused by a Gate.
type BlockedError struct {
	State State
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("kill switch: proxy %s, request blocked", e.State)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// StateSource is anything that can report the current connection state.
type StateSource interface {
	State() State
}

// Static is a fixed StateSource, used when no proxy is configured.
type Static State

func (s Static) State() State { return State(s) }
