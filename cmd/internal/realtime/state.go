package realtime

import (
	"time"

	v1 "blogdesk/contracts/realtime/v1"
)

// Status is the connection lifecycle status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

func (s Status) String() string { return string(s) }

// State is the observable connection state. It is replaced wholesale on
// every transition.
type State struct {
	Status               Status        `json:"status"`
	StatusMessage        string        `json:"status_message"`
	ReconnectAttempts    int           `json:"reconnect_attempts"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `json:"reconnect_interval"`
	LastError            string        `json:"last_error,omitempty"`
	Since                time.Time     `json:"since"`
}

// InitialState returns the resting state for cfg.
func InitialState(cfg Config) State {
	return State{
		Status:               StatusDisconnected,
		StatusMessage:        "not connected",
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectInterval:    cfg.ReconnectInterval,
	}
}

// EventKind enumerates the inputs of the state machine.
type EventKind uint8

const (
	EventConnect EventKind = iota + 1
	EventOpen
	EventClose
	EventError
	EventMessage
	EventRetry
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventRetry:
		return "retry"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one input to Transition.
//
// Gen identifies the connection attempt the event belongs to; the manager
// drops transport and timer events whose Gen is no longer current.
type Event struct {
	Kind     EventKind
	Gen      uint64
	At       time.Time
	Err      error
	Envelope v1.Envelope

	conn Conn
}

// Effect is the set of side effects the event loop must perform after a transition.
type Effect uint8

const (
	EffectDial Effect = 1 << iota
	EffectScheduleRetry
	EffectCancelRetry
	EffectCloseConn
	EffectDeliver
)

// EffectNone means the event did not apply.
const EffectNone Effect = 0

// Has reports whether f is part of e.
func (e Effect) Has(f Effect) bool { return e&f != 0 }
