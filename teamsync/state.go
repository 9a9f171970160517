package teamsync

// ConnectionState is the lifecycle state of the push connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // never connected, or dropped without AutoReconnect
	StateConnecting
	StateConnected
	StateReconnecting // connection lost, backoff loop running
	StateError        // reconnect attempts exhausted
	StateClosed       // Close was called
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether a connection is open or being (re)established.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// AcceptsEmits reports whether emitted events are queued. Events queued
// while reconnecting are written once the new connection is up.
func (s ConnectionState) AcceptsEmits() bool {
	return s == StateConnected || s == StateReconnecting
}

// StateEvent is delivered to OnStateChanged on every transition.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // cause of the transition, if any
}
