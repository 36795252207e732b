package consult

// State is the lifecycle state of the controller's current session.
//
//	Idle → Connecting → Open → Closing → Closed
//	Connecting → Closing → Closed   (Disconnect before Connect resolved)
//	any session state → Failed
//
// Closed and Failed are terminal for a session; a later Connect starts a new
// session from Connecting.
type State int

const (
	// StateIdle: no session has been started yet.
	StateIdle State = iota

	// StateConnecting: devices are being acquired or the endpoint is being
	// dialled.
	StateConnecting

	// StateOpen: audio is flowing in both directions.
	StateOpen

	// StateClosing: Disconnect is tearing the session down.
	StateClosing

	// StateClosed: the session was disconnected. Terminal.
	StateClosed

	// StateFailed: Connect was rejected or the transport failed after
	// opening. Terminal.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the session in state s has ended.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// canTransition reports whether from → to is a legal session transition.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateConnecting:
		return to == StateOpen || to == StateClosing
	case StateOpen:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	}
	return false
}
