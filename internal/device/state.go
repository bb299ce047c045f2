package device

// State is the connection state of one device.
type State int

const (
	StateDisconnected State = iota
	StateAcquiringCredentials
	StateHandshaking
	StateConnected
	StateFailed
	StateRenamingThenRebooting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAcquiringCredentials:
		return "acquiring_credentials"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateRenamingThenRebooting:
		return "renaming_then_rebooting"
	default:
		return "unknown"
	}
}

// canHandshake reports whether a new handshake may start from s. Only one
// handshake is in flight per device.
func (s State) canHandshake() bool {
	return s == StateDisconnected || s == StateFailed
}

// handshaking reports whether a handshake started and has no outcome yet.
func (s State) handshaking() bool {
	return s == StateAcquiringCredentials || s == StateHandshaking
}

// StatusEvent describes one state transition.
type StatusEvent struct {
	Device       string
	Address      string
	From         State
	To           State
	FirstContact bool
	Message      string
	// Err is set for transitions into StateFailed.
	Err error
}

// Identity is the cached self-reported identity of the device.
type Identity struct {
	MachineName string
}
