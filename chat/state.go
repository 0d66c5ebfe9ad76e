package chat

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StatePolling
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StatePolling:
		return "polling"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// canConnect reports whether Connect may start from s.
func (s State) canConnect() bool {
	return s == StateIdle || s == StateDisconnected || s == StateError
}
