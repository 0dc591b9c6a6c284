package powerctl

// State is the lifecycle state of a Controller
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// canConnect reports whether Connect may start a new attempt from s
func (s State) canConnect() bool {
	return s == StateIdle || s == StateFailed
}
