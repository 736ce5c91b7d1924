package call

// State is a call's position in the protocol lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
