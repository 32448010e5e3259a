package session

// State is the connection lifecycle of one session. It is owned exclusively
// by the session worker; everything else observes it through events.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExecuting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExecuting:
		return "executing"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
