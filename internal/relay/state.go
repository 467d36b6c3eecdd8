package relay

// ServerState represents the lifecycle stage of a relay server.
type ServerState uint32

const (
	// StateClosed indicates no resources are held.
	StateClosed ServerState = iota
	// StateOpen indicates the serial device and listening socket are
	// acquired but the event loop is not running.
	StateOpen
	// StateServing indicates the event loop is running.
	StateServing
)

// IsClosed returns if the server holds no resources.
func (s ServerState) IsClosed() bool { return s == StateClosed }

// IsOpen returns if resources are acquired, whether or not serving.
func (s ServerState) IsOpen() bool { return s == StateOpen || s == StateServing }

// IsServing returns if the event loop is running.
func (s ServerState) IsServing() bool { return s == StateServing }

// String returns the string representation of the state.
func (s ServerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateServing:
		return "serving"
	default:
		return "unknown"
	}
}
