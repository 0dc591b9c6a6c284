package powerctl

// EventType identifies the variant of a LifecycleEvent
type EventType int

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventMessageReceived
	EventConnectionError
	EventCancelled
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "message_received"
	case EventConnectionError:
		return "connection_error"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LifecycleEvent describes an observable transition of a Controller.
// Only the fields relevant to Type are set.
type LifecycleEvent struct {
	Type EventType

	// State is the controller state after the event was applied
	State State

	// Generation of the transport that produced the event
	Generation uint64

	// Connected
	Metadata map[string]string

	// Disconnected
	Reason string
	Code   int

	// MessageReceived
	Payload []byte
	Binary  bool

	// ConnectionError
	Err error
}

// Observer receives lifecycle events in the order transitions occurred
type Observer interface {
	OnEvent(evt LifecycleEvent)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(evt LifecycleEvent)

func (f ObserverFunc) OnEvent(evt LifecycleEvent) {
	f(evt)
}
