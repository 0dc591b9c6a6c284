package powerctl

// TransportEventKind identifies a raw notification from a Transport
type TransportEventKind int

const (
	TransportConnected TransportEventKind = iota + 1
	TransportDisconnected
	TransportText
	TransportBinary
	TransportError
	TransportCancelled

	// Informational signals, never state-affecting
	TransportPing
	TransportPong
	TransportViabilityChanged
	TransportReconnectSuggested
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportText:
		return "text"
	case TransportBinary:
		return "binary"
	case TransportError:
		return "error"
	case TransportCancelled:
		return "cancelled"
	case TransportPing:
		return "ping"
	case TransportPong:
		return "pong"
	case TransportViabilityChanged:
		return "viability_changed"
	case TransportReconnectSuggested:
		return "reconnect_suggested"
	default:
		return "unknown"
	}
}

// informational reports whether the kind is transport plumbing that is
// logged but never surfaced to observers
func (k TransportEventKind) informational() bool {
	switch k {
	case TransportPing, TransportPong, TransportViabilityChanged, TransportReconnectSuggested:
		return true
	default:
		return false
	}
}

// TransportEvent is a raw notification delivered by a Transport to its sink
type TransportEvent struct {
	Kind    TransportEventKind
	Headers map[string]string
	Reason  string
	Code    int
	Payload []byte
	Flag    bool
	Err     error
}

// EventSink receives events from a single Transport instance.
// It may be called from any goroutine.
type EventSink func(evt TransportEvent)

// Transport defines the interface for the connection to the remote peer.
// A Transport serves exactly one connection attempt. The Controller never
// holds its lock while calling Open or Close, so a transport may deliver
// events to its sink from within those calls.
type Transport interface {
	// Open begins an asynchronous connection attempt. The attempt ends with
	// exactly one of connected, error or cancelled delivered to the sink.
	Open(endpoint string)

	// Send queues a text frame. It is only meaningful after connected and
	// before disconnected and must not block on the network.
	Send(text string) error

	// Close requests a graceful shutdown. The sink eventually receives
	// disconnected.
	Close() error
}

// Dialer creates a Transport bound to sink
type Dialer func(sink EventSink) Transport
