package powerctl

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors updated by a Controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	State       prometheus.Gauge
	Transitions *prometheus.CounterVec
	Events      *prometheus.CounterVec
	Commands    *prometheus.CounterVec
	StaleEvents prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "powerctl",
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 connected, 3 disconnecting, 4 failed).",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerctl",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		}, []string{"from", "to"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerctl",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events emitted to the observer.",
		}, []string{"type"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerctl",
			Name:      "commands_sent_total",
			Help:      "Commands handed to the transport.",
		}, []string{"command"}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powerctl",
			Name:      "stale_transport_events_total",
			Help:      "Transport events discarded because their generation was superseded.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.State, m.Transitions, m.Events, m.Commands, m.StaleEvents} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) transition(from, to State) {
	if m == nil || from == to {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.State.Set(float64(to))
}

func (m *Metrics) event(t EventType) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) command(cmd Command) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(cmd.String()).Inc()
}

func (m *Metrics) stale() {
	if m == nil {
		return
	}
	m.StaleEvents.Inc()
}
