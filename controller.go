package powerctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type taggedEvent struct {
	generation   uint64
	evt          TransportEvent
	closeTimeout bool
}

// Controller owns one Transport at a time, runs the connection lifecycle
// state machine and gates which commands may be sent.
//
// Transport events are applied by a single event loop goroutine, which is
// also the only goroutine that calls the observer. Observers may call back
// into the Controller.
type Controller struct {
	endpoint string
	dialer   Dialer
	options  Options
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	transport  Transport
	closeTimer *time.Timer
	observer   Observer
	stopped    bool

	inbox  chan taggedEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a Controller for endpoint. Unless WithDialer is
// given, the transport is chosen by the endpoint scheme.
func NewController(endpoint string, opts ...Option) (*Controller, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if _, err := parseEndpoint(endpoint); err != nil {
		return nil, err
	}

	dialer := options.Dialer
	if dialer == nil {
		d, err := LookupDialer(endpoint)
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		endpoint: endpoint,
		dialer:   dialer,
		options:  options,
		log:      options.Logger.With().Str("endpoint", endpoint).Logger(),
		observer: options.Observer,
		inbox:    make(chan taggedEvent, options.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.processEvents()
	}()

	return c, nil
}

// Connect starts a new connection attempt. It is a no-op unless the
// controller is idle or failed; the outcome is delivered as events.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.log.Warn().Msg("connect after shutdown ignored")
		return
	}
	if !c.state.canConnect() {
		c.log.Debug().Stringer("state", c.state).Msg("connect ignored")
		c.mu.Unlock()
		return
	}

	c.generation++
	t := c.dialer(c.sinkFor(c.generation))
	c.transport = t
	c.setState(StateConnecting)
	c.mu.Unlock()

	// the transport may report synchronously, which needs the event loop
	t.Open(c.endpoint)
}

// Disconnect requests a graceful close of the current transport. Without a
// transport the controller becomes idle immediately.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.transport == nil {
		c.setState(StateIdle)
		c.mu.Unlock()
		return
	}
	if c.state == StateDisconnecting {
		c.mu.Unlock()
		return
	}

	c.setState(StateDisconnecting)

	t := c.transport
	generation := c.generation
	c.closeTimer = time.AfterFunc(c.options.CloseTimeout, func() {
		c.enqueue(taggedEvent{generation: generation, closeTimeout: true})
	})
	c.mu.Unlock()

	if err := t.Close(); err != nil {
		c.log.Warn().Err(err).Uint64("generation", generation).Msg("transport close failed")
	}
}

// SendCommand transmits cmd verbatim. It returns ErrNotConnected unless the
// controller is connected.
func (c *Controller) SendCommand(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.transport == nil {
		return ErrNotConnected
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := c.transport.Send(string(cmd)); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.options.Metrics.command(cmd)
	c.log.Debug().Str("command", cmd.String()).Uint64("generation", c.generation).Msg("command sent")
	return nil
}

// OnTransportEvent queues evt, produced by the transport of the given
// generation, for the event loop. Events of a superseded generation are
// discarded when applied.
func (c *Controller) OnTransportEvent(generation uint64, evt TransportEvent) {
	c.enqueue(taggedEvent{generation: generation, evt: evt})
}

// SetObserver registers the observer that receives lifecycle events,
// replacing any previous one
func (c *Controller) SetObserver(observer Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = observer
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the identifier of the most recent connection attempt
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Controller) Endpoint() string {
	return c.endpoint
}

// Shutdown closes any live transport and stops the event loop. The
// controller cannot be reused afterwards.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	t := c.release()
	c.setState(StateIdle)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if t != nil {
		return t.Close()
	}
	return nil
}

func (c *Controller) sinkFor(generation uint64) EventSink {
	return func(evt TransportEvent) {
		c.OnTransportEvent(generation, evt)
	}
}

func (c *Controller) enqueue(te taggedEvent) {
	select {
	case c.inbox <- te:
	case <-c.ctx.Done():
	}
}

func (c *Controller) processEvents() {
	for {
		select {
		case te := <-c.inbox:
			c.handle(te)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(te taggedEvent) {
	c.mu.Lock()
	evt, closing, emit := c.apply(te)
	observer := c.observer
	c.mu.Unlock()

	if closing != nil {
		if err := closing.Close(); err != nil {
			c.log.Debug().Err(err).Uint64("generation", te.generation).Msg("release close failed")
		}
	}

	if !emit {
		return
	}
	c.options.Metrics.event(evt.Type)
	if observer != nil {
		observer.OnEvent(evt)
	}
}

// apply runs one state machine step. It returns the lifecycle event to
// emit, if any, and a released transport that still has to be closed.
// Callers hold c.mu.
func (c *Controller) apply(te taggedEvent) (LifecycleEvent, Transport, bool) {
	if te.generation != c.generation || c.transport == nil {
		c.options.Metrics.stale()
		c.log.Debug().
			Uint64("generation", te.generation).
			Uint64("current", c.generation).
			Stringer("kind", te.evt.Kind).
			Msg("stale transport event discarded")
		return LifecycleEvent{}, nil, false
	}

	if te.closeTimeout {
		if c.state != StateDisconnecting {
			return LifecycleEvent{}, nil, false
		}
		c.log.Warn().Uint64("generation", te.generation).Msg("close not confirmed, releasing transport")
		t := c.release()
		c.setState(StateIdle)
		evt := c.lifecycle(EventDisconnected)
		evt.Reason = "close timeout"
		evt.Err = ErrCloseTimeout
		return evt, t, true
	}

	in := te.evt
	if in.Kind.informational() {
		c.log.Debug().Stringer("kind", in.Kind).Bool("flag", in.Flag).Msg("transport signal")
		return LifecycleEvent{}, nil, false
	}

	switch in.Kind {
	case TransportConnected:
		if c.state != StateConnecting {
			return LifecycleEvent{}, nil, false
		}
		c.setState(StateConnected)
		evt := c.lifecycle(EventConnected)
		evt.Metadata = in.Headers
		return evt, nil, true

	case TransportDisconnected:
		switch c.state {
		case StateConnecting:
			c.release()
			c.setState(StateFailed)
			evt := c.lifecycle(EventConnectionError)
			evt.Err = fmt.Errorf("%w: %s (code %d)", ErrClosedBeforeConnect, in.Reason, in.Code)
			return evt, nil, true
		case StateConnected, StateDisconnecting:
			c.release()
			c.setState(StateIdle)
			evt := c.lifecycle(EventDisconnected)
			evt.Reason = in.Reason
			evt.Code = in.Code
			return evt, nil, true
		}

	case TransportError:
		cause := in.Err
		if cause == nil {
			cause = ErrTransport
		}
		switch c.state {
		case StateConnecting, StateConnected:
			c.log.Warn().Err(cause).Uint64("generation", c.generation).Msg("connection error")
			t := c.release()
			c.setState(StateFailed)
			evt := c.lifecycle(EventConnectionError)
			evt.Err = cause
			return evt, t, true
		case StateDisconnecting:
			t := c.release()
			c.setState(StateIdle)
			evt := c.lifecycle(EventDisconnected)
			evt.Reason = cause.Error()
			evt.Err = cause
			return evt, t, true
		}

	case TransportCancelled:
		c.log.Warn().Uint64("generation", c.generation).Msg("connection cancelled")
		t := c.release()
		c.setState(StateFailed)
		return c.lifecycle(EventCancelled), t, true

	case TransportText, TransportBinary:
		if c.state != StateConnected {
			return LifecycleEvent{}, nil, false
		}
		evt := c.lifecycle(EventMessageReceived)
		evt.Payload = in.Payload
		evt.Binary = in.Kind == TransportBinary
		return evt, nil, true
	}

	return LifecycleEvent{}, nil, false
}

func (c *Controller) lifecycle(t EventType) LifecycleEvent {
	return LifecycleEvent{Type: t, State: c.state, Generation: c.generation}
}

// release detaches the current transport and stops the close timer
func (c *Controller) release() Transport {
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	t := c.transport
	c.transport = nil
	return t
}

func (c *Controller) setState(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.options.Metrics.transition(prev, next)
	c.log.Debug().
		Stringer("from", prev).
		Stringer("to", next).
		Uint64("generation", c.generation).
		Msg("state transition")
}
