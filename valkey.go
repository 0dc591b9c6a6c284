package powerctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/valkey-io/valkey-go"
)

const defaultValkeyChannel = "powerctl"

// newValkeyClient is swapped in tests
var newValkeyClient = NewValkeyClient

type ValkeyOption func(*valkeyOptions)

type valkeyOptions struct {
	ReplyChannel   string
	SendBufferSize int
	ClientOption   valkey.ClientOption
}

func defaultValkeyOptions() valkeyOptions {
	return valkeyOptions{
		SendBufferSize: 16,
	}
}

// WithReplyChannel sets the channel the peer publishes replies on.
// Defaults to "<channel>:replies".
func WithReplyChannel(channel string) ValkeyOption {
	return func(o *valkeyOptions) {
		o.ReplyChannel = channel
	}
}

func WithValkeySendBufferSize(size int) ValkeyOption {
	return func(o *valkeyOptions) {
		if size > 0 {
			o.SendBufferSize = size
		}
	}
}

// WithClientOption sets the valkey client configuration. InitAddress is
// filled from the endpoint when empty.
func WithClientOption(opt valkey.ClientOption) ValkeyOption {
	return func(o *valkeyOptions) {
		o.ClientOption = opt
	}
}

// ValkeyDialer returns a Dialer creating valkey pub/sub transports with opts
func ValkeyDialer(opts ...ValkeyOption) Dialer {
	return func(sink EventSink) Transport {
		return NewValkeyTransport(sink, opts...)
	}
}

// ValkeyTransport carries command tokens over valkey pub/sub. Endpoints
// have the form redis://host:port/<channel>; commands are published on
// the channel and replies are read from the reply channel.
type ValkeyTransport struct {
	sink    EventSink
	options valkeyOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	channel      string
	replyChannel string
	opened       bool
	connected    bool
	closing      bool
	sendChan     chan string
	closedChan   chan struct{}

	terminal sync.Once
	once     sync.Once
}

func NewValkeyTransport(sink EventSink, opts ...ValkeyOption) *ValkeyTransport {
	options := defaultValkeyOptions()
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ValkeyTransport{
		sink:       sink,
		options:    options,
		ctx:        ctx,
		cancel:     cancel,
		sendChan:   make(chan string, options.SendBufferSize),
		closedChan: make(chan struct{}),
	}
}

// Open connects to the valkey server in the background
func (v *ValkeyTransport) Open(endpoint string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.opened || v.closing {
		return
	}
	v.opened = true

	address, channel, err := parseValkeyEndpoint(endpoint)
	if err != nil {
		go v.finish(TransportEvent{Kind: TransportError, Err: err})
		return
	}
	v.channel = channel
	v.replyChannel = v.options.ReplyChannel
	if v.replyChannel == "" {
		v.replyChannel = channel + ":replies"
	}

	go v.run(address)
}

func (v *ValkeyTransport) run(address string) {
	client, err := newValkeyClient(address, v.options.ClientOption)
	if err != nil {
		v.finish(v.classify(err))
		return
	}

	v.mu.Lock()
	if v.closing {
		v.mu.Unlock()
		client.Close()
		v.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed before connect"})
		return
	}
	v.mu.Unlock()

	if err := client.Do(v.ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		v.finish(v.classify(err))
		return
	}

	v.mu.Lock()
	v.connected = true
	v.mu.Unlock()

	v.sink(TransportEvent{Kind: TransportConnected, Headers: map[string]string{
		"address":       address,
		"channel":       v.channel,
		"reply_channel": v.replyChannel,
	}})

	go v.publishLoop(client)

	// Receive blocks until the subscription ends or the context is cancelled
	subscriber := client.B().Subscribe().Channel(v.replyChannel).Build()
	err = client.Receive(v.ctx, subscriber, v.handleMessage)
	client.Close()
	if err != nil {
		v.finish(v.classify(err))
	} else {
		v.finish(TransportEvent{Kind: TransportDisconnected, Reason: "subscription ended"})
	}
}

func (v *ValkeyTransport) publishLoop(client valkey.Client) {
	for {
		select {
		case text := <-v.sendChan:
			cmd := client.B().Publish().Channel(v.channel).Message(text).Build()
			if err := client.Do(v.ctx, cmd).Error(); err != nil {
				v.finish(v.classify(fmt.Errorf("%w: %w", ErrSendFailed, err)))
				return
			}
		case <-v.closedChan:
			return
		}
	}
}

// handleMessage forwards replies from the reply channel
func (v *ValkeyTransport) handleMessage(msg valkey.PubSubMessage) {
	if msg.Channel != v.replyChannel {
		return
	}
	v.sink(TransportEvent{Kind: TransportText, Payload: []byte(msg.Message)})
}

// classify maps an error to disconnected once a close was requested
func (v *ValkeyTransport) classify(err error) TransportEvent {
	v.mu.Lock()
	closing := v.closing
	v.mu.Unlock()

	if closing {
		return TransportEvent{Kind: TransportDisconnected, Reason: "closed"}
	}
	return TransportEvent{Kind: TransportError, Err: err}
}

// Send queues a PUBLISH of text on the command channel
func (v *ValkeyTransport) Send(text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected || v.closing {
		return ErrTransportClosed
	}

	select {
	case v.sendChan <- text:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close cancels the subscription and releases the client
func (v *ValkeyTransport) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closing {
		return nil
	}
	v.closing = true
	v.cancel()

	if !v.opened {
		go v.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed before open"})
	}
	return nil
}

func (v *ValkeyTransport) finish(evt TransportEvent) {
	v.terminal.Do(func() {
		v.once.Do(func() {
			close(v.closedChan)
		})
		v.cancel()
		v.sink(evt)
	})
}

// NewValkeyClient creates a new valkey client with common configuration
func NewValkeyClient(address string, option valkey.ClientOption) (valkey.Client, error) {
	if len(option.InitAddress) == 0 {
		option.InitAddress = []string{address}
	}
	return valkey.NewClient(option)
}

func parseValkeyEndpoint(endpoint string) (address, channel string, err error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "redis" && u.Scheme != "valkey" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	channel = strings.Trim(u.Path, "/")
	if channel == "" {
		channel = defaultValkeyChannel
	}
	return u.Host, channel, nil
}
