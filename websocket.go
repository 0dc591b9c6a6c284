package powerctl

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type WebSocketOption func(*webSocketOptions)

type webSocketOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	SendBufferSize   int
	Header           http.Header
	Dialer           *websocket.Dialer
}

func defaultWebSocketOptions() webSocketOptions {
	return webSocketOptions{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendBufferSize:   16,
	}
}

func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(o *webSocketOptions) {
		if d > 0 {
			o.HandshakeTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(o *webSocketOptions) {
		if d > 0 {
			o.WriteTimeout = d
		}
	}
}

// WithPingInterval makes the transport send keepalive pings; zero disables them
func WithPingInterval(d time.Duration) WebSocketOption {
	return func(o *webSocketOptions) {
		o.PingInterval = d
	}
}

func WithSendBufferSize(size int) WebSocketOption {
	return func(o *webSocketOptions) {
		if size > 0 {
			o.SendBufferSize = size
		}
	}
}

// WithHeader sets request headers sent with the opening handshake
func WithHeader(h http.Header) WebSocketOption {
	return func(o *webSocketOptions) {
		o.Header = h
	}
}

// WithWebSocketDialer replaces the gorilla dialer, e.g. for custom TLS
func WithWebSocketDialer(d *websocket.Dialer) WebSocketOption {
	return func(o *webSocketOptions) {
		o.Dialer = d
	}
}

// WebSocketDialer returns a Dialer creating WebSocket transports with opts
func WebSocketDialer(opts ...WebSocketOption) Dialer {
	return func(sink EventSink) Transport {
		return NewWebSocketTransport(sink, opts...)
	}
}

// WebSocketTransport is a Transport over a single WebSocket connection.
// A reader goroutine turns frames into events and a writer goroutine
// serialises outgoing frames, as gorilla allows one concurrent writer.
type WebSocketTransport struct {
	sink    EventSink
	options webSocketOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	opened   bool
	closing  bool
	sendChan chan string
	done     chan struct{}

	terminal sync.Once
	stop     sync.Once
}

func NewWebSocketTransport(sink EventSink, opts ...WebSocketOption) *WebSocketTransport {
	options := defaultWebSocketOptions()
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		sink:     sink,
		options:  options,
		ctx:      ctx,
		cancel:   cancel,
		sendChan: make(chan string, options.SendBufferSize),
		done:     make(chan struct{}),
	}
}

// Open dials endpoint in the background
func (w *WebSocketTransport) Open(endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.opened || w.closing {
		return
	}
	w.opened = true

	go w.dial(endpoint)
}

func (w *WebSocketTransport) dial(endpoint string) {
	dialer := w.options.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: w.options.HandshakeTimeout,
		}
	}

	conn, resp, err := dialer.DialContext(w.ctx, endpoint, w.options.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		w.mu.Lock()
		closing := w.closing
		w.mu.Unlock()

		switch {
		case closing:
			w.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed before connect", Code: websocket.CloseNormalClosure})
		case errors.Is(err, context.Canceled):
			w.finish(TransportEvent{Kind: TransportCancelled, Err: err})
		default:
			w.finish(TransportEvent{Kind: TransportError, Err: err})
		}
		return
	}

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		conn.Close()
		w.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed before connect", Code: websocket.CloseNormalClosure})
		return
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		w.sink(TransportEvent{Kind: TransportPing, Payload: []byte(data)})
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(w.options.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(data string) error {
		w.sink(TransportEvent{Kind: TransportPong, Payload: []byte(data)})
		return nil
	})

	w.sink(TransportEvent{Kind: TransportConnected, Headers: flattenHeader(resp)})

	go w.writeLoop(conn)
	w.readLoop(conn)
}

func (w *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer func() {
		w.stopWriter()
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(w.readError(err))
			return
		}

		switch msgType {
		case websocket.TextMessage:
			w.sink(TransportEvent{Kind: TransportText, Payload: data})
		case websocket.BinaryMessage:
			w.sink(TransportEvent{Kind: TransportBinary, Payload: data})
		}
	}
}

// readError maps the error ending the read loop. A close handshake from the
// peer is a disconnect; a dropped stream is an error unless we asked to close.
func (w *WebSocketTransport) readError(err error) TransportEvent {
	w.mu.Lock()
	closing := w.closing
	w.mu.Unlock()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code != websocket.CloseAbnormalClosure && closeErr.Code != websocket.CloseNoStatusReceived:
			return TransportEvent{Kind: TransportDisconnected, Reason: closeErr.Text, Code: closeErr.Code}
		case !closing:
			return TransportEvent{Kind: TransportError, Err: err}
		}
	}

	if closing {
		return TransportEvent{Kind: TransportDisconnected, Reason: "closed", Code: websocket.CloseNormalClosure}
	}
	return TransportEvent{Kind: TransportError, Err: err}
}

func (w *WebSocketTransport) writeLoop(conn *websocket.Conn) {
	var ping <-chan time.Time
	if w.options.PingInterval > 0 {
		ticker := time.NewTicker(w.options.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case text := <-w.sendChan:
			conn.SetWriteDeadline(time.Now().Add(w.options.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				w.failWrite(conn, err)
				return
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.options.WriteTimeout)); err != nil {
				w.failWrite(conn, err)
				return
			}
		case <-w.done:
			return
		}
	}
}

// failWrite reports a write error and tears the connection down; the
// reader then exits without a second terminal event
func (w *WebSocketTransport) failWrite(conn *websocket.Conn, err error) {
	w.mu.Lock()
	closing := w.closing
	w.mu.Unlock()
	if closing {
		w.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed", Code: websocket.CloseNormalClosure})
	} else {
		w.finish(TransportEvent{Kind: TransportError, Err: err})
	}
	conn.Close()
}

// Send queues text for the writer goroutine
func (w *WebSocketTransport) Send(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || w.closing {
		return ErrTransportClosed
	}

	select {
	case w.sendChan <- text:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close sends a close frame and waits for the peer's reply in the background
func (w *WebSocketTransport) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closing {
		return nil
	}
	w.closing = true

	if !w.opened {
		go w.finish(TransportEvent{Kind: TransportDisconnected, Reason: "closed before open", Code: websocket.CloseNormalClosure})
		return nil
	}

	conn := w.conn
	if conn == nil {
		// still dialing
		w.cancel()
		return nil
	}

	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.options.WriteTimeout)); err != nil {
			conn.Close()
			return
		}
		select {
		case <-w.done:
		case <-time.After(w.options.WriteTimeout):
			conn.Close()
		}
	}()

	return nil
}

// finish delivers the single terminal event of this transport
func (w *WebSocketTransport) finish(evt TransportEvent) {
	w.terminal.Do(func() {
		w.stopWriter()
		w.cancel()
		w.sink(evt)
	})
}

func (w *WebSocketTransport) stopWriter() {
	w.stop.Do(func() {
		close(w.done)
	})
}

func flattenHeader(resp *http.Response) map[string]string {
	if resp == nil {
		return nil
	}
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}
	return headers
}
