package powerctl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func TestParseValkeyEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		address  string
		channel  string
		err      error
	}{
		{"redis://localhost:6379/power", "localhost:6379", "power", nil},
		{"valkey://10.0.0.5:6380", "10.0.0.5:6380", defaultValkeyChannel, nil},
		{"redis://localhost:6379/", "localhost:6379", defaultValkeyChannel, nil},
		{"ws://localhost:8080/", "", "", ErrUnsupportedScheme},
		{"redis:///power", "", "", ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			address, channel, err := parseValkeyEndpoint(tt.endpoint)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, address)
			assert.Equal(t, tt.channel, channel)
		})
	}
}

func TestValkeyTransportOpenInvalidEndpoint(t *testing.T) {
	events := make(chan TransportEvent, 1)
	v := NewValkeyTransport(func(evt TransportEvent) { events <- evt })
	v.Open("ws://localhost:8080/")

	select {
	case evt := <-events:
		assert.Equal(t, TransportError, evt.Kind)
		assert.ErrorIs(t, evt.Err, ErrUnsupportedScheme)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestValkeyTransportReplyChannel(t *testing.T) {
	v := NewValkeyTransport(func(TransportEvent) {}, WithReplyChannel("acks"))
	v.Open("ws://localhost:8080/")
	assert.Empty(t, v.replyChannel, "reply channel is resolved only for valid endpoints")

	v = NewValkeyTransport(func(TransportEvent) {}, WithReplyChannel("acks"))
	v.Close()
	v.Open("redis://localhost:6379/power")
	assert.False(t, v.opened)
}

func TestValkeyTransportCloseBeforeOpen(t *testing.T) {
	events := make(chan TransportEvent, 1)
	v := NewValkeyTransport(func(evt TransportEvent) { events <- evt })

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.ErrorIs(t, v.Send("shutdown"), ErrTransportClosed)

	select {
	case evt := <-events:
		assert.Equal(t, TransportDisconnected, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("no disconnected event")
	}
}

func TestValkeyControllerUnreachable(t *testing.T) {
	rec := newRecorder()
	c, err := NewController("redis://127.0.0.1:1/power", WithObserver(rec))
	require.NoError(t, err)
	defer c.Shutdown()

	c.Connect()
	evt := rec.next(t)
	assert.Equal(t, EventConnectionError, evt.Type)
	assert.Equal(t, StateFailed, c.State())
}

// mockValkey replaces the client constructor with a gomock client that
// answers PING and holds a subscription open until its context ends
type mockValkey struct {
	client  *mock.Client
	address string
	replies func(fn func(valkey.PubSubMessage))
	closed  chan struct{}
}

func newMockValkey(t *testing.T) *mockValkey {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := &mockValkey{
		client: mock.NewClient(ctrl),
		closed: make(chan struct{}),
	}

	var once sync.Once
	m.client.EXPECT().Close().Do(func() {
		once.Do(func() { close(m.closed) })
	}).AnyTimes()
	m.client.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.ValkeyString("PONG"))).AnyTimes()
	m.client.EXPECT().Receive(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ valkey.Completed, fn func(valkey.PubSubMessage)) error {
			if m.replies != nil {
				m.replies(fn)
			}
			<-ctx.Done()
			return ctx.Err()
		}).AnyTimes()

	prev := newValkeyClient
	newValkeyClient = func(address string, _ valkey.ClientOption) (valkey.Client, error) {
		m.address = address
		return m.client, nil
	}
	t.Cleanup(func() {
		newValkeyClient = prev
		select {
		case <-m.closed:
		case <-time.After(2 * time.Second):
			t.Error("valkey client was not closed")
		}
	})
	return m
}

func newValkeyController(t *testing.T, endpoint string, opts ...ValkeyOption) (*Controller, *recorder) {
	t.Helper()
	rec := newRecorder()
	c, err := NewController(endpoint, WithDialer(ValkeyDialer(opts...)), WithObserver(rec))
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })
	return c, rec
}

func TestValkeyConnectedMetadata(t *testing.T) {
	m := newMockValkey(t)
	c, rec := newValkeyController(t, "redis://10.0.0.2:6379/office")

	c.Connect()
	evt := rec.next(t)
	require.Equal(t, EventConnected, evt.Type)
	assert.Equal(t, "10.0.0.2:6379", m.address)
	assert.Equal(t, map[string]string{
		"address":       "10.0.0.2:6379",
		"channel":       "office",
		"reply_channel": "office:replies",
	}, evt.Metadata)

	c.Disconnect()
	evt = rec.next(t)
	assert.Equal(t, EventDisconnected, evt.Type)
	assert.Equal(t, StateIdle, c.State())
}

func TestValkeyPublishCommand(t *testing.T) {
	m := newMockValkey(t)
	published := make(chan struct{})
	m.client.EXPECT().Do(gomock.Any(), mock.Match("PUBLISH", "office", "shutdown")).DoAndReturn(
		func(context.Context, valkey.Completed) valkey.ValkeyResult {
			close(published)
			return mock.Result(mock.ValkeyInt64(1))
		})

	c, rec := newValkeyController(t, "redis://10.0.0.2:6379/office")
	c.Connect()
	require.Equal(t, EventConnected, rec.next(t).Type)

	require.NoError(t, c.SendCommand(CommandShutdown))
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not published")
	}

	c.Disconnect()
	assert.Equal(t, EventDisconnected, rec.next(t).Type)
}

func TestValkeyRepliesFiltered(t *testing.T) {
	m := newMockValkey(t)
	m.replies = func(fn func(valkey.PubSubMessage)) {
		fn(valkey.PubSubMessage{Channel: "other", Message: "ignored"})
		fn(valkey.PubSubMessage{Channel: "acks", Message: "ok sleep"})
	}

	c, rec := newValkeyController(t, "valkey://10.0.0.2:6379/office", WithReplyChannel("acks"))
	c.Connect()
	evt := rec.next(t)
	require.Equal(t, EventConnected, evt.Type)
	assert.Equal(t, "acks", evt.Metadata["reply_channel"])

	evt = rec.next(t)
	assert.Equal(t, EventMessageReceived, evt.Type)
	assert.Equal(t, "ok sleep", string(evt.Payload))
	assert.False(t, evt.Binary)
	rec.none(t)

	c.Disconnect()
	assert.Equal(t, EventDisconnected, rec.next(t).Type)
}

func TestValkeyPublishFailure(t *testing.T) {
	m := newMockValkey(t)
	m.client.EXPECT().Do(gomock.Any(), mock.Match("PUBLISH", "office", "sleep")).
		Return(mock.ErrorResult(errors.New("connection reset")))

	c, rec := newValkeyController(t, "redis://10.0.0.2:6379/office")
	c.Connect()
	require.Equal(t, EventConnected, rec.next(t).Type)

	require.NoError(t, c.SendCommand(CommandSleep))
	evt := rec.next(t)
	assert.Equal(t, EventConnectionError, evt.Type)
	assert.ErrorIs(t, evt.Err, ErrSendFailed)
	assert.Equal(t, StateFailed, c.State())
}
