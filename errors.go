package powerctl

import "errors"

var (
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrSendFailed          = errors.New("failed to send command")
	ErrSendQueueFull       = errors.New("send queue full")
	ErrTransportClosed     = errors.New("transport closed")
	ErrInvalidEndpoint     = errors.New("invalid endpoint")
	ErrUnsupportedScheme   = errors.New("unsupported endpoint scheme")
	ErrDialerAlreadyExists = errors.New("dialer already exists")
	ErrCloseTimeout        = errors.New("close timed out")
	ErrClosedBeforeConnect = errors.New("connection closed before handshake completed")
	ErrTransport           = errors.New("transport error")
)
