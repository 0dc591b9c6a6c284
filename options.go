package powerctl

import (
	"time"

	"github.com/rs/zerolog"
)

type Option func(*Options)

type Options struct {
	InboxSize    int
	CloseTimeout time.Duration
	Logger       zerolog.Logger
	Observer     Observer
	Dialer       Dialer
	Metrics      *Metrics
}

func defaultOptions() Options {
	return Options{
		InboxSize:    64,
		CloseTimeout: 5 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

// WithInboxSize sets the buffer of the transport event inbox
func WithInboxSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.InboxSize = size
		}
	}
}

// WithCloseTimeout bounds how long the controller waits in the
// disconnecting state for the transport to confirm the close
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.CloseTimeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(o *Options) {
		o.Observer = observer
	}
}

// WithDialer overrides the scheme-based dialer lookup
func WithDialer(d Dialer) Option {
	return func(o *Options) {
		o.Dialer = d
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}
