package powerctl

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Registry maps endpoint URI schemes to the Dialer that serves them
type Registry interface {
	Register(scheme string, d Dialer) error
	Lookup(endpoint string) (Dialer, error)
}

type registryImpl struct {
	dialers map[string]Dialer
	mu      sync.RWMutex
}

func (r *registryImpl) Register(scheme string, d Dialer) error {
	scheme = strings.ToLower(scheme)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dialers[scheme]; exists {
		return ErrDialerAlreadyExists
	}
	r.dialers[scheme] = d
	return nil
}

func (r *registryImpl) Lookup(endpoint string) (Dialer, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return d, nil
}

func NewRegistry() Registry {
	return &registryImpl{dialers: make(map[string]Dialer)}
}

var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() Registry {
	r := NewRegistry()
	ws := func(sink EventSink) Transport { return NewWebSocketTransport(sink) }
	vk := func(sink EventSink) Transport { return NewValkeyTransport(sink) }
	for scheme, d := range map[string]Dialer{"ws": ws, "wss": ws, "redis": vk, "valkey": vk} {
		if err := r.Register(scheme, d); err != nil {
			panic(fmt.Sprintf("powerctl: default dialer %q: %v", scheme, err))
		}
	}
	return r
}

// RegisterDialer adds a Dialer for scheme to the default registry
func RegisterDialer(scheme string, d Dialer) error {
	return defaultRegistry.Register(scheme, d)
}

// LookupDialer resolves the Dialer for endpoint from the default registry
func LookupDialer(endpoint string) (Dialer, error) {
	return defaultRegistry.Lookup(endpoint)
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}
