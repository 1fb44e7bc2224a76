package payments

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Registry resolves gateways by provider name. Online orders use the default gateway; webhooks
// name their gateway in the route.
type Registry struct {
	gateways        map[string]Gateway
	defaultProvider string
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithDefaultProvider selects the gateway used for new invoices.
func WithDefaultProvider(provider string) RegistryOption {
	return func(r *Registry) {
		r.defaultProvider = normaliseName(provider)
	}
}

// NewRegistry registers gateways under their Name(). With a single gateway it is the default.
func NewRegistry(gateways []Gateway, opts ...RegistryOption) (*Registry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		name := normaliseName(gw.Name())
		if name == "" {
			return nil, errors.New("payments: gateway name is required")
		}
		if _, dup := r.gateways[name]; dup {
			return nil, fmt.Errorf("payments: gateway %q registered twice", name)
		}
		r.gateways[name] = gw
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.defaultProvider == "" && len(r.gateways) == 1 {
		for name := range r.gateways {
			r.defaultProvider = name
		}
	}
	if _, ok := r.gateways[r.defaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default %q is not registered", ErrUnsupportedProvider, r.defaultProvider)
	}
	return r, nil
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	if r == nil {
		return nil, ErrUnsupportedProvider
	}
	gw, ok := r.gateways[normaliseName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return gw, nil
}

// Default returns the gateway used for new invoices.
func (r *Registry) Default() Gateway {
	if r == nil {
		return nil
	}
	return r.gateways[r.defaultProvider]
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
