package hsm

import (
	"context"
	"fmt"
)

// Provider is the capability seam every backend implements. The vendor wire
// protocol (cloud HSM API, vault REST calls, token session protocol) lives
// behind this interface and is invisible to the manager.
//
// Implementations must be safe under concurrent invocation and must treat
// every call as a potential audit-worthy side effect. An (algorithm, backend)
// pair the backend cannot serve fails with ErrUnsupportedAlgorithm instead of
// silently degrading.
type Provider interface {
	// Type identifies the backend.
	Type() ProviderType

	// Supports reports whether the backend can generate and operate on keys
	// of the given algorithm.
	Supports(alg PqcAlgorithm) bool

	// GeneratePQCKey creates a new key and returns its handle.
	GeneratePQCKey(ctx context.Context, alg PqcAlgorithm, keyID string) (KeyHandle, error)

	// GetKey returns the handle for an existing key, or ErrKeyNotFound.
	GetKey(ctx context.Context, keyID string) (KeyHandle, error)

	// CryptoOperation performs an operation with a stored key.
	CryptoOperation(ctx context.Context, op CryptoOperation) (CryptoResult, error)

	// DeleteKey removes the backend's record of the key. Handles already
	// held by callers stay valid as values but no longer resolve.
	DeleteKey(ctx context.Context, keyID string) error

	// ListKeys enumerates the backend's keys.
	ListKeys(ctx context.Context) ([]KeyInfo, error)

	// HealthCheck probes backend connectivity.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Metrics returns the backend's own counters.
	Metrics() ProviderMetrics
}

// Registry holds the constructed providers. It is populated once at manager
// start and read-only afterward, so concurrent readers never block each
// other. Registration order is preserved: GetKey fan-out follows it.
type Registry struct {
	order  []ProviderType
	byType map[ProviderType]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[ProviderType]Provider)}
}

// Register adds a provider. Registering the same type twice is an error.
func (r *Registry) Register(p Provider) error {
	t := p.Type()
	if _, exists := r.byType[t]; exists {
		return fmt.Errorf("provider %s already registered", t)
	}
	r.byType[t] = p
	r.order = append(r.order, t)
	return nil
}

// Get returns the provider of the given type.
func (r *Registry) Get(t ProviderType) (Provider, bool) {
	p, ok := r.byType[t]
	return p, ok
}

// All returns every provider in registration order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.byType[t])
	}
	return out
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	return len(r.order)
}
