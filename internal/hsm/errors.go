package hsm

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestration facts. Backends return these (optionally
// wrapped) so the manager and callers can branch with errors.Is. They separate
// "could not even attempt" (configuration, unavailable, exhausted) from
// "attempted and failed" (timeout). A cryptographic mismatch is NOT an error:
// it surfaces as CryptoResult.Success=false.
var (
	// ErrConfiguration means a backend is enabled but its required
	// credentials or endpoints are missing. Fatal at construction.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderUnavailable means the requested or ranked backend is not
	// registered. Terminal for the call; there is no implicit failover.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrKeyNotFound means no registered backend holds the key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrOperationTimeout means the per-call deadline elapsed before the
	// backend answered. The underlying call may still complete.
	ErrOperationTimeout = errors.New("operation timeout")

	// ErrUnsupportedAlgorithm means the (algorithm, backend) pair is not
	// supported. Backends fail loudly rather than silently degrading.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrPolicyViolation means the key's usage policy forbids the requested
	// operation, the caller is not on an allow-list, or the usage quota is
	// spent.
	ErrPolicyViolation = errors.New("key usage policy violation")
)

// BackendError wraps a backend failure with the provider and operation it
// came from, so callers always see which backend misbehaved.
type BackendError struct {
	Provider ProviderType
	Op       string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func wrapBackend(provider ProviderType, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Provider: provider, Op: op, Err: err}
}
