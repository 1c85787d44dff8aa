// Package hsm is the orchestration layer over heterogeneous HSM and managed
// key-vault backends. Callers generate and use post-quantum keys without
// knowing which backend holds them; every key-management action lands in the
// audit ledger.
package hsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pqkms/internal/hsm/audit"
	"pqkms/internal/hsm/metrics"
)

// Manager is the single entry point callers interact with. It holds the
// provider registry (read-only after construction), the selection policy,
// the audit trail, and per-provider metrics.
type Manager struct {
	registry *Registry
	trail    *audit.Trail
	metrics  *metrics.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager assembles the orchestrator. timeout bounds every backend call;
// a zero or negative timeout makes every call fail with ErrOperationTimeout.
func NewManager(registry *Registry, trail *audit.Trail, reg *metrics.Registry, timeout time.Duration, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: provider registry is required", ErrConfiguration)
	}
	if trail == nil {
		return nil, fmt.Errorf("%w: audit trail is required", ErrConfiguration)
	}
	m := &Manager{
		registry: registry,
		trail:    trail,
		metrics:  reg,
		timeout:  timeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GeneratePQCKey creates a key on the resolved backend. An explicit preferred
// provider wins; otherwise the per-algorithm ranking over the enabled set
// decides. Exactly one audit record is appended per attempt, success or
// failure, carrying the caller's context. There is no failover: a timeout or
// backend failure is returned to the caller, who owns any retry decision.
func (m *Manager) GeneratePQCKey(ctx context.Context, alg PqcAlgorithm, keyID string, preferred ProviderType, opCtx OperationContext) (KeyHandle, error) {
	provider, err := m.resolveProvider(alg, preferred)
	if err != nil {
		return KeyHandle{}, err
	}

	started := time.Now()
	handle, genErr := await(ctx, m.timeout, func(ctx context.Context) (KeyHandle, error) {
		return provider.GeneratePQCKey(ctx, alg, keyID)
	})
	elapsed := time.Since(started)

	ptype := provider.Type()
	if auditErr := m.trail.RecordKeyGeneration(ctx, keyID, string(alg), string(ptype), genErr, callerOf(opCtx)); auditErr != nil {
		// The ledger write failed; the operation result still belongs to
		// the caller. Compliance monitoring picks this up from the log.
		m.logger.Error("audit write failed for key generation",
			"key_id", keyID, "provider", ptype, "error", auditErr)
	}
	m.metrics.Record(string(ptype), elapsed, genErr == nil)

	if genErr != nil {
		return KeyHandle{}, wrapBackend(ptype, "generate_pqc_key", genErr)
	}
	m.logger.Info("generated pqc key",
		"key_id", keyID, "algorithm", alg, "provider", ptype,
		"duration_ms", elapsed.Milliseconds())
	return handle, nil
}

// GetKey queries every registered provider in registration order and returns
// the first match. This is an O(providers) fan-out with no caching: repeated
// lookups repeat the fan-out.
func (m *Manager) GetKey(ctx context.Context, keyID string) (KeyHandle, error) {
	for _, p := range m.registry.All() {
		handle, err := p.GetKey(ctx, keyID)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			m.logger.Warn("key lookup failed on provider",
				"provider", p.Type(), "key_id", keyID, "error", err)
		}
	}
	return KeyHandle{}, fmt.Errorf("key %q: %w", keyID, ErrKeyNotFound)
}

// CryptoOperation resolves the key's owning backend and delegates. Metrics
// are updated unconditionally; an audit record is appended only when the
// caller's context demands it. A verification mismatch comes back as
// Success=false on the result, never as an error.
func (m *Manager) CryptoOperation(ctx context.Context, op CryptoOperation) (CryptoResult, error) {
	handle, err := m.GetKey(ctx, op.KeyID)
	if err != nil {
		return CryptoResult{}, err
	}
	provider, ok := m.registry.Get(handle.Provider)
	if !ok {
		return CryptoResult{}, fmt.Errorf("provider %s: %w", handle.Provider, ErrProviderUnavailable)
	}

	started := time.Now()
	result, opErr := await(ctx, m.timeout, func(ctx context.Context) (CryptoResult, error) {
		return provider.CryptoOperation(ctx, op)
	})
	elapsed := time.Since(started)

	ptype := provider.Type()
	m.metrics.Record(string(ptype), elapsed, opErr == nil && result.Success)

	if op.Context.AuditRequired {
		success := opErr == nil && result.Success
		detail := result.ErrorCode
		if opErr != nil {
			detail = opErr.Error()
		}
		if auditErr := m.trail.RecordCryptoOperation(ctx, string(op.Kind), op.KeyID,
			string(handle.Algorithm), string(ptype), success, detail, callerOf(op.Context)); auditErr != nil {
			m.logger.Error("audit write failed for crypto operation",
				"key_id", op.KeyID, "provider", ptype, "error", auditErr)
		}
	}

	if opErr != nil {
		return CryptoResult{}, wrapBackend(ptype, "crypto_operation", opErr)
	}
	return result, nil
}

// DeleteKey removes the key from its owning backend and records the deletion.
// Previously returned handle values stay valid as values; they simply no
// longer resolve.
func (m *Manager) DeleteKey(ctx context.Context, keyID string, opCtx OperationContext) error {
	handle, err := m.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	provider, ok := m.registry.Get(handle.Provider)
	if !ok {
		return fmt.Errorf("provider %s: %w", handle.Provider, ErrProviderUnavailable)
	}

	started := time.Now()
	_, delErr := await(ctx, m.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, provider.DeleteKey(ctx, keyID)
	})
	elapsed := time.Since(started)

	ptype := provider.Type()
	rec := audit.Record{
		Kind:          audit.KindKeyDeletion,
		KeyID:         keyID,
		Algorithm:     string(handle.Algorithm),
		Provider:      string(ptype),
		UserID:        opCtx.UserID,
		ApplicationID: opCtx.ApplicationID,
		SessionID:     opCtx.SessionID,
		Outcome:       audit.OutcomeSuccess,
	}
	if delErr != nil {
		rec.Outcome = audit.OutcomeFailed
		rec.Error = delErr.Error()
	}
	if auditErr := m.trail.Append(ctx, rec); auditErr != nil {
		m.logger.Error("audit write failed for key deletion",
			"key_id", keyID, "provider", ptype, "error", auditErr)
	}
	m.metrics.Record(string(ptype), elapsed, delErr == nil)

	if delErr != nil {
		return wrapBackend(ptype, "delete_key", delErr)
	}
	return nil
}

// ListKeys enumerates keys across every backend.
func (m *Manager) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	var all []KeyInfo
	for _, p := range m.registry.All() {
		infos, err := p.ListKeys(ctx)
		if err != nil {
			m.logger.Warn("key listing failed on provider",
				"provider", p.Type(), "error", err)
			continue
		}
		all = append(all, infos...)
	}
	return all, nil
}

// HealthCheck probes every provider concurrently. A provider that reports an
// error is logged and skipped so the caller still sees partial results.
func (m *Manager) HealthCheck(ctx context.Context) []HealthStatus {
	var (
		mu       sync.Mutex
		statuses []HealthStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.registry.All() {
		g.Go(func() error {
			status, err := p.HealthCheck(gctx)
			if err != nil {
				m.logger.Warn("health check failed",
					"provider", p.Type(), "error", err)
				return nil
			}
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

// AggregatedMetrics snapshots every provider that has recorded at least one
// operation. A provider with zero operations is absent from the result.
// Connection occupancy comes from the providers themselves; only they see
// their pools.
func (m *Manager) AggregatedMetrics() map[ProviderType]ProviderMetrics {
	snap := m.metrics.Snapshot()
	out := make(map[ProviderType]ProviderMetrics, len(snap))
	for name, pm := range snap {
		out[ProviderType(name)] = pm
	}
	for _, p := range m.registry.All() {
		agg, ok := out[p.Type()]
		if !ok {
			continue
		}
		pm := p.Metrics()
		agg.CurrentConnections = pm.CurrentConnections
		agg.MaxConnections = pm.MaxConnections
		out[p.Type()] = agg
	}
	return out
}

// AuditRecords exposes the recent ledger for the API surface.
func (m *Manager) AuditRecords(ctx context.Context, limit int) ([]audit.Record, error) {
	return m.trail.List(ctx, limit)
}

func (m *Manager) resolveProvider(alg PqcAlgorithm, preferred ProviderType) (Provider, error) {
	if preferred != "" {
		p, ok := m.registry.Get(preferred)
		if !ok {
			return nil, fmt.Errorf("preferred provider %s: %w", preferred, ErrProviderUnavailable)
		}
		return p, nil
	}
	return m.SelectProvider(alg)
}

func callerOf(opCtx OperationContext) audit.Caller {
	return audit.Caller{
		UserID:        opCtx.UserID,
		ApplicationID: opCtx.ApplicationID,
		SessionID:     opCtx.SessionID,
	}
}

// await races fn against the per-call deadline. On timeout the caller-visible
// result is abandoned; the backend call itself is not guaranteed to stop and
// may still complete afterward. The result channel is buffered so the
// straggler goroutine can finish and be collected.
func await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return zero, ErrOperationTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		ch <- outcome{v: v, err: err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, ErrOperationTimeout
		}
		return zero, cctx.Err()
	}
}
