// Package backend holds the machinery shared by the provider
// implementations: key bookkeeping, pooled session checkout, per-backend
// aggregates, and the dispatch from operation kinds to engine calls. The
// provider packages layer configuration, authentication, and health checks
// on top.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/backend/engine"
	"pqkms/internal/hsm/backend/keystore"
	"pqkms/internal/hsm/metrics"
	"pqkms/internal/hsm/pool"
)

// ErrorCodeVerificationFailed marks a verification that completed but did
// not match. It travels in CryptoResult, never as an error return.
const ErrorCodeVerificationFailed = "verification_failed"

// Config assembles a Core.
type Config struct {
	Provider  hsm.ProviderType
	Engine    engine.Engine
	Pool      *pool.Pool
	Supported []hsm.PqcAlgorithm

	HardwareBacked bool
	FIPSCompliant  bool

	// KeyTTL bounds key lifetime; zero disables expiry.
	KeyTTL time.Duration
}

// Core implements the provider capabilities that do not differ between
// backends. Provider packages embed it and add Type-specific health checks.
type Core struct {
	provider  hsm.ProviderType
	engine    engine.Engine
	pool      *pool.Pool
	keys      *keystore.Store
	stats     *metrics.Stats
	supported map[hsm.PqcAlgorithm]struct{}

	hardwareBacked bool
	fipsCompliant  bool
	keyTTL         time.Duration
}

// NewCore builds the shared backend state.
func NewCore(cfg Config) *Core {
	supported := make(map[hsm.PqcAlgorithm]struct{}, len(cfg.Supported))
	for _, alg := range cfg.Supported {
		supported[alg] = struct{}{}
	}
	return &Core{
		provider:       cfg.Provider,
		engine:         cfg.Engine,
		pool:           cfg.Pool,
		keys:           keystore.New(),
		stats:          metrics.NewStats(string(cfg.Provider)),
		supported:      supported,
		hardwareBacked: cfg.HardwareBacked,
		fipsCompliant:  cfg.FIPSCompliant,
		keyTTL:         cfg.KeyTTL,
	}
}

// Type reports the backend identity.
func (c *Core) Type() hsm.ProviderType {
	return c.provider
}

// Supports reports whether the backend serves the algorithm.
func (c *Core) Supports(alg hsm.PqcAlgorithm) bool {
	_, ok := c.supported[alg]
	return ok
}

// GeneratePQCKey creates a key pair and registers it under keyID. The
// attached usage policy follows the algorithm class: KEM keys may
// encapsulate, decapsulate, and derive; signature keys may sign and verify.
func (c *Core) GeneratePQCKey(ctx context.Context, alg hsm.PqcAlgorithm, keyID string) (hsm.KeyHandle, error) {
	if err := ctx.Err(); err != nil {
		return hsm.KeyHandle{}, err
	}
	if !c.Supports(alg) {
		return hsm.KeyHandle{}, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}

	start := time.Now()
	conn, err := c.checkout()
	if err != nil {
		c.stats.Record(time.Since(start), false)
		return hsm.KeyHandle{}, err
	}
	defer c.checkin(conn)

	pair, err := c.engine.GenerateKeyPair(alg)
	if err != nil {
		c.stats.Record(time.Since(start), false)
		return hsm.KeyHandle{}, err
	}

	now := time.Now().UTC()
	handle := hsm.KeyHandle{
		KeyID:          keyID,
		Algorithm:      alg,
		Provider:       c.provider,
		CreatedAt:      now,
		KeySizeBits:    pair.Bits,
		UsagePolicy:    policyFor(alg),
		HardwareBacked: c.hardwareBacked,
		FIPSCompliant:  c.fipsCompliant,
	}
	if c.keyTTL > 0 {
		expires := now.Add(c.keyTTL)
		handle.ExpiresAt = &expires
	}

	entry := &keystore.Entry{Handle: handle, Private: pair.Private, Public: pair.Public}
	if err := c.keys.Put(entry); err != nil {
		if pair.Private != nil {
			_ = pair.Private.Close()
		}
		c.stats.Record(time.Since(start), false)
		return hsm.KeyHandle{}, err
	}

	c.stats.Record(time.Since(start), true)
	return handle, nil
}

func policyFor(alg hsm.PqcAlgorithm) hsm.KeyUsagePolicy {
	switch alg.Kind() {
	case hsm.KindKEM:
		return hsm.KEMUsagePolicy()
	case hsm.KindSignature:
		return hsm.SigningOnlyPolicy()
	default:
		return hsm.DefaultUsagePolicy()
	}
}

// GetKey returns the handle stored under keyID.
func (c *Core) GetKey(_ context.Context, keyID string) (hsm.KeyHandle, error) {
	return c.keys.Handle(keyID)
}

// CryptoOperation executes op against the named key. Policy and quota are
// enforced before any session is checked out.
func (c *Core) CryptoOperation(ctx context.Context, op hsm.CryptoOperation) (hsm.CryptoResult, error) {
	if err := ctx.Err(); err != nil {
		return hsm.CryptoResult{}, err
	}

	start := time.Now()
	entry, err := c.keys.Use(op.KeyID, op.Kind, op.Context)
	if err != nil {
		c.stats.Record(time.Since(start), false)
		return hsm.CryptoResult{}, err
	}

	conn, err := c.checkout()
	if err != nil {
		c.stats.Record(time.Since(start), false)
		return hsm.CryptoResult{}, err
	}
	defer c.checkin(conn)

	result, err := c.dispatch(entry, op)
	elapsed := time.Since(start)
	c.stats.Record(elapsed, err == nil && result.Success)
	if err != nil {
		return hsm.CryptoResult{}, err
	}

	result.OperationID = uuid.NewString()
	result.Duration = elapsed
	result.Metrics = hsm.OperationMetrics{
		LatencyMs:        elapsed.Milliseconds(),
		ThroughputPerSec: throughput(len(op.Data), elapsed),
	}
	return result, nil
}

// dispatch maps the operation kind onto engine calls. Encrypt against a KEM
// key is encapsulation and returns ciphertext followed by the shared secret;
// decrypt is decapsulation and returns the shared secret. Wrap and unwrap
// reuse the same paths.
func (c *Core) dispatch(entry *keystore.Entry, op hsm.CryptoOperation) (hsm.CryptoResult, error) {
	alg := entry.Handle.Algorithm

	switch op.Kind {
	case hsm.OpEncrypt, hsm.OpKeyWrap:
		ciphertext, shared, err := c.engine.Encapsulate(alg, entry.Public)
		if err != nil {
			return hsm.CryptoResult{}, err
		}
		return hsm.CryptoResult{Data: append(ciphertext, shared...), Success: true}, nil

	case hsm.OpDecrypt, hsm.OpKeyUnwrap:
		shared, err := c.engine.Decapsulate(alg, entry.Private, op.Data)
		if err != nil {
			return hsm.CryptoResult{}, err
		}
		return hsm.CryptoResult{Data: shared, Success: true}, nil

	case hsm.OpSign:
		signature, err := c.engine.Sign(alg, entry.Private, op.Data)
		if err != nil {
			return hsm.CryptoResult{}, err
		}
		return hsm.CryptoResult{Data: signature, Success: true}, nil

	case hsm.OpVerify:
		ok, err := c.engine.Verify(alg, entry.Public, op.Data, op.Params.Signature)
		if err != nil {
			return hsm.CryptoResult{}, err
		}
		if !ok {
			return hsm.CryptoResult{Success: false, ErrorCode: ErrorCodeVerificationFailed}, nil
		}
		return hsm.CryptoResult{Success: true}, nil

	case hsm.OpKeyDerive:
		derived, err := c.engine.Derive(entry.Private, op.Params.Salt, op.Params.Info, op.Params.OutputLen)
		if err != nil {
			return hsm.CryptoResult{}, err
		}
		return hsm.CryptoResult{Data: derived, Success: true}, nil

	default:
		return hsm.CryptoResult{}, fmt.Errorf("operation %s: %w", op.Kind, hsm.ErrUnsupportedAlgorithm)
	}
}

// DeleteKey removes the key and wipes its material.
func (c *Core) DeleteKey(_ context.Context, keyID string) error {
	return c.keys.Delete(keyID)
}

// ListKeys enumerates stored keys.
func (c *Core) ListKeys(ctx context.Context) ([]hsm.KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.keys.List(ctx), nil
}

// Metrics snapshots the backend aggregates with current pool occupancy.
func (c *Core) Metrics() hsm.ProviderMetrics {
	if c.pool != nil {
		live, max := c.pool.Stats()
		c.stats.SetConnections(live, max)
	}
	return c.stats.Snapshot()
}

// KeyCount reports how many keys the backend holds. Health checks use it as
// a capacity signal.
func (c *Core) KeyCount() int {
	return c.keys.Len()
}

func (c *Core) checkout() (*pool.Conn, error) {
	if c.pool == nil {
		return nil, nil
	}
	return c.pool.Get()
}

func (c *Core) checkin(conn *pool.Conn) {
	if c.pool != nil && conn != nil {
		c.pool.Put(conn)
	}
}

func throughput(bytes int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / d.Seconds()
}
