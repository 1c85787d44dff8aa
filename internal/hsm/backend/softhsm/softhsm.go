// Package softhsm is the software-only backend. Key material lives in
// process memory and operations run on the local engine, so it carries no
// hardware or FIPS claims. It backs development, tests, and the lowest rung
// of every selection ranking.
package softhsm

import (
	"context"
	"fmt"
	"time"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/backend"
	"pqkms/internal/hsm/backend/engine"
	"pqkms/internal/hsm/pool"
)

const (
	defaultPoolSize = 4
	keyTTL          = 365 * 24 * time.Hour
)

// Provider implements hsm.Provider on the local engine.
type Provider struct {
	*backend.Core
}

// New builds the software backend. A nil engine selects the built-in one.
func New(eng engine.Engine) *Provider {
	if eng == nil {
		eng = engine.NewPQC()
	}
	return &Provider{
		Core: backend.NewCore(backend.Config{
			Provider: hsm.ProviderSoftHSM,
			Engine:   eng,
			Pool:     pool.New(defaultPoolSize),
			Supported: []hsm.PqcAlgorithm{
				hsm.AlgKyber1024,
				hsm.AlgDilithium3,
			},
			KeyTTL: keyTTL,
		}),
	}
}

// HealthCheck always reports healthy: the backend is in-process, so
// reachability is not a failure mode.
func (p *Provider) HealthCheck(ctx context.Context) (hsm.HealthStatus, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hsm.HealthStatus{}, err
	}
	return hsm.HealthStatus{
		Provider:     hsm.ProviderSoftHSM,
		State:        hsm.HealthHealthy,
		ResponseTime: time.Since(start),
		LastCheck:    time.Now().UTC(),
		Detail:       fmt.Sprintf("%d keys held", p.KeyCount()),
	}, nil
}
