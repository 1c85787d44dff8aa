package cloudhsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqkms/internal/hsm"
)

func TestNewRequiresClusterID(t *testing.T) {
	_, err := New(Config{Region: "eu-central-1"})
	assert.ErrorIs(t, err, hsm.ErrConfiguration)
}

func TestNewDefaults(t *testing.T) {
	p, err := New(Config{ClusterID: "cluster-1"})
	require.NoError(t, err)
	assert.Equal(t, hsm.ProviderCloudHSM, p.Type())
	assert.True(t, p.Supports(hsm.AlgKyber1024))
	assert.True(t, p.Supports(hsm.AlgSphincsSha256128s))
	assert.False(t, p.Supports(hsm.AlgHybridRsaKyber))
}

func TestGeneratedKeysAreHardwareBacked(t *testing.T) {
	p, err := New(Config{ClusterID: "cluster-1"})
	require.NoError(t, err)

	handle, err := p.GeneratePQCKey(context.Background(), hsm.AlgDilithium3, "sig-1")
	require.NoError(t, err)
	assert.True(t, handle.HardwareBacked)
	assert.True(t, handle.FIPSCompliant)
	assert.Equal(t, hsm.ProviderCloudHSM, handle.Provider)
}

func TestHealthCheckUsesProbe(t *testing.T) {
	ctx := context.Background()

	p, err := New(Config{ClusterID: "cluster-1"})
	require.NoError(t, err)
	status, err := p.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, hsm.HealthHealthy, status.State)
	assert.Contains(t, status.Detail, "cluster-1")

	p, err = New(Config{ClusterID: "cluster-1"},
		WithClusterProbe(func(context.Context) error {
			return errors.New("no route to cluster")
		}))
	require.NoError(t, err)
	status, err = p.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, hsm.HealthUnhealthy, status.State)
	assert.Contains(t, status.Detail, "no route to cluster")
}

func TestPoolBoundsSessions(t *testing.T) {
	p, err := New(Config{ClusterID: "cluster-1", PoolSize: 2})
	require.NoError(t, err)

	_, err = p.GeneratePQCKey(context.Background(), hsm.AlgKyber1024, "kem-1")
	require.NoError(t, err)

	pm := p.Metrics()
	assert.Equal(t, 2, pm.MaxConnections)
}
