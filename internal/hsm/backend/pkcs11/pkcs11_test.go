package pkcs11

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqkms/internal/hsm"
)

func fakeModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libsofthsm2.so")
	require.NoError(t, os.WriteFile(path, []byte("elf"), 0o644))
	return path
}

func TestNewValidatesConfig(t *testing.T) {
	module := fakeModule(t)

	_, err := New(Config{SlotPIN: "1234"}, nil)
	assert.ErrorIs(t, err, hsm.ErrConfiguration)

	_, err = New(Config{ModulePath: module}, nil)
	assert.ErrorIs(t, err, hsm.ErrConfiguration)

	_, err = New(Config{ModulePath: filepath.Join(t.TempDir(), "missing.so"), SlotPIN: "1234"}, nil)
	assert.ErrorIs(t, err, hsm.ErrConfiguration)

	p, err := New(Config{ModulePath: module, SlotPIN: "1234"}, nil)
	require.NoError(t, err)
	assert.Equal(t, hsm.ProviderPKCS11, p.Type())
}

func TestSupportsEverySuite(t *testing.T) {
	p, err := New(Config{ModulePath: fakeModule(t), SlotPIN: "1234"}, nil)
	require.NoError(t, err)

	for _, alg := range hsm.SupportedAlgorithms() {
		assert.True(t, p.Supports(alg), "expected support for %s", alg)
	}
}

func TestHealthCheckTracksModulePresence(t *testing.T) {
	ctx := context.Background()
	module := fakeModule(t)
	p, err := New(Config{ModulePath: module, SlotPIN: "1234"}, nil)
	require.NoError(t, err)

	status, err := p.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, hsm.HealthHealthy, status.State)

	require.NoError(t, os.Remove(module))
	status, err = p.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, hsm.HealthUnhealthy, status.State)
}

func TestGenerateOnToken(t *testing.T) {
	p, err := New(Config{ModulePath: fakeModule(t), SlotPIN: "1234"}, nil)
	require.NoError(t, err)

	handle, err := p.GeneratePQCKey(context.Background(), hsm.AlgDilithium3, "sig-1")
	require.NoError(t, err)
	assert.True(t, handle.HardwareBacked)
	assert.True(t, handle.FIPSCompliant)
}
