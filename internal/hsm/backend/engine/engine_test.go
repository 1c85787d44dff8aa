package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqkms/internal/hsm"
	"pqkms/internal/secmem"
)

func TestKEMKeyPairSizes(t *testing.T) {
	e := NewPQC()

	pair, err := e.GenerateKeyPair(hsm.AlgKyber1024)
	require.NoError(t, err)
	defer pair.Private.Close()

	assert.Len(t, pair.Public, MLKEMPublicKeySize)
	assert.Equal(t, MLKEMPrivateKeySize, pair.Private.Len())
	assert.Equal(t, 1024, pair.Bits)
}

func TestEncapsulateDecapsulate(t *testing.T) {
	e := NewPQC()
	pair, err := e.GenerateKeyPair(hsm.AlgKyber1024)
	require.NoError(t, err)
	defer pair.Private.Close()

	ciphertext, shared, err := e.Encapsulate(hsm.AlgKyber1024, pair.Public)
	require.NoError(t, err)
	assert.Len(t, ciphertext, MLKEMCiphertextSize)
	assert.Len(t, shared, MLKEMSharedKeySize)

	recovered, err := e.Decapsulate(hsm.AlgKyber1024, pair.Private, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, shared, recovered)

	_, _, err = e.Encapsulate(hsm.AlgKyber1024, []byte("short"))
	assert.Error(t, err)

	_, err = e.Decapsulate(hsm.AlgKyber1024, pair.Private, []byte("short"))
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	e := NewPQC()
	pair, err := e.GenerateKeyPair(hsm.AlgDilithium3)
	require.NoError(t, err)
	defer pair.Private.Close()

	assert.Len(t, pair.Public, MLDSAPublicKeySize)

	message := []byte("settlement batch 77")
	signature, err := e.Sign(hsm.AlgDilithium3, pair.Private, message)
	require.NoError(t, err)
	assert.Len(t, signature, MLDSASignatureSize)

	ok, err := e.Verify(hsm.AlgDilithium3, pair.Public, message, signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Verify(hsm.AlgDilithium3, pair.Public, []byte("settlement batch 78"), signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeriveIsDeterministic(t *testing.T) {
	e := NewPQC()
	secret := secmem.FromBytes([]byte("shared-secret-material"))
	defer secret.Close()

	a, err := e.Derive(secret, []byte("salt"), []byte("ctx"), 48)
	require.NoError(t, err)
	assert.Len(t, a, 48)

	b, err := e.Derive(secret, []byte("salt"), []byte("ctx"), 48)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Derive(secret, []byte("salt"), []byte("other"), 48)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Zero length falls back to the 32-byte default.
	d, err := e.Derive(secret, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, d, 32)
}

func TestUnsupportedAlgorithms(t *testing.T) {
	e := NewPQC()

	_, err := e.GenerateKeyPair(hsm.AlgSphincsSha256128s)
	assert.ErrorIs(t, err, hsm.ErrUnsupportedAlgorithm)

	_, _, err = e.Encapsulate(hsm.AlgDilithium3, nil)
	assert.ErrorIs(t, err, hsm.ErrUnsupportedAlgorithm)

	_, err = e.Sign(hsm.AlgKyber1024, secmem.FromBytes(nil), nil)
	assert.ErrorIs(t, err, hsm.ErrUnsupportedAlgorithm)

	_, err = e.Verify(hsm.AlgHybridEcdsaDilithium, nil, nil, nil)
	assert.ErrorIs(t, err, hsm.ErrUnsupportedAlgorithm)
}

func TestWipedKeyMaterialIsRejected(t *testing.T) {
	e := NewPQC()

	kem, err := e.GenerateKeyPair(hsm.AlgKyber1024)
	require.NoError(t, err)
	ciphertext, _, err := e.Encapsulate(hsm.AlgKyber1024, kem.Public)
	require.NoError(t, err)

	sig, err := e.GenerateKeyPair(hsm.AlgDilithium3)
	require.NoError(t, err)

	// A key deleted underneath an in-flight operation surfaces as not found,
	// never as corrupted material.
	require.NoError(t, kem.Private.Close())
	require.NoError(t, sig.Private.Close())

	_, err = e.Decapsulate(hsm.AlgKyber1024, kem.Private, ciphertext)
	assert.ErrorIs(t, err, hsm.ErrKeyNotFound)

	_, err = e.Sign(hsm.AlgDilithium3, sig.Private, []byte("msg"))
	assert.ErrorIs(t, err, hsm.ErrKeyNotFound)

	_, err = e.Derive(kem.Private, nil, nil, 32)
	assert.ErrorIs(t, err, hsm.ErrKeyNotFound)
}
