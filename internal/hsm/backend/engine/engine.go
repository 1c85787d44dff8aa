// Package engine performs the raw post-quantum byte operations behind the
// backend implementations. Hardware-backed providers treat Engine as the
// vendor seam: production wiring swaps in the vendor SDK session, tests and
// the software backend use the circl implementation.
package engine

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/hkdf"

	"pqkms/internal/hsm"
	"pqkms/internal/secmem"
)

// ML-KEM-1024 and ML-DSA-65 wire sizes.
const (
	MLKEMPublicKeySize  = 1568
	MLKEMPrivateKeySize = 3168
	MLKEMCiphertextSize = 1568
	MLKEMSharedKeySize  = 32

	MLDSAPublicKeySize = 1952
	MLDSASignatureSize = 3309
)

// KeyPair is freshly generated key material. Private is wiped by the owning
// keystore entry when the key is deleted.
type KeyPair struct {
	Public  []byte
	Private *secmem.Secret
	Bits    int
}

// Engine is the byte-level crypto capability consumed by backends.
type Engine interface {
	GenerateKeyPair(alg hsm.PqcAlgorithm) (KeyPair, error)
	Encapsulate(alg hsm.PqcAlgorithm, public []byte) (ciphertext, shared []byte, err error)
	Decapsulate(alg hsm.PqcAlgorithm, private *secmem.Secret, ciphertext []byte) ([]byte, error)
	Sign(alg hsm.PqcAlgorithm, private *secmem.Secret, message []byte) ([]byte, error)
	Verify(alg hsm.PqcAlgorithm, public, message, signature []byte) (bool, error)
	Derive(secret *secmem.Secret, salt, info []byte, length int) ([]byte, error)
}

// PQC implements Engine with circl's NIST-standardized primitives:
// ML-KEM-1024 for the Kyber-class KEM and ML-DSA-65 for the Dilithium-class
// signature scheme. SPHINCS+ and the hybrid suites need hardware support and
// are not served here.
type PQC struct{}

// NewPQC returns the circl-backed engine.
func NewPQC() *PQC {
	return &PQC{}
}

func (e *PQC) GenerateKeyPair(alg hsm.PqcAlgorithm) (KeyPair, error) {
	switch alg {
	case hsm.AlgKyber1024:
		pub, priv, err := mlkem1024.GenerateKeyPair(rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("generate ml-kem key: %w", err)
		}
		pubBytes, _ := pub.MarshalBinary()
		privBytes, _ := priv.MarshalBinary()
		secret := secmem.FromBytes(privBytes)
		secmem.Wipe(privBytes)
		return KeyPair{Public: pubBytes, Private: secret, Bits: 1024}, nil

	case hsm.AlgDilithium3:
		pub, priv, err := mldsa65.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("generate ml-dsa key: %w", err)
		}
		pubBytes, _ := pub.MarshalBinary()
		privBytes, _ := priv.MarshalBinary()
		secret := secmem.FromBytes(privBytes)
		secmem.Wipe(privBytes)
		return KeyPair{Public: pubBytes, Private: secret, Bits: 2592}, nil

	default:
		return KeyPair{}, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}
}

func (e *PQC) Encapsulate(alg hsm.PqcAlgorithm, public []byte) ([]byte, []byte, error) {
	if alg != hsm.AlgKyber1024 {
		return nil, nil, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}
	if len(public) != MLKEMPublicKeySize {
		return nil, nil, fmt.Errorf("ml-kem public key has %d bytes, want %d", len(public), MLKEMPublicKeySize)
	}

	var pub mlkem1024.PublicKey
	pub.Unpack(public)

	ciphertext := make([]byte, MLKEMCiphertextSize)
	shared := make([]byte, MLKEMSharedKeySize)
	pub.EncapsulateTo(ciphertext, shared, nil)
	return ciphertext, shared, nil
}

func (e *PQC) Decapsulate(alg hsm.PqcAlgorithm, private *secmem.Secret, ciphertext []byte) ([]byte, error) {
	if alg != hsm.AlgKyber1024 {
		return nil, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}
	if len(ciphertext) != MLKEMCiphertextSize {
		return nil, fmt.Errorf("ml-kem ciphertext has %d bytes, want %d", len(ciphertext), MLKEMCiphertextSize)
	}

	material := private.Bytes()
	if material == nil {
		return nil, fmt.Errorf("ml-kem private key: %w", hsm.ErrKeyNotFound)
	}
	defer secmem.Wipe(material)

	var priv mlkem1024.PrivateKey
	if err := priv.Unpack(material); err != nil {
		return nil, fmt.Errorf("unpack ml-kem private key: %w", err)
	}

	shared := make([]byte, MLKEMSharedKeySize)
	priv.DecapsulateTo(shared, ciphertext)
	return shared, nil
}

func (e *PQC) Sign(alg hsm.PqcAlgorithm, private *secmem.Secret, message []byte) ([]byte, error) {
	if alg != hsm.AlgDilithium3 {
		return nil, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}

	material := private.Bytes()
	if material == nil {
		return nil, fmt.Errorf("ml-dsa private key: %w", hsm.ErrKeyNotFound)
	}
	defer secmem.Wipe(material)

	priv := new(mldsa65.PrivateKey)
	if err := priv.UnmarshalBinary(material); err != nil {
		return nil, fmt.Errorf("unpack ml-dsa private key: %w", err)
	}

	signature := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(priv, message, nil, false, signature); err != nil {
		return nil, fmt.Errorf("ml-dsa sign: %w", err)
	}
	return signature, nil
}

func (e *PQC) Verify(alg hsm.PqcAlgorithm, public, message, signature []byte) (bool, error) {
	if alg != hsm.AlgDilithium3 {
		return false, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}

	pub := new(mldsa65.PublicKey)
	if err := pub.UnmarshalBinary(public); err != nil {
		return false, fmt.Errorf("unpack ml-dsa public key: %w", err)
	}
	return mldsa65.Verify(pub, message, nil, signature), nil
}

// Derive expands a session key from the stored secret with HKDF-SHA-512.
func (e *PQC) Derive(secret *secmem.Secret, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	material := secret.Bytes()
	if material == nil {
		return nil, fmt.Errorf("derivation secret: %w", hsm.ErrKeyNotFound)
	}
	defer secmem.Wipe(material)

	reader := hkdf.New(sha512.New, material, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
