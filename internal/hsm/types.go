package hsm

import (
	"time"

	"pqkms/internal/hsm/metrics"
)

// PqcAlgorithm identifies a supported post-quantum algorithm. It is a closed
// set and doubles as the routing key for provider selection.
type PqcAlgorithm string

const (
	// AlgKyber1024 is the ML-KEM-1024 key encapsulation mechanism.
	AlgKyber1024 PqcAlgorithm = "kyber-1024"
	// AlgDilithium3 is the ML-DSA-65 signature scheme.
	AlgDilithium3 PqcAlgorithm = "dilithium-3"
	// AlgSphincsSha256128s is the SPHINCS+-SHA256-128s hash-based signature scheme.
	AlgSphincsSha256128s PqcAlgorithm = "sphincs+-sha256-128s"
	// AlgHybridRsaKyber combines RSA key transport with ML-KEM encapsulation.
	AlgHybridRsaKyber PqcAlgorithm = "hybrid-rsa-kyber"
	// AlgHybridEcdsaDilithium combines ECDSA with ML-DSA signatures.
	AlgHybridEcdsaDilithium PqcAlgorithm = "hybrid-ecdsa-dilithium"
)

// SupportedAlgorithms lists every algorithm the platform recognizes.
func SupportedAlgorithms() []PqcAlgorithm {
	return []PqcAlgorithm{
		AlgKyber1024,
		AlgDilithium3,
		AlgSphincsSha256128s,
		AlgHybridRsaKyber,
		AlgHybridEcdsaDilithium,
	}
}

// AlgorithmKind classifies an algorithm for routing purposes.
type AlgorithmKind string

const (
	KindKEM       AlgorithmKind = "kem"
	KindSignature AlgorithmKind = "signature"
	KindHybrid    AlgorithmKind = "hybrid"
	KindUnknown   AlgorithmKind = "unknown"
)

// Kind returns the routing class of the algorithm.
func (a PqcAlgorithm) Kind() AlgorithmKind {
	switch a {
	case AlgKyber1024:
		return KindKEM
	case AlgDilithium3, AlgSphincsSha256128s:
		return KindSignature
	case AlgHybridRsaKyber, AlgHybridEcdsaDilithium:
		return KindHybrid
	default:
		return KindUnknown
	}
}

// ProviderType identifies a backend implementation.
type ProviderType string

const (
	ProviderCloudHSM ProviderType = "cloudhsm"
	ProviderVault    ProviderType = "vault"
	ProviderPKCS11   ProviderType = "pkcs11"
	ProviderSoftHSM  ProviderType = "softhsm"
)

// KeyUsagePolicy restricts what a key may be used for. Attached at creation
// and read-only afterward.
type KeyUsagePolicy struct {
	CanEncrypt bool
	CanDecrypt bool
	CanSign    bool
	CanVerify  bool
	CanDerive  bool
	CanExport  bool

	// MaxUses is an optional usage quota; zero means unlimited.
	MaxUses uint64

	AllowedUsers        []string
	AllowedApplications []string
}

// Permits reports whether the policy allows the operation kind.
func (p KeyUsagePolicy) Permits(kind OperationKind) bool {
	switch kind {
	case OpEncrypt, OpKeyWrap:
		return p.CanEncrypt
	case OpDecrypt, OpKeyUnwrap:
		return p.CanDecrypt
	case OpSign:
		return p.CanSign
	case OpVerify:
		return p.CanVerify
	case OpKeyDerive:
		return p.CanDerive
	default:
		return false
	}
}

// AllowsCaller reports whether the policy's allow-lists admit the caller.
// An empty list or a "*" entry admits everyone.
func (p KeyUsagePolicy) AllowsCaller(userID, applicationID string) bool {
	return listAllows(p.AllowedUsers, userID) &&
		listAllows(p.AllowedApplications, applicationID)
}

func listAllows(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if entry == "*" || entry == id {
			return true
		}
	}
	return false
}

// DefaultUsagePolicy permits general-purpose use without export or derivation.
func DefaultUsagePolicy() KeyUsagePolicy {
	return KeyUsagePolicy{
		CanEncrypt:          true,
		CanDecrypt:          true,
		CanSign:             true,
		CanVerify:           true,
		AllowedUsers:        []string{"*"},
		AllowedApplications: []string{"*"},
	}
}

// KEMUsagePolicy permits encapsulation, decapsulation, and deriving session
// keys from decapsulated secrets.
func KEMUsagePolicy() KeyUsagePolicy {
	return KeyUsagePolicy{
		CanEncrypt:          true,
		CanDecrypt:          true,
		CanDerive:           true,
		AllowedUsers:        []string{"*"},
		AllowedApplications: []string{"*"},
	}
}

// SigningOnlyPolicy permits sign/verify only.
func SigningOnlyPolicy() KeyUsagePolicy {
	return KeyUsagePolicy{
		CanSign:             true,
		CanVerify:           true,
		AllowedUsers:        []string{"*"},
		AllowedApplications: []string{"*"},
	}
}

// KeyHandle references a key held by a backend. Created once by a successful
// generation call and never mutated; the backend owns the underlying material,
// callers only hold the reference.
type KeyHandle struct {
	KeyID     string
	Algorithm PqcAlgorithm
	Provider  ProviderType
	CreatedAt time.Time
	// ExpiresAt is nil for non-expiring keys; when set it is strictly after
	// CreatedAt.
	ExpiresAt      *time.Time
	KeySizeBits    int
	UsagePolicy    KeyUsagePolicy
	HardwareBacked bool
	FIPSCompliant  bool
}

// OperationKind enumerates the cryptographic operations a backend performs.
type OperationKind string

const (
	OpEncrypt   OperationKind = "encrypt"
	OpDecrypt   OperationKind = "decrypt"
	OpSign      OperationKind = "sign"
	OpVerify    OperationKind = "verify"
	OpKeyDerive OperationKind = "derive"
	OpKeyWrap   OperationKind = "wrap"
	OpKeyUnwrap OperationKind = "unwrap"
)

// AlgorithmParams carries per-operation parameters such as mode, salt or the
// signature to check during verification.
type AlgorithmParams struct {
	Mode      string
	Salt      []byte
	IV        []byte
	Info      []byte
	Signature []byte
	// OutputLen sizes derived material; zero uses the backend default.
	OutputLen int
}

// OperationContext identifies who is asking and whether the action must be
// recorded. It is supplied by calling subsystems; the core never fabricates
// user, application, or session identity.
type OperationContext struct {
	UserID        string
	ApplicationID string
	SessionID     string
	Timestamp     time.Time
	AuditRequired bool
}

// CryptoOperation is a request to operate on a stored key.
type CryptoOperation struct {
	Kind    OperationKind
	KeyID   string
	Data    []byte
	Params  AlgorithmParams
	Context OperationContext
}

// CryptoResult reports the outcome of a crypto operation. A verification
// mismatch is Success=false with an ErrorCode; it is not an error return,
// so "completed but the data did not match" stays distinguishable from
// "could not be performed".
type CryptoResult struct {
	Data        []byte
	OperationID string
	Duration    time.Duration
	Success     bool
	ErrorCode   string
	Metrics     OperationMetrics
}

// OperationMetrics holds per-operation timing detail.
type OperationMetrics struct {
	LatencyMs        int64
	ThroughputPerSec float64
}

// KeyStatus reflects the lifecycle state of a stored key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusExpired KeyStatus = "expired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// KeyInfo is the listing view of a stored key.
type KeyInfo struct {
	KeyID      string
	Algorithm  PqcAlgorithm
	CreatedAt  time.Time
	LastUsed   *time.Time
	UsageCount uint64
	SizeBits   int
	Status     KeyStatus
}

// HealthState classifies backend availability.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnhealthy   HealthState = "unhealthy"
	HealthUnreachable HealthState = "unreachable"
)

// HealthStatus is one backend's health report.
type HealthStatus struct {
	Provider     ProviderType
	State        HealthState
	ResponseTime time.Duration
	LastCheck    time.Time
	Detail       string
}

// ProviderMetrics re-exports the metrics snapshot type so callers of the
// manager do not need to import the metrics package directly.
type ProviderMetrics = metrics.ProviderMetrics
