package hsm

// Provider rankings per algorithm. Selection is a pure function of
// (algorithm, enabled provider set, optional preference): no stored state.
//
// KEM-class keys prefer the cloud HSM cluster, which has tuned lattice
// hardware; signature-class keys prefer the generic hardware token; SPHINCS+
// hash-based keys prefer the managed vault. The software backend is always
// the last resort.
var (
	kemRanking = []ProviderType{
		ProviderCloudHSM, ProviderPKCS11, ProviderVault, ProviderSoftHSM,
	}
	signatureRanking = []ProviderType{
		ProviderPKCS11, ProviderCloudHSM, ProviderVault, ProviderSoftHSM,
	}
	sphincsRanking = []ProviderType{
		ProviderVault, ProviderPKCS11, ProviderCloudHSM, ProviderSoftHSM,
	}
	defaultRanking = []ProviderType{
		ProviderCloudHSM, ProviderVault, ProviderPKCS11, ProviderSoftHSM,
	}
)

func rankingFor(alg PqcAlgorithm) []ProviderType {
	switch alg {
	case AlgKyber1024, AlgHybridRsaKyber:
		return kemRanking
	case AlgDilithium3, AlgHybridEcdsaDilithium:
		return signatureRanking
	case AlgSphincsSha256128s:
		return sphincsRanking
	default:
		return defaultRanking
	}
}

// SelectProvider resolves the backend for an algorithm: the first ranked
// type present in the registry. With no ranked backend enabled it returns
// ErrProviderUnavailable; it never panics, even on an empty registry.
func (m *Manager) SelectProvider(alg PqcAlgorithm) (Provider, error) {
	for _, t := range rankingFor(alg) {
		if p, ok := m.registry.Get(t); ok {
			return p, nil
		}
	}
	return nil, ErrProviderUnavailable
}
