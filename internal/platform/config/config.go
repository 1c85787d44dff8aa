package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the full pqkms configuration tree. All values come from the
// environment so main stays lean; subsystems receive only the slice they need.
type Config struct {
	Addr string

	HSM   HSM
	Audit Audit
}

// HSM configures the orchestration layer and its backends.
type HSM struct {
	// TimeoutSeconds bounds every single backend call made by the manager.
	TimeoutSeconds int

	// MaxRetries is declared for parity with the platform configuration
	// surface. The orchestration layer makes exactly one attempt per call;
	// retry policy belongs to callers.
	MaxRetries int

	CloudHSM CloudHSM
	Vault    Vault
	PKCS11   PKCS11
	SoftHSM  SoftHSM
}

// CloudHSM configures the cloud HSM cluster backend.
type CloudHSM struct {
	Enabled   bool
	ClusterID string
	Region    string
	PoolSize  int
}

// Vault configures the managed key vault backend.
type Vault struct {
	Enabled      bool
	URL          string
	TenantID     string
	ClientID     string
	ClientSecret string
	PoolSize     int
}

// PKCS11 configures the generic hardware token backend.
type PKCS11 struct {
	Enabled    bool
	ModulePath string
	SlotPIN    string
	PoolSize   int
}

// SoftHSM configures the software-only backend.
type SoftHSM struct {
	Enabled bool
}

// Audit selects the ledger store and optional Kafka mirroring.
type Audit struct {
	// Store is one of "memory", "postgres", "redis".
	Store       string
	PostgresDSN string
	RedisURL    string

	// KafkaBrokers, when non-empty, mirrors every record to KafkaTopic.
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Addr: envOr("PQKMS_ADDR", ":8080"),
		HSM: HSM{
			TimeoutSeconds: envInt("PQKMS_TIMEOUT_SECONDS", 30),
			MaxRetries:     envInt("PQKMS_MAX_RETRIES", 3),
			CloudHSM: CloudHSM{
				Enabled:   envBool("PQKMS_CLOUDHSM_ENABLED"),
				ClusterID: os.Getenv("PQKMS_CLOUDHSM_CLUSTER_ID"),
				Region:    envOr("PQKMS_CLOUDHSM_REGION", "us-east-1"),
				PoolSize:  envInt("PQKMS_CLOUDHSM_POOL_SIZE", 10),
			},
			Vault: Vault{
				Enabled:      envBool("PQKMS_VAULT_ENABLED"),
				URL:          os.Getenv("PQKMS_VAULT_URL"),
				TenantID:     os.Getenv("PQKMS_VAULT_TENANT_ID"),
				ClientID:     os.Getenv("PQKMS_VAULT_CLIENT_ID"),
				ClientSecret: os.Getenv("PQKMS_VAULT_CLIENT_SECRET"),
				PoolSize:     envInt("PQKMS_VAULT_POOL_SIZE", 15),
			},
			PKCS11: PKCS11{
				Enabled:    envBool("PQKMS_PKCS11_ENABLED"),
				ModulePath: os.Getenv("PQKMS_PKCS11_MODULE_PATH"),
				SlotPIN:    os.Getenv("PQKMS_PKCS11_PIN"),
				PoolSize:   envInt("PQKMS_PKCS11_POOL_SIZE", 8),
			},
			SoftHSM: SoftHSM{
				Enabled: envBool("PQKMS_SOFTHSM_ENABLED"),
			},
		},
		Audit: Audit{
			Store:        envOr("PQKMS_AUDIT_STORE", "memory"),
			PostgresDSN:  os.Getenv("PQKMS_AUDIT_POSTGRES_DSN"),
			RedisURL:     os.Getenv("PQKMS_AUDIT_REDIS_URL"),
			KafkaBrokers: splitNonEmpty(os.Getenv("PQKMS_AUDIT_KAFKA_BROKERS")),
			KafkaTopic:   envOr("PQKMS_AUDIT_KAFKA_TOPIC", "pqkms.audit.records"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	}
	return false
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
