package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30, cfg.HSM.TimeoutSeconds)
	assert.Equal(t, 3, cfg.HSM.MaxRetries)
	assert.False(t, cfg.HSM.CloudHSM.Enabled)
	assert.Equal(t, "us-east-1", cfg.HSM.CloudHSM.Region)
	assert.Equal(t, "memory", cfg.Audit.Store)
	assert.Empty(t, cfg.Audit.KafkaBrokers)
	assert.Equal(t, "pqkms.audit.records", cfg.Audit.KafkaTopic)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PQKMS_ADDR", ":9443")
	t.Setenv("PQKMS_TIMEOUT_SECONDS", "5")
	t.Setenv("PQKMS_CLOUDHSM_ENABLED", "true")
	t.Setenv("PQKMS_CLOUDHSM_CLUSTER_ID", "cluster-1")
	t.Setenv("PQKMS_VAULT_ENABLED", "1")
	t.Setenv("PQKMS_VAULT_URL", "https://vault.example")
	t.Setenv("PQKMS_AUDIT_STORE", "redis")
	t.Setenv("PQKMS_AUDIT_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")

	cfg := FromEnv()

	assert.Equal(t, ":9443", cfg.Addr)
	assert.Equal(t, 5, cfg.HSM.TimeoutSeconds)
	assert.True(t, cfg.HSM.CloudHSM.Enabled)
	assert.Equal(t, "cluster-1", cfg.HSM.CloudHSM.ClusterID)
	assert.True(t, cfg.HSM.Vault.Enabled)
	assert.Equal(t, "redis", cfg.Audit.Store)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Audit.KafkaBrokers)
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("PQKMS_TIMEOUT_SECONDS", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, 30, cfg.HSM.TimeoutSeconds)
}
