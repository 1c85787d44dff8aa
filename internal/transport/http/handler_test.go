package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/audit"
	"pqkms/internal/hsm/pool"
	"pqkms/internal/platform/logger"
)

type fakeManager struct {
	genHandle hsm.KeyHandle
	genErr    error
	lastAlg   hsm.PqcAlgorithm
	lastPref  hsm.ProviderType
	lastOpCtx hsm.OperationContext

	opResult hsm.CryptoResult
	opErr    error
	lastOp   hsm.CryptoOperation

	getErr    error
	deleteErr error
	health    []hsm.HealthStatus
	records   []audit.Record
}

func (f *fakeManager) GeneratePQCKey(_ context.Context, alg hsm.PqcAlgorithm, keyID string, preferred hsm.ProviderType, opCtx hsm.OperationContext) (hsm.KeyHandle, error) {
	f.lastAlg, f.lastPref, f.lastOpCtx = alg, preferred, opCtx
	if f.genErr != nil {
		return hsm.KeyHandle{}, f.genErr
	}
	h := f.genHandle
	h.KeyID = keyID
	return h, nil
}

func (f *fakeManager) GetKey(context.Context, string) (hsm.KeyHandle, error) {
	return f.genHandle, f.getErr
}

func (f *fakeManager) CryptoOperation(_ context.Context, op hsm.CryptoOperation) (hsm.CryptoResult, error) {
	f.lastOp = op
	return f.opResult, f.opErr
}

func (f *fakeManager) DeleteKey(context.Context, string, hsm.OperationContext) error {
	return f.deleteErr
}

func (f *fakeManager) ListKeys(context.Context) ([]hsm.KeyInfo, error) {
	return []hsm.KeyInfo{{KeyID: "key-1"}}, nil
}

func (f *fakeManager) HealthCheck(context.Context) []hsm.HealthStatus {
	return f.health
}

func (f *fakeManager) AggregatedMetrics() map[hsm.ProviderType]hsm.ProviderMetrics {
	return map[hsm.ProviderType]hsm.ProviderMetrics{
		hsm.ProviderSoftHSM: {Provider: "softhsm", TotalOperations: 3},
	}
}

func (f *fakeManager) AuditRecords(context.Context, int) ([]audit.Record, error) {
	return f.records, nil
}

func newTestServer(t *testing.T, m Manager) *httptest.Server {
	t.Helper()
	h := New(m, logger.New())
	srv := httptest.NewServer(h.Router(prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateKey(t *testing.T) {
	now := time.Now().UTC()
	fm := &fakeManager{genHandle: hsm.KeyHandle{
		Algorithm: hsm.AlgKyber1024, Provider: hsm.ProviderCloudHSM,
		CreatedAt: now, KeySizeBits: 1024, HardwareBacked: true, FIPSCompliant: true,
	}}
	srv := newTestServer(t, fm)

	resp := postJSON(t, srv.URL+"/keys", map[string]any{
		"key_id":         "key-1",
		"algorithm":      "kyber-1024",
		"provider":       "cloudhsm",
		"user_id":        "user-1",
		"application_id": "app-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "key-1", body["key_id"])
	assert.Equal(t, "cloudhsm", body["provider"])
	assert.Equal(t, true, body["hardware_backed"])

	assert.Equal(t, hsm.AlgKyber1024, fm.lastAlg)
	assert.Equal(t, hsm.ProviderCloudHSM, fm.lastPref)
	assert.Equal(t, "user-1", fm.lastOpCtx.UserID)
	assert.True(t, fm.lastOpCtx.AuditRequired)
}

func TestGenerateKeyValidation(t *testing.T) {
	srv := newTestServer(t, &fakeManager{})

	resp := postJSON(t, srv.URL+"/keys", map[string]any{"algorithm": "kyber-1024"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(srv.URL+"/keys", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"key not found", hsm.ErrKeyNotFound, http.StatusNotFound},
		{"unsupported algorithm", hsm.ErrUnsupportedAlgorithm, http.StatusBadRequest},
		{"policy violation", hsm.ErrPolicyViolation, http.StatusForbidden},
		{"pool exhausted", pool.ErrExhausted, http.StatusServiceUnavailable},
		{"provider unavailable", hsm.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{"timeout", hsm.ErrOperationTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := &fakeManager{genErr: fmt.Errorf("wrapped: %w", tt.err)}
			srv := newTestServer(t, fm)

			resp := postJSON(t, srv.URL+"/keys", map[string]any{
				"key_id": "key-1", "algorithm": "kyber-1024",
			})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCryptoOperationRoundTrip(t *testing.T) {
	fm := &fakeManager{opResult: hsm.CryptoResult{
		Data:        []byte("signature-bytes"),
		OperationID: "op-1",
		Success:     true,
		Duration:    25 * time.Millisecond,
	}}
	srv := newTestServer(t, fm)

	resp := postJSON(t, srv.URL+"/operations", map[string]any{
		"kind":           "sign",
		"key_id":         "key-1",
		"data":           base64.StdEncoding.EncodeToString([]byte("message")),
		"audit_required": true,
		"user_id":        "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body operationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "op-1", body.OperationID)
	assert.True(t, body.Success)

	decoded, err := base64.StdEncoding.DecodeString(body.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("signature-bytes"), decoded)

	assert.Equal(t, hsm.OpSign, fm.lastOp.Kind)
	assert.Equal(t, []byte("message"), fm.lastOp.Data)
	assert.True(t, fm.lastOp.Context.AuditRequired)
}

func TestCryptoOperationRejectsBadBase64(t *testing.T) {
	srv := newTestServer(t, &fakeManager{})

	resp := postJSON(t, srv.URL+"/operations", map[string]any{
		"kind": "sign", "key_id": "key-1", "data": "not-base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerificationMismatchIsHTTP200(t *testing.T) {
	fm := &fakeManager{opResult: hsm.CryptoResult{
		Success: false, ErrorCode: "verification_failed", OperationID: "op-2",
	}}
	srv := newTestServer(t, fm)

	resp := postJSON(t, srv.URL+"/operations", map[string]any{
		"kind": "verify", "key_id": "key-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body operationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "verification_failed", body.ErrorCode)
}

func TestHealthEndpoint(t *testing.T) {
	fm := &fakeManager{health: []hsm.HealthStatus{
		{Provider: hsm.ProviderSoftHSM, State: hsm.HealthHealthy},
	}}
	srv := newTestServer(t, fm)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fm.health = append(fm.health, hsm.HealthStatus{
		Provider: hsm.ProviderCloudHSM, State: hsm.HealthUnreachable,
	})
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDeleteKey(t *testing.T) {
	srv := newTestServer(t, &fakeManager{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/keys/key-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAuditEndpoint(t *testing.T) {
	fm := &fakeManager{records: []audit.Record{{ID: "rec-1", Kind: audit.KindKeyGeneration}}}
	srv := newTestServer(t, fm)

	resp, err := http.Get(srv.URL + "/audit?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/audit?limit=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeManager{})

	resp, err := http.Get(srv.URL + "/providers/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]hsm.ProviderMetrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, uint64(3), body["providers"]["softhsm"].TotalOperations)
}

func TestPrometheusEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeManager{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
