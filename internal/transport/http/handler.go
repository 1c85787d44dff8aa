// Package httpapi is the thin HTTP layer over the HSM manager. Handlers
// decode, delegate, and encode; no orchestration logic lives here.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/audit"
	"pqkms/internal/hsm/pool"
)

// Manager is the orchestration surface the HTTP layer consumes.
type Manager interface {
	GeneratePQCKey(ctx context.Context, alg hsm.PqcAlgorithm, keyID string, preferred hsm.ProviderType, opCtx hsm.OperationContext) (hsm.KeyHandle, error)
	GetKey(ctx context.Context, keyID string) (hsm.KeyHandle, error)
	CryptoOperation(ctx context.Context, op hsm.CryptoOperation) (hsm.CryptoResult, error)
	DeleteKey(ctx context.Context, keyID string, opCtx hsm.OperationContext) error
	ListKeys(ctx context.Context) ([]hsm.KeyInfo, error)
	HealthCheck(ctx context.Context) []hsm.HealthStatus
	AggregatedMetrics() map[hsm.ProviderType]hsm.ProviderMetrics
	AuditRecords(ctx context.Context, limit int) ([]audit.Record, error)
}

// Handler serves the key management API.
type Handler struct {
	manager Manager
	logger  *slog.Logger
}

// New creates the API handler.
func New(manager Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Router wires the public endpoints. The Prometheus gatherer backs /metrics.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/keys", h.handleGenerateKey)
	r.Get("/keys", h.handleListKeys)
	r.Get("/keys/{keyID}", h.handleGetKey)
	r.Delete("/keys/{keyID}", h.handleDeleteKey)
	r.Post("/operations", h.handleOperation)
	r.Get("/health", h.handleHealth)
	r.Get("/audit", h.handleAudit)
	r.Get("/providers/metrics", h.handleProviderMetrics)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

type generateKeyRequest struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	Provider  string `json:"provider,omitempty"`

	callerFields
}

type callerFields struct {
	UserID        string `json:"user_id"`
	ApplicationID string `json:"application_id"`
	SessionID     string `json:"session_id,omitempty"`
}

func (c callerFields) operationContext(auditRequired bool) hsm.OperationContext {
	return hsm.OperationContext{
		UserID:        c.UserID,
		ApplicationID: c.ApplicationID,
		SessionID:     c.SessionID,
		Timestamp:     time.Now().UTC(),
		AuditRequired: auditRequired,
	}
}

type keyHandleResponse struct {
	KeyID          string     `json:"key_id"`
	Algorithm      string     `json:"algorithm"`
	Provider       string     `json:"provider"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	KeySizeBits    int        `json:"key_size_bits"`
	HardwareBacked bool       `json:"hardware_backed"`
	FIPSCompliant  bool       `json:"fips_compliant"`
}

func handleResponse(kh hsm.KeyHandle) keyHandleResponse {
	return keyHandleResponse{
		KeyID:          kh.KeyID,
		Algorithm:      string(kh.Algorithm),
		Provider:       string(kh.Provider),
		CreatedAt:      kh.CreatedAt,
		ExpiresAt:      kh.ExpiresAt,
		KeySizeBits:    kh.KeySizeBits,
		HardwareBacked: kh.HardwareBacked,
		FIPSCompliant:  kh.FIPSCompliant,
	}
}

func (h *Handler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.KeyID == "" || req.Algorithm == "" {
		writeBadRequest(w, "key_id and algorithm are required")
		return
	}

	handle, err := h.manager.GeneratePQCKey(
		r.Context(),
		hsm.PqcAlgorithm(req.Algorithm),
		req.KeyID,
		hsm.ProviderType(req.Provider),
		req.operationContext(true),
	)
	if err != nil {
		h.logger.WarnContext(r.Context(), "key generation failed",
			"key_id", req.KeyID,
			"algorithm", req.Algorithm,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handleResponse(handle))
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	handle, err := h.manager.GetKey(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handleResponse(handle))
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.manager.ListKeys(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

type deleteKeyRequest struct {
	callerFields
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	var req deleteKeyRequest
	// Caller identity in the body is optional on delete.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.manager.DeleteKey(r.Context(), chi.URLParam(r, "keyID"), req.operationContext(true)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type operationRequest struct {
	Kind  string `json:"kind"`
	KeyID string `json:"key_id"`
	Data  string `json:"data,omitempty"`

	Signature string `json:"signature,omitempty"`
	Salt      string `json:"salt,omitempty"`
	Info      string `json:"info,omitempty"`
	OutputLen int    `json:"output_len,omitempty"`

	AuditRequired bool `json:"audit_required"`

	callerFields
}

type operationResponse struct {
	OperationID string  `json:"operation_id"`
	Success     bool    `json:"success"`
	Data        string  `json:"data,omitempty"`
	ErrorCode   string  `json:"error_code,omitempty"`
	DurationMs  int64   `json:"duration_ms"`
	Throughput  float64 `json:"throughput_bytes_per_sec"`
}

func (h *Handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Kind == "" || req.KeyID == "" {
		writeBadRequest(w, "kind and key_id are required")
		return
	}

	data, err := decodeB64(req.Data)
	if err != nil {
		writeBadRequest(w, "data must be base64")
		return
	}
	signature, err := decodeB64(req.Signature)
	if err != nil {
		writeBadRequest(w, "signature must be base64")
		return
	}
	salt, err := decodeB64(req.Salt)
	if err != nil {
		writeBadRequest(w, "salt must be base64")
		return
	}
	info, err := decodeB64(req.Info)
	if err != nil {
		writeBadRequest(w, "info must be base64")
		return
	}

	result, err := h.manager.CryptoOperation(r.Context(), hsm.CryptoOperation{
		Kind:  hsm.OperationKind(req.Kind),
		KeyID: req.KeyID,
		Data:  data,
		Params: hsm.AlgorithmParams{
			Signature: signature,
			Salt:      salt,
			Info:      info,
			OutputLen: req.OutputLen,
		},
		Context: req.operationContext(req.AuditRequired),
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "crypto operation failed",
			"kind", req.Kind,
			"key_id", req.KeyID,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, operationResponse{
		OperationID: result.OperationID,
		Success:     result.Success,
		Data:        base64.StdEncoding.EncodeToString(result.Data),
		ErrorCode:   result.ErrorCode,
		DurationMs:  result.Duration.Milliseconds(),
		Throughput:  result.Metrics.ThroughputPerSec,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := h.manager.HealthCheck(r.Context())

	overall := http.StatusOK
	for _, s := range statuses {
		if s.State == hsm.HealthUnhealthy || s.State == hsm.HealthUnreachable {
			overall = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, overall, map[string]any{"providers": statuses})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.manager.AuditRecords(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleProviderMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.manager.AggregatedMetrics()})
}

func decodeB64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError translates domain errors into HTTP responses so every handler
// produces the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hsm.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hsm.ErrUnsupportedAlgorithm), errors.Is(err, hsm.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, hsm.ErrPolicyViolation):
		status = http.StatusForbidden
	case errors.Is(err, pool.ErrExhausted), errors.Is(err, hsm.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, hsm.ErrOperationTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
