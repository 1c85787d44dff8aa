// Package audit is the compliance ledger for key-management actions. Records
// are append-only: no update or delete API exists, and retention/archival is
// handled downstream, never here.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Record kinds.
const (
	KindKeyGeneration   = "key_generation"
	KindCryptoOperation = "crypto_operation"
	KindKeyDeletion     = "key_deletion"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Record is one immutable ledger entry. Fields are plain strings so stores
// and sinks stay transport-agnostic.
type Record struct {
	ID        string
	Kind      string
	KeyID     string
	Algorithm string
	Provider  string
	Operation string

	// Caller identity, copied from the operation context. Never originated
	// by the orchestration layer.
	UserID        string
	ApplicationID string
	SessionID     string

	Outcome   string
	Error     string
	Timestamp time.Time
}

// Store persists records. Implementations must be safe for concurrent
// appenders. List returns the most recent limit records in chronological
// order; a non-positive limit returns the whole ledger.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// Publisher mirrors records to an external sink (e.g. the compliance Kafka
// topic). Mirroring is best-effort; the store remains the ledger of record.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Trail appends records to the store and optionally mirrors them.
type Trail struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// Option configures a Trail.
type Option func(*Trail)

// WithPublisher mirrors every appended record to p.
func WithPublisher(p Publisher) Option {
	return func(t *Trail) {
		t.publisher = p
	}
}

// WithLogger sets the trail's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

// NewTrail creates a Trail backed by store.
func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append stamps the record and writes it to the ledger. A publisher failure
// is logged but does not fail the append; the store is authoritative.
func (t *Trail) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := t.store.Append(ctx, rec); err != nil {
		return err
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, rec); err != nil {
			t.logger.Warn("audit mirror publish failed",
				"record_id", rec.ID, "error", err)
		}
	}
	return nil
}

// List returns the most recent records, newest last, up to limit.
func (t *Trail) List(ctx context.Context, limit int) ([]Record, error) {
	return t.store.List(ctx, limit)
}

// Caller identifies who triggered an action.
type Caller struct {
	UserID        string
	ApplicationID string
	SessionID     string
}

// RecordKeyGeneration appends exactly one ledger entry for a key-generation
// attempt, success or failure.
func (t *Trail) RecordKeyGeneration(ctx context.Context, keyID, algorithm, provider string, failure error, caller Caller) error {
	rec := Record{
		Kind:          KindKeyGeneration,
		KeyID:         keyID,
		Algorithm:     algorithm,
		Provider:      provider,
		UserID:        caller.UserID,
		ApplicationID: caller.ApplicationID,
		SessionID:     caller.SessionID,
		Outcome:       OutcomeSuccess,
	}
	if failure != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = failure.Error()
	}
	return t.Append(ctx, rec)
}

// RecordCryptoOperation appends one ledger entry for a crypto operation.
// A completed-but-mismatched operation records OutcomeFailed with the
// operation's error code.
func (t *Trail) RecordCryptoOperation(ctx context.Context, operation, keyID, algorithm, provider string, success bool, errDetail string, caller Caller) error {
	rec := Record{
		Kind:          KindCryptoOperation,
		KeyID:         keyID,
		Algorithm:     algorithm,
		Provider:      provider,
		Operation:     operation,
		UserID:        caller.UserID,
		ApplicationID: caller.ApplicationID,
		SessionID:     caller.SessionID,
		Outcome:       OutcomeSuccess,
	}
	if !success {
		rec.Outcome = OutcomeFailed
		rec.Error = errDetail
	}
	return t.Append(ctx, rec)
}
