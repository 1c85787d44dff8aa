package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"
)

// PostgresStore persists the ledger in a Postgres table. Only INSERT and
// SELECT are ever issued; the table carries no UPDATE/DELETE path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with the given DSN and verifies the connection.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the ledger table when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hsm_audit_records (
			id             UUID PRIMARY KEY,
			kind           TEXT NOT NULL,
			key_id         TEXT NOT NULL,
			algorithm      TEXT NOT NULL,
			provider       TEXT NOT NULL,
			operation      TEXT NOT NULL DEFAULT '',
			user_id        TEXT NOT NULL DEFAULT '',
			application_id TEXT NOT NULL DEFAULT '',
			session_id     TEXT NOT NULL DEFAULT '',
			outcome        TEXT NOT NULL,
			error          TEXT NOT NULL DEFAULT '',
			recorded_at    TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}

// Append inserts one record.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hsm_audit_records
			(id, kind, key_id, algorithm, provider, operation,
			 user_id, application_id, session_id, outcome, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Kind, rec.KeyID, rec.Algorithm, rec.Provider, rec.Operation,
		rec.UserID, rec.ApplicationID, rec.SessionID, rec.Outcome, rec.Error,
		rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns the most recent records, oldest first, up to limit.
// A non-positive limit returns everything.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, kind, key_id, algorithm, provider, operation,
		       user_id, application_id, session_id, outcome, error, recorded_at
		FROM hsm_audit_records
		ORDER BY recorded_at ASC`
	args := []any{}
	if limit > 0 {
		query = `
		SELECT id, kind, key_id, algorithm, provider, operation,
		       user_id, application_id, session_id, outcome, error, recorded_at
		FROM (
			SELECT * FROM hsm_audit_records ORDER BY recorded_at DESC LIMIT $1
		) recent
		ORDER BY recorded_at ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts time.Time
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.KeyID, &rec.Algorithm,
			&rec.Provider, &rec.Operation, &rec.UserID, &rec.ApplicationID,
			&rec.SessionID, &rec.Outcome, &rec.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
