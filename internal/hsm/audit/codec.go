package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireRecord is the JSON shape shared by the redis store and the Kafka
// mirror, so downstream consumers see one format regardless of transport.
type wireRecord struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	KeyID         string `json:"key_id"`
	Algorithm     string `json:"algorithm"`
	Provider      string `json:"provider"`
	Operation     string `json:"operation,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func marshalRecord(rec Record) ([]byte, error) {
	payload, err := json.Marshal(wireRecord{
		ID:            rec.ID,
		Kind:          rec.Kind,
		KeyID:         rec.KeyID,
		Algorithm:     rec.Algorithm,
		Provider:      rec.Provider,
		Operation:     rec.Operation,
		UserID:        rec.UserID,
		ApplicationID: rec.ApplicationID,
		SessionID:     rec.SessionID,
		Outcome:       rec.Outcome,
		Error:         rec.Error,
		Timestamp:     rec.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit record: %w", err)
	}
	return payload, nil
}

func unmarshalRecord(data []byte) (Record, error) {
	var wr wireRecord
	if err := json.Unmarshal(data, &wr); err != nil {
		return Record{}, fmt.Errorf("decode audit record: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, wr.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("decode audit timestamp: %w", err)
	}
	return Record{
		ID:            wr.ID,
		Kind:          wr.Kind,
		KeyID:         wr.KeyID,
		Algorithm:     wr.Algorithm,
		Provider:      wr.Provider,
		Operation:     wr.Operation,
		UserID:        wr.UserID,
		ApplicationID: wr.ApplicationID,
		SessionID:     wr.SessionID,
		Outcome:       wr.Outcome,
		Error:         wr.Error,
		Timestamp:     ts,
	}, nil
}
