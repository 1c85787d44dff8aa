//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"pqkms/internal/hsm/audit"
)

func TestKafkaPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "pqkms.audit.records"
	pub, err := audit.NewKafkaPublisher([]string{broker}, topic)
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	rec := audit.Record{
		ID:        uuid.NewString(),
		Kind:      audit.KindKeyGeneration,
		KeyID:     "key-1",
		Algorithm: "kyber-1024",
		Provider:  "cloudhsm",
		UserID:    "user-1",
		Outcome:   audit.OutcomeSuccess,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, pub.Publish(ctx, rec))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)

	// Records are keyed by key_id so per-key ordering survives partitioning.
	assert.Equal(t, []byte("key-1"), records[0].Key)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &payload))
	assert.Equal(t, rec.ID, payload["id"])
	assert.Equal(t, audit.KindKeyGeneration, payload["kind"])
	assert.Equal(t, "kyber-1024", payload["algorithm"])
	assert.Equal(t, audit.OutcomeSuccess, payload["outcome"])
}
