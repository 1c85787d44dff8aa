//go:build integration

package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"pqkms/internal/hsm/audit"
)

type RedisStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	store     *audit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	store, err := audit.OpenRedisStore(ctx, url)
	s.Require().NoError(err)
	s.store = store
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	for i := range 4 {
		rec := audit.Record{
			ID:        uuid.NewString(),
			Kind:      audit.KindCryptoOperation,
			KeyID:     fmt.Sprintf("key-%d", i),
			Algorithm: "dilithium-3",
			Provider:  "vault",
			Operation: "sign",
			UserID:    "user-1",
			Outcome:   audit.OutcomeSuccess,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		}
		s.Require().NoError(s.store.Append(ctx, rec))
	}

	records, err := s.store.List(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	// Tail of the list, oldest first, with every field surviving the trip.
	s.Equal("key-2", records[0].KeyID)
	s.Equal("key-3", records[1].KeyID)
	s.Equal("sign", records[0].Operation)
	s.Equal("vault", records[0].Provider)
	s.Equal(ts.Add(2*time.Second), records[0].Timestamp)

	all, err := s.store.List(ctx, 0)
	s.Require().NoError(err)
	s.Len(all, 4)
}
