//go:build integration

package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"grcbridge/pkg/secrets"
	"grcbridge/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store func(clock *fakeClock) Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	pool := containers.NewPostgres(s.T())
	s.Require().NoError(EnsureSchema(context.Background(), pool))
	s.Require().NoError(EnsureSchema(context.Background(), pool), "schema must be idempotent")
	sealer, err := secrets.NewSealer("integration-key")
	s.Require().NoError(err)
	s.store = func(clock *fakeClock) Store {
		return NewPostgresStore(pool, sealer, WithClock(clock.Now))
	}
}

func (s *PostgresStoreSuite) TestContract() {
	runStoreContract(s.T(), func(_ *testing.T, clock *fakeClock) Store { return s.store(clock) }, true)
}

func (s *PostgresStoreSuite) TestTokenIsSealedAtRest() {
	ctx := context.Background()
	st := s.store(newFakeClock()).(*PostgresStore)
	sess, err := st.Create(ctx, "t1", testConn("t1"), "very-secret-token", DefaultTTL)
	s.Require().NoError(err)

	var raw []byte
	s.Require().NoError(st.pool.QueryRow(ctx, `SELECT token FROM archer_sessions WHERE id=$1`, sess.ID).Scan(&raw))
	s.NotContains(string(raw), "very-secret-token")
}

type RedisStoreSuite struct {
	suite.Suite
	rdb *redis.Client
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.rdb = containers.NewRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.rdb.FlushAll(context.Background()).Err())
}

func (s *RedisStoreSuite) TestContract() {
	runStoreContract(s.T(), func(_ *testing.T, clock *fakeClock) Store {
		return NewRedisStore(s.rdb, &secrets.Sealer{}, WithClock(clock.Now))
	}, false)
}

func (s *RedisStoreSuite) TestKeyOutlivesExpiryByRetention() {
	ctx := context.Background()
	clock := newFakeClock()
	st := NewRedisStore(s.rdb, &secrets.Sealer{}, WithClock(clock.Now), WithRetention(DefaultTTL))
	sess, err := st.Create(ctx, "t1", testConn("t1"), "tok", DefaultTTL)
	s.Require().NoError(err)

	ttl, err := s.rdb.PTTL(ctx, redisKey("t1", sess.ID)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, DefaultTTL)
	s.LessOrEqual(ttl, 2*DefaultTTL)
}
