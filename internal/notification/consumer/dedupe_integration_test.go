//go:build integration

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"partnerhub/pkg/testutil/containers"
)

type RedisDeduperSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisDeduperSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisDeduperSuite))
}

func (s *RedisDeduperSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisDeduperSuite) TestFirstSeenAcrossInstances() {
	ctx := context.Background()
	eventID := uuid.NewString()
	a := NewRedisDeduper(s.redis.Client, time.Minute)
	b := NewRedisDeduper(s.redis.Client, time.Minute)

	first, err := a.FirstSeen(ctx, eventID)
	s.Require().NoError(err)
	s.True(first)

	again, err := b.FirstSeen(ctx, eventID)
	s.Require().NoError(err)
	s.False(again)

	s.Require().NoError(b.Forget(ctx, eventID))
	retry, err := a.FirstSeen(ctx, eventID)
	s.Require().NoError(err)
	s.True(retry)

	ttl, err := s.redis.Client.TTL(ctx, dedupeKeyPrefix+eventID).Result()
	s.Require().NoError(err)
	s.InDelta(time.Minute.Seconds(), ttl.Seconds(), 2)
}
