//go:build integration

package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"partnerhub/internal/orderevent/models"
	"partnerhub/internal/orderevent/outbox"
	"partnerhub/internal/platform/postgres"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/testutil/containers"
)

type OutboxPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.PostgresStore
	tx       *postgres.TxRunner
}

func TestOutboxPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxPostgresSuite))
}

func (s *OutboxPostgresSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = outbox.NewPostgres(s.postgres.Pool)
	s.tx = postgres.NewTxRunner(s.postgres.Pool, 5*time.Second)
}

func (s *OutboxPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "order_event_outbox"))
}

func (s *OutboxPostgresSuite) event(at time.Time) models.OrderEvent {
	meta := models.NewMetadata(
		models.Entry{Key: "zeta", Value: models.Int(1)},
		models.Entry{Key: "alpha", Value: models.String("a")},
	)
	event, err := models.NewOrderEvent(id.NewEventID(), models.OrderSnapshot{
		OrderID: id.NewOrderID(),
		Status:  models.StatusDelivered,
	}, "courier", meta, at)
	s.Require().NoError(err)
	return event
}

type producerFunc func(ctx context.Context, key, value []byte, headers map[string]string) error

func (f producerFunc) Produce(ctx context.Context, key, value []byte, headers map[string]string) error {
	return f(ctx, key, value, headers)
}

func (s *OutboxPostgresSuite) TestAppendIsIdempotent() {
	ctx := context.Background()
	event := s.event(time.Now())
	publisher := outbox.NewPublisher(s.store)

	s.Require().NoError(publisher.Publish(ctx, event))
	s.Require().NoError(publisher.Publish(ctx, event))

	pending, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(uuid.UUID(event.ID()), pending[0].ID)
}

func (s *OutboxPostgresSuite) TestPayloadKeepsMetadataOrder() {
	ctx := context.Background()
	event := s.event(time.Now())
	s.Require().NoError(outbox.NewPublisher(s.store).Publish(ctx, event))

	pending, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	var decoded models.OrderEvent
	s.Require().NoError(json.Unmarshal(pending[0].Payload, &decoded))
	s.Equal([]string{"zeta", "alpha"}, decoded.Metadata().Keys())
}

func (s *OutboxPostgresSuite) TestRolledBackTransitionLeavesNoEntry() {
	ctx := context.Background()
	publisher := outbox.NewPublisher(s.store)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		s.Require().NoError(publisher.Publish(txCtx, s.event(time.Now())))
		return errors.New("order update failed")
	})
	s.Require().Error(err)

	pending, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *OutboxPostgresSuite) TestRelayMarksPublishedAndRetriesFailures() {
	ctx := context.Background()
	now := time.Now().UTC()
	ok := s.event(now)
	failing := s.event(now.Add(time.Millisecond))
	publisher := outbox.NewPublisher(s.store)
	s.Require().NoError(publisher.Publish(ctx, ok))
	s.Require().NoError(publisher.Publish(ctx, failing))

	var mu sync.Mutex
	var produced []string
	producer := producerFunc(func(_ context.Context, _, _ []byte, headers map[string]string) error {
		if headers[outbox.HeaderEventID] == failing.ID().String() {
			return errors.New("broker unavailable")
		}
		mu.Lock()
		produced = append(produced, headers[outbox.HeaderEventID])
		mu.Unlock()
		return nil
	})
	relay, err := outbox.NewRelay(s.store, producer, outbox.WithTxRunner(s.tx))
	s.Require().NoError(err)

	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal([]string{ok.ID().String()}, produced)

	pending, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(uuid.UUID(failing.ID()), pending[0].ID)
	s.Equal(1, pending[0].Attempts)
	s.Contains(pending[0].LastError, "broker unavailable")
}

func (s *OutboxPostgresSuite) TestConcurrentRelaysSkipLockedRows() {
	ctx := context.Background()
	publisher := outbox.NewPublisher(s.store)
	for i := 0; i < 20; i++ {
		s.Require().NoError(publisher.Publish(ctx, s.event(time.Now().Add(time.Duration(i)*time.Millisecond))))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	producer := producerFunc(func(_ context.Context, _, _ []byte, headers map[string]string) error {
		mu.Lock()
		seen[headers[outbox.HeaderEventID]]++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay, err := outbox.NewRelay(s.store, producer, outbox.WithTxRunner(s.tx), outbox.WithBatchSize(5))
			if err != nil {
				return
			}
			for {
				n, err := relay.RelayOnce(ctx)
				if err != nil || n == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	s.Len(seen, 20)
	for eventID, count := range seen {
		s.Equal(1, count, "event %s produced more than once", eventID)
	}
}
