//go:build integration

package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"checkline/internal/compliance/models"
	"checkline/internal/dispatch"
	"checkline/internal/platform/kafka"
	"checkline/pkg/testutil/containers"
)

type KafkaDispatchSuite struct {
	suite.Suite
	broker   *containers.RedpandaContainer
	producer *kgo.Client
	topic    string
}

func TestKafkaDispatchSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaDispatchSuite))
}

func (s *KafkaDispatchSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
	s.topic = "checkline.notifications.test"

	client, err := kgo.NewClient(kgo.SeedBrokers(s.broker.Brokers...))
	s.Require().NoError(err)
	s.producer = client

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(kafka.EnsureTopics(ctx, client, 1, 1, s.topic))
	s.Require().NoError(kafka.EnsureTopics(ctx, client, 1, 1, s.topic), "second call must tolerate existing topic")
}

func (s *KafkaDispatchSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *KafkaDispatchSuite) TestDispatchedRecordIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := dispatch.NewKafka(s.producer, s.topic)
	n := models.Notification{
		ID:                   "n-42",
		UserID:               "M1",
		CompletedChecklistID: "cl-7",
		Message:              "Tess reported 1 non-conformity",
		Timestamp:            time.Now().UTC().Truncate(time.Second),
	}
	s.Require().NoError(d.Dispatch(ctx, n))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got *kgo.Record
	for got == nil && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) {
			if got == nil && string(r.Key) == "M1" {
				got = r
			}
		})
	}
	s.Require().NotNil(got)

	var ev dispatch.Event
	s.Require().NoError(json.Unmarshal(got.Value, &ev))
	s.Equal("n-42", ev.NotificationID)
	s.Equal("cl-7", ev.CompletedChecklistID)
}
