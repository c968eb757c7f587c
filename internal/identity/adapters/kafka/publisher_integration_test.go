//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/identity/adapters/kafka"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
	"rollcall/pkg/testutil/containers"
)

type PublisherSuite struct {
	suite.Suite
	broker    *containers.RedpandaContainer
	publisher *kafka.Publisher
	topics    kafka.Topics
}

func TestPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
	s.topics = kafka.Topics{Notifications: "test.notifications", Events: "test.events"}
	p, err := kafka.NewPublisher(s.broker.Brokers, s.topics)
	s.Require().NoError(err)
	s.publisher = p

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(p.EnsureTopics(ctx, 1, 1))
	s.Require().NoError(p.EnsureTopics(ctx, 1, 1), "existing topics are not an error")
}

func (s *PublisherSuite) TearDownSuite() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}

func (s *PublisherSuite) consume(topic string, n int) []*kgo.Record {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var out []*kgo.Record
	for len(out) < n {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for records")
		fetches.EachRecord(func(r *kgo.Record) { out = append(out, r) })
	}
	return out
}

func (s *PublisherSuite) TestNotificationsAndEvents() {
	ctx := context.Background()
	c := &models.Conflict{
		ID:           id.NewConflictID(),
		PersonAID:    id.NewPersonID(),
		PersonBID:    id.NewPersonID(),
		PersonAEmail: "a@example.org",
		PersonBEmail: "b@example.org",
		PersonACode:  "AAAA1111",
		PersonBCode:  "BBBB2222",
		Priority:     models.PriorityHigh,
	}
	s.Require().NoError(s.publisher.SendConfirmation(ctx, c))
	s.Require().NoError(s.publisher.NotifyAdmin(ctx, ports.AdminNotice{Problem: "Merge failed", Source: "MergeEngine", Error: "boom"}))

	target := id.NewPersonID()
	s.Require().NoError(s.publisher.PublishMerged(ctx, ports.PersonMerged{
		AuditID: id.NewAuditID(), TargetPersonID: target, SourcePersonID: id.NewPersonID(), Actor: "admin",
	}))

	notes := s.consume(s.topics.Notifications, 2)
	var env kafka.Envelope
	s.Require().NoError(json.Unmarshal(notes[0].Value, &env))
	s.Equal(kafka.TypeConfirmation, env.Type)
	s.Equal(c.ID.String(), string(notes[0].Key))
	s.Contains(string(env.Data), "AAAA1111")

	events := s.consume(s.topics.Events, 1)
	s.Equal(target.String(), string(events[0].Key))
	s.Equal("type", events[0].Headers[0].Key)
	s.Equal(kafka.TypePersonMerged, string(events[0].Headers[0].Value))
}
