// Package kafka publishes notifications and identity events to Kafka. A
// mailer service consumes the notification topic; downstream systems consume
// the event topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
)

// Message types carried in the "type" header and payload field.
const (
	TypeConfirmation = "conflict.confirmation"
	TypeAdminNotice  = "admin.notice"
	TypePersonMerged = "person.merged"
)

// Envelope is the payload of every record.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type confirmation struct {
	ConflictID   string `json:"conflict_id"`
	PersonAID    string `json:"person_a_id"`
	PersonBID    string `json:"person_b_id"`
	PersonAEmail string `json:"person_a_email"`
	PersonBEmail string `json:"person_b_email"`
	PersonACode  string `json:"person_a_code"`
	PersonBCode  string `json:"person_b_code"`
	Priority     string `json:"priority"`
}

type adminNotice struct {
	Problem string            `json:"problem"`
	Source  string            `json:"source"`
	Details map[string]string `json:"details,omitempty"`
	Error   string            `json:"error,omitempty"`
	Report  string            `json:"report,omitempty"`
}

// Topics names where each kind of record goes.
type Topics struct {
	Notifications string
	Events        string
}

// Publisher implements ports.Notifier and ports.EventPublisher.
type Publisher struct {
	client *kgo.Client
	topics Topics
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher connects a producer to brokers.
func NewPublisher(brokers []string, topics Topics, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topics.Notifications == "" || topics.Events == "" {
		return nil, errors.New("kafka: notification and event topics are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	p := &Publisher{client: client, topics: topics, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopics creates both topics when missing.
func (p *Publisher) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, p.topics.Notifications, p.topics.Events)
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Ping checks broker connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Publisher) SendConfirmation(ctx context.Context, c *models.Conflict) error {
	return p.produce(ctx, p.topics.Notifications, TypeConfirmation, c.ID.String(), confirmation{
		ConflictID:   c.ID.String(),
		PersonAID:    c.PersonAID.String(),
		PersonBID:    c.PersonBID.String(),
		PersonAEmail: c.PersonAEmail,
		PersonBEmail: c.PersonBEmail,
		PersonACode:  c.PersonACode,
		PersonBCode:  c.PersonBCode,
		Priority:     string(c.Priority),
	})
}

func (p *Publisher) NotifyAdmin(ctx context.Context, notice ports.AdminNotice) error {
	return p.produce(ctx, p.topics.Notifications, TypeAdminNotice, notice.Source, adminNotice{
		Problem: notice.Problem,
		Source:  notice.Source,
		Details: notice.Details,
		Error:   notice.Error,
		Report:  notice.Report,
	})
}

// PublishMerged keys the record by the surviving person so events for one
// identity stay ordered.
func (p *Publisher) PublishMerged(ctx context.Context, evt ports.PersonMerged) error {
	return p.produce(ctx, p.topics.Events, TypePersonMerged, evt.TargetPersonID.String(), evt)
}

func (p *Publisher) produce(ctx context.Context, topic, msgType, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", msgType, err)
	}
	value, err := json.Marshal(Envelope{Type: msgType, OccurredAt: p.now().UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("kafka: encode envelope: %w", err)
	}
	rec := &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "type", Value: []byte(msgType)}},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "kafka produce failed",
				"topic", topic,
				"type", msgType,
				"error", err,
			)
		}
		return fmt.Errorf("kafka: produce %s: %w", msgType, err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}
