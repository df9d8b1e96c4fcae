// Package events publishes user status changes to Kafka so other services
// (notifications, analytics) can react without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
)

// StatusChanged is the message value, JSON encoded.
type StatusChanged struct {
	ID       string       `json:"id"`
	ChangeID string       `json:"changeId"`
	UserID   int64        `json:"userId"`
	From     model.Status `json:"from"`
	To       model.Status `json:"to"`
	ActorID  int64        `json:"actorId"`
	At       time.Time    `json:"at"`
}

// NewStatusChanged wraps an audit row in an event with a fresh id.
func NewStatusChanged(c *model.StatusChange) StatusChanged {
	return StatusChanged{
		ID:       uuid.NewString(),
		ChangeID: c.ID,
		UserID:   c.UserID,
		From:     c.From,
		To:       c.To,
		ActorID:  c.ActorID,
		At:       c.At,
	}
}

// Publisher delivers status change events.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
	Close() error
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, StatusChanged) error { return nil }
func (NopPublisher) Close() error { return nil }

// KafkaPublisher sends events through a synchronous producer. Messages are
// keyed by user id so every change for one user lands on the same partition
// and consumers see them in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher connects a SyncProducer to cfg.Brokers.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	// Required by SyncProducer.
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("events: creating kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithProducer uses an existing producer; tests pass a mock.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, ev StatusChanged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encoding status change: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(ev.UserID, 10)),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("events: publishing status change of user %d: %w", ev.UserID, err)
	}

	p.logger.Debug("status change published",
		"user_id", ev.UserID,
		"to", ev.To,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
