package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

// EventPublisher writes committed ladder events to the events topic.
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ service.Publisher = (*EventPublisher)(nil)

// NewSyncProducer creates a producer that waits for every replica in sync
func NewSyncProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return producer, nil
}

// NewEventPublisher creates a publisher on top of a sync producer
func NewEventPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish sends an event keyed so that events about one challenge stay ordered
func (p *EventPublisher) Publish(_ context.Context, event domain.LadderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("sending event: %w", err)
	}

	p.logger.Debug("published ladder event",
		"type", event.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close flushes and closes the producer
func (p *EventPublisher) Close() error {
	return p.producer.Close()
}

// ResultSubmitter writes match results to the results topic.
type ResultSubmitter struct {
	producer sarama.SyncProducer
	topic    string
}

// NewResultSubmitter creates a submitter on top of a sync producer
func NewResultSubmitter(producer sarama.SyncProducer, topic string) *ResultSubmitter {
	return &ResultSubmitter{producer: producer, topic: topic}
}

// Submit sends a result keyed by challenge, so results for one challenge are consumed in order
func (s *ResultSubmitter) Submit(result domain.ResultMessage) error {
	if result.ChallengeID == "" {
		return errors.New("result has no challenge_id")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(result.ChallengeID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("sending result: %w", err)
	}
	return nil
}

// Close flushes and closes the producer
func (s *ResultSubmitter) Close() error {
	return s.producer.Close()
}
