package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/dto"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
	"github.com/IBM/sarama"
)

const DefaultTopic = "game.notification_due"

// NewSyncProducer creates a producer that waits for all in-sync replicas
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Publisher writes "notification due" messages to a kafka topic keyed by game id
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *types.Logger
}

func NewPublisher(producer sarama.SyncProducer, topic string, logger *types.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = types.Nop()
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, msg dto.NotificationDue) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte("notification_type"), Value: []byte(msg.NotificationType)},
	}
	if msg.ExpirationMs != nil {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte("expiration_ms"),
			Value: []byte(strconv.FormatInt(*msg.ExpirationMs, 10)),
		})
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(msg.GameID),
		Value:     sarama.ByteEncoder(data),
		Headers:   headers,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to send notification to kafka: %w", err)
	}

	p.logger.Debugf("Notification delivered (topic=%s, partition=%d, offset=%d, game_id=%s)", p.topic, partition, offset, msg.GameID)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
