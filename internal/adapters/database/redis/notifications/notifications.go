package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/dto"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel = "game.notification_due"
	keyPrefix      = "notification_due:"
)

// Publisher hands "notification due" messages to subscribers of a redis channel.
//
// Messages with a TTL are also stored under notification_due:<schedule id> so
// late consumers can tell whether a message is still relevant.
type Publisher struct {
	redis   *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		redis:   client,
		channel: channel,
	}
}

func (p *Publisher) Publish(ctx context.Context, msg dto.NotificationDue) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pipe := p.redis.TxPipeline()
	if ttl := msg.TTL(); ttl > 0 {
		pipe.Set(ctx, key(msg.ScheduleID), payload, ttl)
	}
	pipe.Publish(ctx, p.channel, payload)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Get returns a stored message, false when it expired or was never stored
func (p *Publisher) Get(ctx context.Context, scheduleID string) (dto.NotificationDue, bool, error) {
	payload, err := p.redis.Get(ctx, key(scheduleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dto.NotificationDue{}, false, nil
	}
	if err != nil {
		return dto.NotificationDue{}, false, err
	}

	var msg dto.NotificationDue
	if err = json.Unmarshal(payload, &msg); err != nil {
		return dto.NotificationDue{}, false, err
	}
	return msg, true, nil
}

func (p *Publisher) Channel() string {
	return p.channel
}

func key(scheduleID string) string {
	return keyPrefix + scheduleID
}
