package livesync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// RedisBroker fans changes out across API instances with Redis pub/sub.
// Pub/sub is fire-and-forget: a subscriber that is disconnected while a
// change is published never sees it, which pollers tolerate.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to addr and checks the server answers.
func NewRedisBroker(ctx context.Context, addr string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", addr, err)
	}
	return &RedisBroker{client: client, prefix: "leal:"}, nil
}

func (b *RedisBroker) channel(topic string) string {
	return b.prefix + topic
}

func (b *RedisBroker) Publish(ctx context.Context, c loyalty.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	pipe := b.client.Pipeline()
	for _, topic := range topicsFor(c) {
		pipe.Publish(ctx, b.channel(topic), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan loyalty.Change, error) {
	sub := b.client.Subscribe(ctx, b.channel(topic))
	// Wait for the confirmation so no publish after Subscribe returns is lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan loyalty.Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var c loyalty.Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					log.WithError(err).WithField("channel", msg.Channel).Warn("bad change payload")
					continue
				}
				select {
				case out <- c:
				default:
					log.WithField("topic", topic).Debug("subscriber full, event dropped")
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
