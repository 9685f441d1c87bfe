package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	rediscommon "github.com/hellocng/deepstack-sub002/common/redis"
)

// RedisSubscriber listens to waitlist change channels and forwards events to the Hub
type RedisSubscriber struct {
	redis *rediscommon.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *rediscommon.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Start listens on every partition channel until ctx is cancelled
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, notifier.ChannelPattern)
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", notifier.ChannelPattern, err)
	}

	s.log.Info("redis subscription confirmed", "pattern", notifier.ChannelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}

			partition, err := route(msg.Channel, []byte(msg.Payload))
			if err != nil {
				s.log.Warn("dropping change event", "channel", msg.Channel, "error", err)
				continue
			}

			s.hub.Broadcast(partition, []byte(msg.Payload))
		}
	}
}

// route returns the partition key an event belongs to. The channel suffix
// and the payload must agree.
// Example: "waitlist:changed:bellagio:nlh-2-5" → "bellagio:nlh-2-5"
func route(channel string, payload []byte) (string, error) {
	key, ok := strings.CutPrefix(channel, notifier.ChannelPrefix)
	if !ok || key == "" {
		return "", fmt.Errorf("unexpected channel %q", channel)
	}

	ev, err := notifier.Decode(payload)
	if err != nil {
		return "", err
	}

	if !ev.Partition().Valid() || ev.Partition().Key() != key {
		return "", fmt.Errorf("event for %s published on %s", ev.Partition().Key(), channel)
	}

	return key, nil
}
