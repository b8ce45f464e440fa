package main

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/engine/streambus"
)

// RedisSubscriber listens to the engine's event mirror channels and
// forwards events to the Hub.
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log.WithComponent("subscriber"),
	}
}

// Start begins listening to the mirror's pubsub channels. One pattern
// subscription covers every execution.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pattern := streambus.ChannelKeyPrefix + "*"
	pubsub := s.redis.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for confirmation that the subscription succeeded
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.log.Info("redis subscription confirmed", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return nil

		case msg := <-ch:
			if msg == nil {
				continue
			}

			executionID := strings.TrimPrefix(msg.Channel, streambus.ChannelKeyPrefix)
			if executionID == "" || executionID == msg.Channel {
				s.log.Warn("unexpected channel format", "channel", msg.Channel)
				continue
			}

			s.hub.broadcast <- &Message{
				ExecutionID: executionID,
				Data:        []byte(msg.Payload),
			}
		}
	}
}
