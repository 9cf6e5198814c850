package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/appforge/common/logger"
	rediscommon "github.com/lyzr/appforge/common/redis"
)

// channelPrefix + projectID is the Redis channel carrying that project's events
const channelPrefix = "project:events:"

// RedisPublisher publishes events to Redis so every server instance can fan
// them out to its own room members
type RedisPublisher struct {
	redis *rediscommon.Client
}

// NewRedisPublisher creates a publisher backed by Redis pub/sub
func NewRedisPublisher(redis *rediscommon.Client) *RedisPublisher {
	return &RedisPublisher{redis: redis}
}

// Publish encodes the event envelope and publishes it on the project's channel
func (p *RedisPublisher) Publish(ctx context.Context, projectID string, eventType Type, payload any) error {
	ev, err := New(projectID, eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.redis.Publish(ctx, channelPrefix+projectID, data)
}

// RedisSubscriber listens to project channels and forwards events to the local hub
type RedisSubscriber struct {
	redis *rediscommon.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redis *rediscommon.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redis,
		hub:   hub,
		log:   log,
	}
}

// Start subscribes to project:events:* and forwards until ctx is cancelled
func (s *RedisSubscriber) Start(ctx context.Context) error {
	return s.redis.PatternSubscribe(ctx, channelPrefix+"*", s.forward)
}

func (s *RedisSubscriber) forward(msg rediscommon.Message) {
	projectID := projectFromChannel(msg.Channel)
	if projectID == "" {
		s.log.Warn("invalid channel format", "channel", msg.Channel)
		return
	}

	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		s.log.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
		return
	}
	ev.ProjectID = projectID

	s.hub.Deliver(ev)
}

// projectFromChannel extracts the project id
// Example: "project:events:p1" -> "p1"
func projectFromChannel(channel string) string {
	if !strings.HasPrefix(channel, channelPrefix) {
		return ""
	}
	return strings.TrimPrefix(channel, channelPrefix)
}
