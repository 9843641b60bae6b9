// Package events publishes session lifecycle notifications to Redis so other
// instances and downstream consumers can follow presence changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis channels.
const (
	PresenceChannel     = "editor:presence"
	SessionEndedChannel = "editor:session_ended"
)

// Presence actions.
const (
	ActionJoined = "joined"
	ActionLeft   = "left"
)

// PresenceEvent is emitted whenever a participant joins or leaves.
type PresenceEvent struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Action         string    `json:"action"`
	ConnectedUsers []string  `json:"connectedUsers"`
	InstanceID     string    `json:"instanceId"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionEndedEvent is emitted once when a session is evicted.
type SessionEndedEvent struct {
	SessionID    string    `json:"sessionId"`
	Language     string    `json:"language"`
	FinalContent string    `json:"finalContent"`
	LastModified time.Time `json:"lastModified"`
	EndedAt      time.Time `json:"endedAt"`
	InstanceID   string    `json:"instanceId"`
}

// RedisPublisher publishes events over Redis pub/sub.
type RedisPublisher struct {
	rdb        *redis.Client
	instanceID string
}

// NewRedisPublisher connects to addr. The connection is established lazily.
func NewRedisPublisher(addr string) *RedisPublisher {
	return NewRedisPublisherFromClient(redis.NewClient(&redis.Options{Addr: addr}))
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		rdb:        rdb,
		instanceID: uuid.New().String(),
	}
}

// InstanceID identifies this process in published events.
func (p *RedisPublisher) InstanceID() string {
	return p.instanceID
}

// Ping checks that Redis is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) PublishPresence(ctx context.Context, event PresenceEvent) error {
	event.InstanceID = p.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ConnectedUsers == nil {
		event.ConnectedUsers = []string{}
	}
	return p.publish(ctx, PresenceChannel, event)
}

func (p *RedisPublisher) PublishSessionEnded(ctx context.Context, event SessionEndedEvent) error {
	event.InstanceID = p.instanceID
	if event.EndedAt.IsZero() {
		event.EndedAt = time.Now()
	}
	return p.publish(ctx, SessionEndedChannel, event)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the Redis client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishPresence(context.Context, PresenceEvent) error         { return nil }
func (NopPublisher) PublishSessionEnded(context.Context, SessionEndedEvent) error { return nil }
