package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func subscribe(t *testing.T, client *redis.Client, channel string) <-chan *redis.Message {
	t.Helper()
	ctx := context.Background()
	sub := client.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	// Wait for the subscription to be confirmed before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	return sub.Channel()
}

func receive(t *testing.T, ch <-chan *redis.Message) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
		return ""
	}
}

func TestPublishPresence(t *testing.T) {
	mr, subClient := setupTestRedis(t)
	ch := subscribe(t, subClient, PresenceChannel)

	pub := NewRedisPublisher(mr.Addr())
	defer pub.Close()

	err := pub.PublishPresence(context.Background(), PresenceEvent{
		SessionID: "s1",
		UserID:    "alice",
		Action:    ActionJoined,
	})
	require.NoError(t, err)

	var got PresenceEvent
	require.NoError(t, json.Unmarshal([]byte(receive(t, ch)), &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, ActionJoined, got.Action)
	assert.Equal(t, pub.InstanceID(), got.InstanceID)
	assert.Equal(t, []string{}, got.ConnectedUsers)
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublishSessionEnded(t *testing.T) {
	mr, subClient := setupTestRedis(t)
	ch := subscribe(t, subClient, SessionEndedChannel)

	pub := NewRedisPublisherFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer pub.Close()
	require.NoError(t, pub.Ping(context.Background()))

	err := pub.PublishSessionEnded(context.Background(), SessionEndedEvent{
		SessionID:    "s1",
		Language:     "go",
		FinalContent: "package main",
	})
	require.NoError(t, err)

	var got SessionEndedEvent
	require.NoError(t, json.Unmarshal([]byte(receive(t, ch)), &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "go", got.Language)
	assert.Equal(t, "package main", got.FinalContent)
	assert.False(t, got.EndedAt.IsZero())
}

func TestPublishFailsWhenRedisIsDown(t *testing.T) {
	mr, _ := setupTestRedis(t)
	pub := NewRedisPublisher(mr.Addr())
	defer pub.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := pub.PublishPresence(ctx, PresenceEvent{SessionID: "s1", UserID: "bob", Action: ActionLeft})
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	assert.NoError(t, p.PublishPresence(context.Background(), PresenceEvent{}))
	assert.NoError(t, p.PublishSessionEnded(context.Background(), SessionEndedEvent{}))
}
