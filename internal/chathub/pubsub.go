package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"betweenus/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Publisher carries lounge events between the services that produce them
// and the hubs that hold the connections.
type Publisher interface {
	Publish(ctx context.Context, event *models.LoungeEvent) error
	// Subscribe hands every published event to deliver until ctx is done.
	Subscribe(ctx context.Context, deliver func(*models.LoungeEvent)) error
}

// LocalPublisher delivers events within the current process.
type LocalPublisher struct {
	events chan *models.LoungeEvent
}

func NewLocalPublisher() *LocalPublisher {
	return &LocalPublisher{events: make(chan *models.LoungeEvent, broadcastBuffer)}
}

func (p *LocalPublisher) Publish(ctx context.Context, event *models.LoungeEvent) error {
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *LocalPublisher) Subscribe(ctx context.Context, deliver func(*models.LoungeEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-p.events:
			deliver(event)
		}
	}
}

const (
	roomChannelPrefix = "lounge:"
	roomChannelGlob   = roomChannelPrefix + "*"
)

// RedisPublisher fans events out through Redis Pub/Sub, one channel per room.
type RedisPublisher struct {
	Redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{Redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *models.LoungeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode lounge event: %w", err)
	}
	return p.Redis.Publish(ctx, roomChannelPrefix+event.RoomID, payload).Err()
}

// Subscribe listens on every room channel.
func (p *RedisPublisher) Subscribe(ctx context.Context, deliver func(*models.LoungeEvent)) error {
	pubsub := p.Redis.PSubscribe(ctx, roomChannelGlob)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no early event is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", roomChannelGlob, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.LoungeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("ERROR: Failed to decode lounge event on %s: %v", msg.Channel, err)
				continue
			}
			if event.RoomID == "" {
				event.RoomID = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			deliver(&event)
		}
	}
}
