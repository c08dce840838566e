package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event is what gets published on a channel. Events are wake-up signals, not
// the data itself: subscribers re-fetch through the API on receipt, so a lost
// or duplicated event costs a refetch at worst.
type Event struct {
	Kind string `json:"kind"` // e.g., "message", "notification", "proposal", "deal"
	ID   string `json:"id,omitempty"`
}

// IPublisher pushes change events to Redis Pub/Sub channels that connected
// clients subscribe to.
type IPublisher interface {
	PublishToUser(ctx context.Context, userID primitive.ObjectID, event Event)
	PublishToConversation(ctx context.Context, conversationID primitive.ObjectID, event Event)
}

type publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) IPublisher {
	return &publisher{rdb: rdb}
}

func UserChannel(userID primitive.ObjectID) string {
	return fmt.Sprintf("notifications:%s", userID.Hex())
}

func ConversationChannel(conversationID primitive.ObjectID) string {
	return fmt.Sprintf("messages:%s", conversationID.Hex())
}

// PublishToUser is fire-and-forget: delivery problems are logged, never
// propagated, because the stored notification row is the source of truth.
func (p *publisher) PublishToUser(ctx context.Context, userID primitive.ObjectID, event Event) {
	p.publish(ctx, UserChannel(userID), event)
}

func (p *publisher) PublishToConversation(ctx context.Context, conversationID primitive.ObjectID, event Event) {
	p.publish(ctx, ConversationChannel(conversationID), event)
}

func (p *publisher) publish(ctx context.Context, channel string, event Event) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR marshalling realtime event for channel %s: %v", channel, err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("WARNING: failed to publish realtime event to %s: %v", channel, err)
	}
}
