package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationType string

const (
	NotificationProposalReceived NotificationType = "proposal_received"
	NotificationProposalAccepted NotificationType = "proposal_accepted"
	NotificationProposalRejected NotificationType = "proposal_rejected"
	NotificationCounterProposal  NotificationType = "counter_proposal"
	NotificationDealCreated      NotificationType = "deal_created"
	NotificationDealCompleted    NotificationType = "deal_completed"
	NotificationMessageReceived  NotificationType = "message_received"
)

// Notification is a single stored fan-out row. One row per event; the grouped
// presentation of unread chat notifications is computed at read time, never
// stored.
type Notification struct {
	Base           `bson:",inline"`
	UserID         primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Type           NotificationType    `bson:"type" json:"type"`
	Title          string              `bson:"title" json:"title"`
	Message        string              `bson:"message" json:"message"`
	JobID          *primitive.ObjectID `bson:"job_id,omitempty" json:"job_id,omitempty"`
	ProposalID     *primitive.ObjectID `bson:"proposal_id,omitempty" json:"proposal_id,omitempty"`
	DealID         *primitive.ObjectID `bson:"deal_id,omitempty" json:"deal_id,omitempty"`
	ConversationID *primitive.ObjectID `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Read           bool                `bson:"read" json:"read"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
}

// NotificationGroup is the read model returned to clients. Unread
// message_received rows for the same conversation collapse into one group
// carrying the latest row plus a count; every other notification is a group
// of one.
type NotificationGroup struct {
	Notification      `bson:",inline"`
	Count             int       `json:"count"`
	LatestMessageTime time.Time `json:"latest_message_time"`
}
