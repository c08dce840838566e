package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusClosed ConversationStatus = "closed"
)

// Conversation is the chat thread between a job's client and one provider.
// At most one exists per (job, client, provider); a unique index backs the
// get-or-create flow.
type Conversation struct {
	Base       `bson:",inline"`
	JobID      primitive.ObjectID  `bson:"job_id" json:"job_id"`
	ClientID   primitive.ObjectID  `bson:"client_id" json:"client_id"`
	ProviderID primitive.ObjectID  `bson:"provider_id" json:"provider_id"`
	ProposalID *primitive.ObjectID `bson:"proposal_id,omitempty" json:"proposal_id,omitempty"`
	DealID     *primitive.ObjectID `bson:"deal_id,omitempty" json:"deal_id,omitempty"`
	Status     ConversationStatus  `bson:"status" json:"status"`
	CreatedAt  time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `bson:"updated_at" json:"updated_at"`
}

func (c *Conversation) IsParty(userID primitive.ObjectID) bool {
	return c.ClientID == userID || c.ProviderID == userID
}

// Counterparty returns the other side of the conversation for the given user.
func (c *Conversation) Counterparty(userID primitive.ObjectID) primitive.ObjectID {
	if c.ClientID == userID {
		return c.ProviderID
	}
	return c.ClientID
}
