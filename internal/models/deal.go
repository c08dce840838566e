package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DealStatus string

const (
	DealStatusActive    DealStatus = "active"
	DealStatusCompleted DealStatus = "completed"
)

// Deal records an agreement between a client and a provider. Every deal points
// at the accepted proposal it was created from; chat-accepted offers get a
// proposal row materialized first so ProposalID is never zero.
type Deal struct {
	Base         `bson:",inline"`
	JobID        primitive.ObjectID `bson:"job_id" json:"job_id"`
	ClientID     primitive.ObjectID `bson:"client_id" json:"client_id"`
	ProviderID   primitive.ObjectID `bson:"provider_id" json:"provider_id"`
	ProposalID   primitive.ObjectID `bson:"proposal_id" json:"proposal_id"`
	AgreedAmount float64            `bson:"agreed_amount" json:"agreed_amount"`
	Status       DealStatus         `bson:"status" json:"status"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	CompletedAt  *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// IsParty reports whether the given user is one of the two sides of the deal.
func (d *Deal) IsParty(userID primitive.ObjectID) bool {
	return d.ClientID == userID || d.ProviderID == userID
}
