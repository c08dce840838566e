package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeNegotiation MessageType = "negotiation"
)

// NegotiationKind tags the variant carried by a negotiation message.
type NegotiationKind string

const (
	// NegotiationKindProposal mirrors a formal proposal row in chat.
	NegotiationKindProposal NegotiationKind = "proposal"
	// NegotiationKindCounterOffer mirrors the new pending row spawned by a counter.
	NegotiationKindCounterOffer NegotiationKind = "counter_offer"
	// NegotiationKindOffer is an informal chat offer with no proposal row yet.
	NegotiationKindOffer NegotiationKind = "offer"
)

// NegotiationData is the structured payload of a negotiation message. Kind
// selects the variant: proposal and counter_offer carry Amount plus ProposalID
// and track that proposal's status; offer carries the free-form offer fields
// and gets a proposal row only on acceptance.
type NegotiationData struct {
	Kind   NegotiationKind `bson:"kind" json:"kind"`
	Status ProposalStatus  `bson:"status" json:"status"`

	// proposal / counter_offer
	ProposalID *primitive.ObjectID `bson:"proposal_id,omitempty" json:"proposal_id,omitempty"`
	Amount     float64             `bson:"amount,omitempty" json:"amount,omitempty"`

	// offer
	ServiceDescription string `bson:"service_description,omitempty" json:"service_description,omitempty"`
	ProposedCost       float64 `bson:"proposed_cost,omitempty" json:"proposed_cost,omitempty"`
	ServiceDate        string `bson:"service_date,omitempty" json:"service_date,omitempty"`
	ServiceTime        string `bson:"service_time,omitempty" json:"service_time,omitempty"`
	AdditionalNotes    string `bson:"additional_notes,omitempty" json:"additional_notes,omitempty"`
}

// Validate checks the variant's required fields.
func (n *NegotiationData) Validate() error {
	switch n.Kind {
	case NegotiationKindProposal, NegotiationKindCounterOffer:
		if n.ProposalID == nil || n.ProposalID.IsZero() {
			return fmt.Errorf("negotiation data of kind %q requires a proposal id", n.Kind)
		}
		if n.Amount <= 0 {
			return fmt.Errorf("negotiation data of kind %q requires a positive amount", n.Kind)
		}
	case NegotiationKindOffer:
		if n.ProposedCost <= 0 {
			return fmt.Errorf("offer requires a positive proposed cost")
		}
		if n.ServiceDescription == "" {
			return fmt.Errorf("offer requires a service description")
		}
	default:
		return fmt.Errorf("unknown negotiation kind %q", n.Kind)
	}
	return nil
}

// CostAmount returns the monetary value of the payload regardless of variant.
func (n *NegotiationData) CostAmount() float64 {
	if n.Kind == NegotiationKindOffer {
		return n.ProposedCost
	}
	return n.Amount
}

// Message is a single chat entry. Content and attachment are immutable after
// send; only the negotiation status and read receipt change.
type Message struct {
	Base           `bson:",inline"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversation_id"`
	SenderID       primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	Type           MessageType        `bson:"type" json:"type"`
	Content        string             `bson:"content" json:"content"`
	AttachmentURL  string             `bson:"attachment_url,omitempty" json:"attachment_url,omitempty"`
	Negotiation    *NegotiationData   `bson:"negotiation,omitempty" json:"negotiation,omitempty"`
	ReadAt         *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
