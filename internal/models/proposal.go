package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProposalStatus is the state of a single proposal row. Pending is the only
// non-terminal state; countering a proposal closes it and opens a new pending
// row for the same (job, provider) pair.
type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "pending"
	ProposalStatusAccepted  ProposalStatus = "accepted"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusCountered ProposalStatus = "countered"
)

var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalStatusPending: {ProposalStatusAccepted, ProposalStatusRejected, ProposalStatusCountered},
}

func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	for _, allowed := range proposalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LiveProposalStatuses are the statuses counted by the one-live-proposal-per-
// provider-per-job uniqueness rule. Matches the partial index in db.EnsureIndexes.
var LiveProposalStatuses = []ProposalStatus{ProposalStatusPending, ProposalStatusAccepted}

// Proposal is a provider's bid on a job. Rows sharing (job_id, provider_id)
// form a negotiation chain ordered by created_at.
type Proposal struct {
	Base       `bson:",inline"`
	JobID      primitive.ObjectID `bson:"job_id" json:"job_id"`
	ProviderID primitive.ObjectID `bson:"provider_id" json:"provider_id"`
	Amount     float64            `bson:"amount" json:"amount"`
	Message    string             `bson:"message,omitempty" json:"message,omitempty"`
	Status     ProposalStatus     `bson:"status" json:"status"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}
