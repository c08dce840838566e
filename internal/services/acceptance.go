package services

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/db"
	"github.com/rabby0101/khulna-hub-services/internal/models"
)

const dealsCollection = "deals"

// finalizeAcceptance is the shared tail of every acceptance path (formal
// proposal accept, budget accept, chat offer accept): insert the deal and move
// the job from open to in_progress. Must run inside a transaction via the session
// context. The conditional job update plus the unique active-deal index
// guarantee that of two concurrent acceptances exactly one commits; the loser
// gets ErrConflict.
func finalizeAcceptance(sc mongo.SessionContext, database *mongo.Database, job *models.Job, proposal *models.Proposal) (*models.Deal, error) {
	now := time.Now().UTC()

	deal := &models.Deal{
		JobID:        job.ID,
		ClientID:     job.ClientID,
		ProviderID:   proposal.ProviderID,
		ProposalID:   proposal.ID,
		AgreedAmount: proposal.Amount,
		Status:       models.DealStatusActive,
		CreatedAt:    now,
	}
	if _, err := db.InsertOne(sc, database.Collection(dealsCollection), deal); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, fmt.Errorf("job %s already has an active deal: %w", job.ID.Hex(), ErrConflict)
		}
		return nil, fmt.Errorf("error inserting deal for job %s: %w", job.ID.Hex(), err)
	}

	jobFilter := bson.M{"_id": job.ID, "status": models.JobStatusOpen}
	jobUpdate := bson.M{"$set": bson.M{
		"status":     models.JobStatusInProgress,
		"updated_at": now,
	}}
	result, err := database.Collection(jobsCollection).UpdateOne(sc, jobFilter, jobUpdate)
	if err != nil {
		return nil, fmt.Errorf("db error moving job %s to in_progress: %w", job.ID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("job %s is no longer open: %w", job.ID.Hex(), ErrConflict)
	}

	return deal, nil
}

// syncNegotiationStatus mirrors a proposal's new status onto any chat message
// whose negotiation payload references it. Runs in the same transaction as the
// proposal update so chat never shows a stale pending offer for a decided
// proposal.
func syncNegotiationStatus(sc mongo.SessionContext, database *mongo.Database, proposal *models.Proposal, status models.ProposalStatus) error {
	filter := bson.M{"negotiation.proposal_id": proposal.ID}
	update := bson.M{"$set": bson.M{"negotiation.status": status}}
	if _, err := database.Collection(messagesCollection).UpdateMany(sc, filter, update); err != nil {
		return fmt.Errorf("error syncing negotiation status for proposal %s: %w", proposal.ID.Hex(), err)
	}
	return nil
}

// tagConversationWithDeal records the deal on the conversation between the two
// parties, if one exists.
func tagConversationWithDeal(sc mongo.SessionContext, database *mongo.Database, deal *models.Deal) error {
	filter := bson.M{
		"job_id":      deal.JobID,
		"client_id":   deal.ClientID,
		"provider_id": deal.ProviderID,
	}
	update := bson.M{"$set": bson.M{
		"deal_id":    deal.ID,
		"updated_at": time.Now().UTC(),
	}}
	if _, err := database.Collection(conversationsCollection).UpdateOne(sc, filter, update); err != nil {
		return fmt.Errorf("error tagging conversation with deal %s: %w", deal.ID.Hex(), err)
	}
	return nil
}
