package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/db"
	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// IProposalService defines the interface for the proposal lifecycle.
type IProposalService interface {
	CreateProposal(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID, amount float64, message string) (*models.Proposal, error)
	AcceptProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) (*models.Deal, error)
	RejectProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) error
	CounterProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID, newAmount float64, message string) (*models.Proposal, error)
	AcceptBudget(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) (*models.Deal, error)
	FindProposalByID(ctx context.Context, proposalID primitive.ObjectID) (*models.Proposal, error)
	FindProposalsByJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) ([]models.Proposal, error)
	FindProposalsByProvider(ctx context.Context, providerID primitive.ObjectID) ([]models.Proposal, error)
}

const proposalsCollection = "proposals"

// proposalService implements IProposalService.
type proposalService struct {
	db            *mongo.Database
	client        *mongo.Client
	notifications INotificationService
}

// NewProposalService creates a new ProposalService. The mongo client is needed
// on top of the database handle because acceptance paths run transactions.
func NewProposalService(database *mongo.Database, client *mongo.Client, notifications INotificationService) IProposalService {
	return &proposalService{db: database, client: client, notifications: notifications}
}

// CreateProposal submits a provider's bid on an open job. The partial unique
// index on (job_id, provider_id) turns a concurrent duplicate into
// ErrAlreadyApplied even when the pre-check passes on both sides.
func (s *proposalService) CreateProposal(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID, amount float64, message string) (*models.Proposal, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var job models.Job
	err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding job %s: %w", jobID.Hex(), err)
	}
	if job.ClientID == identity.UserID {
		return nil, fmt.Errorf("cannot propose on your own job: %w", ErrForbidden)
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("job %s is %s, not open for proposals: %w", jobID.Hex(), job.Status, ErrConflict)
	}
	if amount < job.BudgetMin || amount > job.BudgetMax {
		return nil, fmt.Errorf("%w: amount %.2f is outside the job budget range %.2f-%.2f",
			ErrValidation, amount, job.BudgetMin, job.BudgetMax)
	}

	now := time.Now().UTC()
	proposal := &models.Proposal{
		JobID:      jobID,
		ProviderID: identity.UserID,
		Amount:     amount,
		Message:    message,
		Status:     models.ProposalStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := db.InsertOne(ctx, s.db.Collection(proposalsCollection), proposal); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, fmt.Errorf("error inserting proposal for job %s: %w", jobID.Hex(), err)
	}

	s.notifications.Notify(ctx, job.ClientID, models.NotificationProposalReceived,
		"New Proposal",
		fmt.Sprintf("You received a proposal of %.2f on %q", amount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &proposal.ID})

	return proposal, nil
}

// AcceptProposal is the atomic acceptance path: the proposal becomes accepted,
// the deal is inserted, the job moves from open to in_progress, and any linked
// chat offer is synced, all in one transaction. Only the job's client may
// accept, and only a pending proposal.
func (s *proposalService) AcceptProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) (*models.Deal, error) {
	proposal, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": proposal.JobID}).Decode(&job); err != nil {
		return nil, fmt.Errorf("error finding job %s for proposal %s: %w", proposal.JobID.Hex(), proposalID.Hex(), err)
	}
	if job.ClientID != identity.UserID {
		return nil, fmt.Errorf("only the job owner can accept proposals: %w", ErrForbidden)
	}

	result, err := db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.decideProposal(sc, proposal, models.ProposalStatusAccepted); err != nil {
			return nil, err
		}
		deal, err := finalizeAcceptance(sc, s.db, &job, proposal)
		if err != nil {
			return nil, err
		}
		if err := syncNegotiationStatus(sc, s.db, proposal, models.ProposalStatusAccepted); err != nil {
			return nil, err
		}
		if err := tagConversationWithDeal(sc, s.db, deal); err != nil {
			return nil, err
		}
		return deal, nil
	})
	if err != nil {
		return nil, err
	}
	deal := result.(*models.Deal)

	s.notifications.Notify(ctx, proposal.ProviderID, models.NotificationProposalAccepted,
		"Proposal Accepted",
		fmt.Sprintf("Your proposal of %.2f on %q was accepted", proposal.Amount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &proposal.ID, DealID: &deal.ID})
	s.notifications.Notify(ctx, proposal.ProviderID, models.NotificationDealCreated,
		"Deal Created!",
		fmt.Sprintf("A deal for %.2f was created on %q", deal.AgreedAmount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &proposal.ID, DealID: &deal.ID})

	return deal, nil
}

// RejectProposal closes a pending proposal. The provider may follow up with a
// new proposal; rejection only ends this row.
func (s *proposalService) RejectProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) error {
	proposal, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return err
	}
	var job models.Job
	if err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": proposal.JobID}).Decode(&job); err != nil {
		return fmt.Errorf("error finding job %s for proposal %s: %w", proposal.JobID.Hex(), proposalID.Hex(), err)
	}
	if job.ClientID != identity.UserID {
		return fmt.Errorf("only the job owner can reject proposals: %w", ErrForbidden)
	}

	_, err = db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.decideProposal(sc, proposal, models.ProposalStatusRejected); err != nil {
			return nil, err
		}
		if err := syncNegotiationStatus(sc, s.db, proposal, models.ProposalStatusRejected); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	s.notifications.Notify(ctx, proposal.ProviderID, models.NotificationProposalRejected,
		"Proposal Rejected",
		fmt.Sprintf("Your proposal of %.2f on %q was not accepted", proposal.Amount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &proposal.ID})

	return nil
}

// CounterProposal closes the pending proposal as countered and opens a new
// pending row at the client's amount. The rows share (job_id, provider_id) and
// form the negotiation chain; history is never rewritten.
func (s *proposalService) CounterProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID, newAmount float64, message string) (*models.Proposal, error) {
	if newAmount <= 0 {
		return nil, fmt.Errorf("%w: counter amount must be positive", ErrValidation)
	}

	proposal, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": proposal.JobID}).Decode(&job); err != nil {
		return nil, fmt.Errorf("error finding job %s for proposal %s: %w", proposal.JobID.Hex(), proposalID.Hex(), err)
	}
	if job.ClientID != identity.UserID {
		return nil, fmt.Errorf("only the job owner can counter proposals: %w", ErrForbidden)
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("job %s is %s, negotiation is closed: %w", job.ID.Hex(), job.Status, ErrConflict)
	}

	if message == "" {
		message = fmt.Sprintf("Counter offer: %.2f", newAmount)
	}

	result, err := db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.decideProposal(sc, proposal, models.ProposalStatusCountered); err != nil {
			return nil, err
		}
		if err := syncNegotiationStatus(sc, s.db, proposal, models.ProposalStatusCountered); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		counter := &models.Proposal{
			JobID:      proposal.JobID,
			ProviderID: proposal.ProviderID,
			Amount:     newAmount,
			Message:    message,
			Status:     models.ProposalStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := db.InsertOne(sc, s.db.Collection(proposalsCollection), counter); err != nil {
			return nil, fmt.Errorf("error inserting counter proposal: %w", err)
		}
		return counter, nil
	})
	if err != nil {
		return nil, err
	}
	counter := result.(*models.Proposal)

	s.notifications.Notify(ctx, proposal.ProviderID, models.NotificationCounterProposal,
		"Counter Offer",
		fmt.Sprintf("The client countered with %.2f on %q", newAmount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &counter.ID})

	return counter, nil
}

// AcceptBudget lets a provider take the job at its posted maximum budget: an
// accepted proposal row is materialized and the deal created in one
// transaction. When two providers race, the job status check inside
// finalizeAcceptance lets exactly one through.
func (s *proposalService) AcceptBudget(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) (*models.Deal, error) {
	var job models.Job
	err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding job %s: %w", jobID.Hex(), err)
	}
	if job.ClientID == identity.UserID {
		return nil, fmt.Errorf("cannot accept the budget of your own job: %w", ErrForbidden)
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("job %s is %s, not open: %w", jobID.Hex(), job.Status, ErrConflict)
	}

	result, err := db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		now := time.Now().UTC()
		proposal := &models.Proposal{
			JobID:      job.ID,
			ProviderID: identity.UserID,
			Amount:     job.BudgetMax,
			Message:    "Accepted the posted budget",
			Status:     models.ProposalStatusAccepted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := db.InsertOne(sc, s.db.Collection(proposalsCollection), proposal); err != nil {
			if db.IsMongoDuplicateKeyError(err) {
				return nil, ErrAlreadyApplied
			}
			return nil, fmt.Errorf("error materializing proposal for job %s: %w", job.ID.Hex(), err)
		}

		deal, err := finalizeAcceptance(sc, s.db, &job, proposal)
		if err != nil {
			return nil, err
		}
		if err := tagConversationWithDeal(sc, s.db, deal); err != nil {
			return nil, err
		}
		return deal, nil
	})
	if err != nil {
		return nil, err
	}
	deal := result.(*models.Deal)

	s.notifications.Notify(ctx, job.ClientID, models.NotificationDealCreated,
		"Deal Created!",
		fmt.Sprintf("A provider accepted your budget of %.2f on %q", deal.AgreedAmount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &deal.ProposalID, DealID: &deal.ID})

	return deal, nil
}

// FindProposalByID returns the proposal or ErrNotFound.
func (s *proposalService) FindProposalByID(ctx context.Context, proposalID primitive.ObjectID) (*models.Proposal, error) {
	var proposal models.Proposal
	err := s.db.Collection(proposalsCollection).FindOne(ctx, bson.M{"_id": proposalID}).Decode(&proposal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("proposal %s: %w", proposalID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding proposal %s: %w", proposalID.Hex(), err)
	}
	return &proposal, nil
}

// FindProposalsByJob lists a job's proposals, newest first. Restricted to the
// job owner; providers see only their own rows via FindProposalsByProvider.
func (s *proposalService) FindProposalsByJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) ([]models.Proposal, error) {
	var job models.Job
	err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding job %s: %w", jobID.Hex(), err)
	}
	if job.ClientID != identity.UserID && !identity.IsAdmin {
		return nil, fmt.Errorf("only the job owner can list its proposals: %w", ErrForbidden)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(proposalsCollection).Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding proposals for job %s: %w", jobID.Hex(), err)
	}
	defer cursor.Close(ctx)

	proposals := []models.Proposal{}
	if err := cursor.All(ctx, &proposals); err != nil {
		return nil, fmt.Errorf("error decoding proposals for job %s: %w", jobID.Hex(), err)
	}
	return proposals, nil
}

// FindProposalsByProvider lists a provider's own proposals, newest first.
func (s *proposalService) FindProposalsByProvider(ctx context.Context, providerID primitive.ObjectID) ([]models.Proposal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(proposalsCollection).Find(ctx, bson.M{"provider_id": providerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding proposals for provider %s: %w", providerID.Hex(), err)
	}
	defer cursor.Close(ctx)

	proposals := []models.Proposal{}
	if err := cursor.All(ctx, &proposals); err != nil {
		return nil, fmt.Errorf("error decoding proposals for provider %s: %w", providerID.Hex(), err)
	}
	return proposals, nil
}

// decideProposal conditionally moves a pending proposal to a terminal status.
// MatchedCount==0 means someone decided it first; the re-read names the state
// the caller lost to.
func (s *proposalService) decideProposal(sc mongo.SessionContext, proposal *models.Proposal, status models.ProposalStatus) error {
	if !proposal.Status.CanTransitionTo(status) {
		return fmt.Errorf("proposal %s is %s and cannot become %s: %w",
			proposal.ID.Hex(), proposal.Status, status, ErrConflict)
	}

	filter := bson.M{"_id": proposal.ID, "status": models.ProposalStatusPending}
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}}
	result, err := s.db.Collection(proposalsCollection).UpdateOne(sc, filter, update)
	if err != nil {
		return fmt.Errorf("db error updating proposal %s: %w", proposal.ID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		var current models.Proposal
		checkErr := s.db.Collection(proposalsCollection).FindOne(sc, bson.M{"_id": proposal.ID}).Decode(&current)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return fmt.Errorf("proposal %s: %w", proposal.ID.Hex(), ErrNotFound)
		}
		return fmt.Errorf("proposal %s is already %s: %w", proposal.ID.Hex(), current.Status, ErrConflict)
	}
	proposal.Status = status
	return nil
}
