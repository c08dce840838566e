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

// IDealService defines the interface for deal operations.
type IDealService interface {
	MarkDealCompleted(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error)
	FindDealByID(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error)
	FindDealsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Deal, error)
}

// dealService implements IDealService.
type dealService struct {
	db            *mongo.Database
	client        *mongo.Client
	notifications INotificationService
}

// NewDealService creates a new DealService.
func NewDealService(database *mongo.Database, client *mongo.Client, notifications INotificationService) IDealService {
	return &dealService{db: database, client: client, notifications: notifications}
}

// MarkDealCompleted moves an active deal to completed and the job with it, in
// one transaction. Idempotent: a second call finds the deal already completed
// and returns it unchanged with the original completed_at.
func (s *dealService) MarkDealCompleted(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error) {
	deal, err := s.findDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.ClientID != identity.UserID {
		return nil, fmt.Errorf("only the client can mark a deal completed: %w", ErrForbidden)
	}
	if deal.Status == models.DealStatusCompleted {
		// Already done; re-applying would clobber completed_at.
		return deal, nil
	}

	now := time.Now().UTC()
	_, err = db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		filter := bson.M{"_id": dealID, "status": models.DealStatusActive}
		update := bson.M{"$set": bson.M{
			"status":       models.DealStatusCompleted,
			"completed_at": now,
		}}
		result, err := s.db.Collection(dealsCollection).UpdateOne(sc, filter, update)
		if err != nil {
			return nil, fmt.Errorf("db error completing deal %s: %w", dealID.Hex(), err)
		}
		if result.MatchedCount == 0 {
			// Raced with another completion; treat as already done.
			return nil, nil
		}

		jobFilter := bson.M{"_id": deal.JobID, "status": models.JobStatusInProgress}
		jobUpdate := bson.M{"$set": bson.M{
			"status":     models.JobStatusCompleted,
			"updated_at": now,
		}}
		if _, err := s.db.Collection(jobsCollection).UpdateOne(sc, jobFilter, jobUpdate); err != nil {
			return nil, fmt.Errorf("db error completing job %s for deal %s: %w", deal.JobID.Hex(), dealID.Hex(), err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	// Re-read so the caller sees the authoritative completed_at, whichever
	// call set it.
	completed, err := s.findDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status == models.DealStatusActive && completed.Status == models.DealStatusCompleted {
		s.notifications.Notify(ctx, deal.ProviderID, models.NotificationDealCompleted,
			"Deal Completed",
			fmt.Sprintf("The deal for %.2f was marked completed", deal.AgreedAmount),
			NotificationRefs{JobID: &deal.JobID, DealID: &deal.ID})
	}
	return completed, nil
}

// FindDealByID returns the deal; only its parties (or an admin) may read it.
func (s *dealService) FindDealByID(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error) {
	deal, err := s.findDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParty(identity.UserID) && !identity.IsAdmin {
		return nil, fmt.Errorf("deal %s is not yours to view: %w", dealID.Hex(), ErrForbidden)
	}
	return deal, nil
}

// FindDealsByUser lists deals where the user is either party, newest first.
func (s *dealService) FindDealsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Deal, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"client_id": userID},
		bson.M{"provider_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(dealsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding deals for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	deals := []models.Deal{}
	if err := cursor.All(ctx, &deals); err != nil {
		return nil, fmt.Errorf("error decoding deals for user %s: %w", userID.Hex(), err)
	}
	return deals, nil
}

func (s *dealService) findDeal(ctx context.Context, dealID primitive.ObjectID) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.Collection(dealsCollection).FindOne(ctx, bson.M{"_id": dealID}).Decode(&deal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("deal %s: %w", dealID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding deal %s: %w", dealID.Hex(), err)
	}
	return &deal, nil
}
