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

// JobSearchParams filters the open-job search.
type JobSearchParams struct {
	Category string
	Location string
	Urgent   *bool
	Limit    int
	Skip     int
}

// IJobService defines the interface for job operations.
type IJobService interface {
	CreateJob(ctx context.Context, identity auth.Identity, title, description, category, location string, budgetMin, budgetMax float64, urgent bool) (*models.Job, error)
	CancelJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) error
	FindJobByID(ctx context.Context, jobID primitive.ObjectID) (*models.Job, error)
	SearchOpenJobs(ctx context.Context, params JobSearchParams) ([]models.Job, error)
	FindJobsByClient(ctx context.Context, clientID primitive.ObjectID) ([]models.Job, error)
}

const (
	jobsCollection      = "jobs"
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
	maxJobTitleLength   = 200
	maxDescriptionChars = 5000
)

// jobService implements IJobService.
type jobService struct {
	db      *mongo.Database
	client  *mongo.Client
	catalog ICatalogService
}

// NewJobService creates a new JobService. The mongo client is needed on top of
// the database handle because cancellation runs a transaction.
func NewJobService(database *mongo.Database, client *mongo.Client, catalog ICatalogService) IJobService {
	return &jobService{db: database, client: client, catalog: catalog}
}

// CreateJob posts a new open job for the calling client.
func (s *jobService) CreateJob(ctx context.Context, identity auth.Identity, title, description, category, location string, budgetMin, budgetMax float64, urgent bool) (*models.Job, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(title) > maxJobTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxJobTitleLength)
	}
	if len(description) > maxDescriptionChars {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, maxDescriptionChars)
	}
	if budgetMin <= 0 || budgetMax <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	if budgetMin > budgetMax {
		return nil, fmt.Errorf("%w: minimum budget cannot exceed maximum budget", ErrValidation)
	}
	if s.catalog != nil && category != "" {
		if !s.catalog.IsActiveCategory(ctx, category) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		ClientID:    identity.UserID,
		Title:       title,
		Description: description,
		Category:    category,
		Location:    location,
		BudgetMin:   budgetMin,
		BudgetMax:   budgetMax,
		Urgent:      urgent,
		Status:      models.JobStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := db.InsertOne(ctx, s.db.Collection(jobsCollection), job); err != nil {
		return nil, fmt.Errorf("error inserting job: %w", err)
	}
	return job, nil
}

// CancelJob soft-cancels an open job. Only the owner may cancel, only while
// the job is open, and only if nobody has proposed yet. The proposal check and
// the status flip run in one transaction so a proposal landing in between
// cannot leave a pending proposal on a cancelled job.
func (s *jobService) CancelJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) error {
	_, err := db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		proposalCount, err := s.db.Collection(proposalsCollection).CountDocuments(sc, bson.M{"job_id": jobID})
		if err != nil {
			return nil, fmt.Errorf("error counting proposals for job %s: %w", jobID.Hex(), err)
		}
		if proposalCount > 0 {
			return nil, fmt.Errorf("job %s has proposals and cannot be deleted: %w", jobID.Hex(), ErrConflict)
		}

		filter := bson.M{
			"_id":       jobID,
			"client_id": identity.UserID,
			"status":    models.JobStatusOpen,
		}
		update := bson.M{"$set": bson.M{
			"status":     models.JobStatusCancelled,
			"updated_at": time.Now().UTC(),
		}}

		result, err := s.db.Collection(jobsCollection).UpdateOne(sc, filter, update)
		if err != nil {
			return nil, fmt.Errorf("db error cancelling job %s: %w", jobID.Hex(), err)
		}
		if result.MatchedCount == 0 {
			// Re-read to report which precondition failed.
			var job models.Job
			checkErr := s.db.Collection(jobsCollection).FindOne(sc, bson.M{"_id": jobID}).Decode(&job)
			if errors.Is(checkErr, mongo.ErrNoDocuments) {
				return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
			}
			if job.ClientID != identity.UserID {
				return nil, fmt.Errorf("job %s does not belong to user %s: %w", jobID.Hex(), identity.UserID.Hex(), ErrForbidden)
			}
			return nil, fmt.Errorf("job %s is %s and cannot be deleted: %w", jobID.Hex(), job.Status, ErrConflict)
		}
		return nil, nil
	})
	return err
}

// FindJobByID returns the job or ErrNotFound.
func (s *jobService) FindJobByID(ctx context.Context, jobID primitive.ObjectID) (*models.Job, error) {
	var job models.Job
	err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding job %s: %w", jobID.Hex(), err)
	}
	return &job, nil
}

// SearchOpenJobs lists open jobs, newest first.
func (s *jobService) SearchOpenJobs(ctx context.Context, params JobSearchParams) ([]models.Job, error) {
	filter := bson.M{"status": models.JobStatusOpen}
	if params.Category != "" {
		filter["category"] = params.Category
	}
	if params.Location != "" {
		filter["location"] = params.Location
	}
	if params.Urgent != nil {
		filter["urgent"] = *params.Urgent
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(params.Skip))

	cursor, err := s.db.Collection(jobsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error searching jobs: %w", err)
	}
	defer cursor.Close(ctx)

	jobs := []models.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("error decoding job search results: %w", err)
	}
	return jobs, nil
}

// FindJobsByClient lists a client's own jobs, newest first, any status.
func (s *jobService) FindJobsByClient(ctx context.Context, clientID primitive.ObjectID) ([]models.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(jobsCollection).Find(ctx, bson.M{"client_id": clientID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding jobs for client %s: %w", clientID.Hex(), err)
	}
	defer cursor.Close(ctx)

	jobs := []models.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("error decoding jobs for client %s: %w", clientID.Hex(), err)
	}
	return jobs, nil
}
