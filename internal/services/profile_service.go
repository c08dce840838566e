package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/db"
	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// IProfileService defines the interface for account operations.
type IProfileService interface {
	Register(ctx context.Context, email, password, fullName string, userType models.UserType, location, phone string) (*models.Profile, error)
	Authenticate(ctx context.Context, email, password string) (*models.Profile, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.Profile, error)
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
	UpdateNotificationPreferences(ctx context.Context, identity auth.Identity, prefs models.NotificationPreferences) error
}

const profilesCollection = "profiles"

// profileService implements IProfileService.
type profileService struct {
	db *mongo.Database
}

// NewProfileService creates a new ProfileService.
func NewProfileService(database *mongo.Database) IProfileService {
	return &profileService{db: database}
}

// Register creates a new account. Email uniqueness is enforced by the unique
// index on profiles.email; a duplicate insert surfaces as ErrEmailExists.
func (s *profileService) Register(ctx context.Context, email, password, fullName string, userType models.UserType, location, phone string) (*models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if fullName == "" {
		return nil, fmt.Errorf("%w: full name is required", ErrValidation)
	}
	if userType != models.UserTypeClient && userType != models.UserTypeProvider {
		return nil, fmt.Errorf("%w: user type must be client or provider", ErrValidation)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	profile := &models.Profile{
		Email:                   email,
		PasswordHash:            hash,
		FullName:                fullName,
		Phone:                   phone,
		Location:                location,
		UserType:                userType,
		NotificationPreferences: models.DefaultNotificationPreferences(),
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if _, err := db.InsertOne(ctx, s.db.Collection(profilesCollection), profile); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("error inserting profile for %s: %w", email, err)
	}
	return profile, nil
}

// Authenticate verifies email/password. Returns ErrForbidden for a bad
// password or unknown email so callers cannot probe which one it was.
func (s *profileService) Authenticate(ctx context.Context, email, password string) (*models.Profile, error) {
	profile, err := s.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", ErrForbidden)
		}
		return nil, err
	}
	if profile.Suspended {
		return nil, fmt.Errorf("account is suspended: %w", ErrForbidden)
	}
	if !auth.CheckPasswordHash(password, profile.PasswordHash) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrForbidden)
	}
	return profile, nil
}

// FindByID finds a non-deleted profile by its ID.
func (s *profileService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.Profile, error) {
	var profile models.Profile
	filter := bson.M{"_id": userID, "deleted": false}
	err := s.db.Collection(profilesCollection).FindOne(ctx, filter).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("profile %s: %w", userID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding profile by ID %s: %w", userID.Hex(), err)
	}
	return &profile, nil
}

// FindByEmail finds a non-deleted profile by email address.
func (s *profileService) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var profile models.Profile
	filter := bson.M{"email": email, "deleted": false}
	err := s.db.Collection(profilesCollection).FindOne(ctx, filter).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("profile with email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("error finding profile by email %s: %w", email, err)
	}
	return &profile, nil
}

// UpdateNotificationPreferences replaces the caller's own preferences.
func (s *profileService) UpdateNotificationPreferences(ctx context.Context, identity auth.Identity, prefs models.NotificationPreferences) error {
	filter := bson.M{"_id": identity.UserID, "deleted": false}
	update := bson.M{"$set": bson.M{
		"notification_preferences": prefs,
		"updated_at":               time.Now().UTC(),
	}}
	result, err := s.db.Collection(profilesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error updating notification preferences for %s: %w", identity.UserID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("profile %s: %w", identity.UserID.Hex(), ErrNotFound)
	}
	return nil
}
