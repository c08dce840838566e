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
	"github.com/rabby0101/khulna-hub-services/internal/realtime"
)

// EmailEnqueuer hands email jobs to the background queue. Declared here so the
// services package does not depend on the tasks package that processes them.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, to, templateID, locale string, data map[string]string) error
}

// NotificationRefs are the optional entity links stored on a notification.
type NotificationRefs struct {
	JobID          *primitive.ObjectID
	ProposalID     *primitive.ObjectID
	DealID         *primitive.ObjectID
	ConversationID *primitive.ObjectID
}

// INotificationService defines the interface for notification fan-out and the
// grouped unread feed.
type INotificationService interface {
	Notify(ctx context.Context, userID primitive.ObjectID, ntype models.NotificationType, title, message string, refs NotificationRefs)
	ListGrouped(ctx context.Context, identity auth.Identity) ([]models.NotificationGroup, error)
	MarkRead(ctx context.Context, identity auth.Identity, notificationID primitive.ObjectID) error
	MarkConversationRead(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID) error
	MarkAllRead(ctx context.Context, identity auth.Identity) (int64, error)
}

const (
	notificationsCollection = "notifications"
	notificationFeedLimit   = 200
)

// notificationService implements INotificationService.
type notificationService struct {
	db        *mongo.Database
	profiles  IProfileService
	publisher realtime.IPublisher
	emails    EmailEnqueuer
	locale    string
}

// NewNotificationService creates a new NotificationService. emails may be nil
// when no background worker is wired (tests, bare API mode).
func NewNotificationService(database *mongo.Database, profiles IProfileService, publisher realtime.IPublisher, emails EmailEnqueuer, locale string) INotificationService {
	return &notificationService{db: database, profiles: profiles, publisher: publisher, emails: emails, locale: locale}
}

// Notify stores a notification row for the counterparty and fans out to the
// realtime channel and, preferences permitting, the email queue. Fan-out is
// best-effort: the triggering operation has already committed, so failures
// here are logged and swallowed.
func (s *notificationService) Notify(ctx context.Context, userID primitive.ObjectID, ntype models.NotificationType, title, message string, refs NotificationRefs) {
	notification := &models.Notification{
		UserID:         userID,
		Type:           ntype,
		Title:          title,
		Message:        message,
		JobID:          refs.JobID,
		ProposalID:     refs.ProposalID,
		DealID:         refs.DealID,
		ConversationID: refs.ConversationID,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(notificationsCollection), notification); err != nil {
		logServiceWarning("storing %s notification for user %s: %v", ntype, userID.Hex(), err)
		return
	}

	if s.publisher != nil {
		s.publisher.PublishToUser(ctx, userID, realtime.Event{Kind: "notification", ID: notification.ID.Hex()})
	}
	s.maybeEmail(ctx, userID, ntype, title, message)
}

// ListGrouped returns the user's feed, newest first, with consecutive unread
// chat notifications for the same conversation collapsed into a single entry
// carrying a count. Grouping is purely a read model; the stored rows stay one
// per message so read receipts remain precise.
func (s *notificationService) ListGrouped(ctx context.Context, identity auth.Identity) ([]models.NotificationGroup, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(notificationFeedLimit)
	cursor, err := s.db.Collection(notificationsCollection).Find(ctx, bson.M{"user_id": identity.UserID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding notifications for user %s: %w", identity.UserID.Hex(), err)
	}
	defer cursor.Close(ctx)

	rows := []models.Notification{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding notifications: %w", err)
	}

	groups := []models.NotificationGroup{}
	chatGroups := map[string]int{} // conversation hex -> index into groups
	for _, row := range rows {
		groupable := row.Type == models.NotificationMessageReceived && !row.Read && row.ConversationID != nil
		if !groupable {
			groups = append(groups, models.NotificationGroup{
				Notification:      row,
				Count:             1,
				LatestMessageTime: row.CreatedAt,
			})
			continue
		}

		key := row.ConversationID.Hex()
		if idx, ok := chatGroups[key]; ok {
			groups[idx].Count++
			// Rows arrive newest first, so the representative row and its
			// LatestMessageTime are already the most recent.
			groups[idx].Title = fmt.Sprintf("%d New Messages", groups[idx].Count)
			continue
		}
		chatGroups[key] = len(groups)
		groups = append(groups, models.NotificationGroup{
			Notification:      row,
			Count:             1,
			LatestMessageTime: row.CreatedAt,
		})
	}
	return groups, nil
}

// MarkRead marks one notification read. Scoped to the owner; marking a row
// that is already read is a no-op.
func (s *notificationService) MarkRead(ctx context.Context, identity auth.Identity, notificationID primitive.ObjectID) error {
	filter := bson.M{"_id": notificationID, "user_id": identity.UserID}
	update := bson.M{"$set": bson.M{"read": true}}
	result, err := s.db.Collection(notificationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error marking notification %s read: %w", notificationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		var row models.Notification
		checkErr := s.db.Collection(notificationsCollection).FindOne(ctx, bson.M{"_id": notificationID}).Decode(&row)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return fmt.Errorf("notification %s: %w", notificationID.Hex(), ErrNotFound)
		}
		return fmt.Errorf("notification %s does not belong to you: %w", notificationID.Hex(), ErrForbidden)
	}
	return nil
}

// MarkConversationRead marks the whole backing set of a grouped chat entry
// read: every unread message_received row for that conversation.
func (s *notificationService) MarkConversationRead(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID) error {
	filter := bson.M{
		"user_id":         identity.UserID,
		"type":            models.NotificationMessageReceived,
		"conversation_id": conversationID,
		"read":            false,
	}
	update := bson.M{"$set": bson.M{"read": true}}
	if _, err := s.db.Collection(notificationsCollection).UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("db error marking conversation %s notifications read: %w", conversationID.Hex(), err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read and returns
// how many were affected.
func (s *notificationService) MarkAllRead(ctx context.Context, identity auth.Identity) (int64, error) {
	filter := bson.M{"user_id": identity.UserID, "read": false}
	update := bson.M{"$set": bson.M{"read": true}}
	result, err := s.db.Collection(notificationsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error marking all notifications read for %s: %w", identity.UserID.Hex(), err)
	}
	return result.ModifiedCount, nil
}

// maybeEmail enqueues an email for the notification when the recipient's
// preferences allow it.
func (s *notificationService) maybeEmail(ctx context.Context, userID primitive.ObjectID, ntype models.NotificationType, title, message string) {
	if s.emails == nil {
		return
	}
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		logServiceWarning("loading profile %s for notification email: %v", userID.Hex(), err)
		return
	}
	if !emailWanted(profile.NotificationPreferences, ntype) {
		return
	}
	data := map[string]string{
		"name":    profile.FullName,
		"title":   title,
		"message": message,
	}
	if err := s.emails.EnqueueEmail(ctx, profile.Email, string(ntype), s.locale, data); err != nil {
		logServiceWarning("enqueueing %s email for %s: %v", ntype, profile.Email, err)
	}
}

func emailWanted(prefs models.NotificationPreferences, ntype models.NotificationType) bool {
	switch ntype {
	case models.NotificationProposalReceived, models.NotificationProposalAccepted, models.NotificationProposalRejected:
		return prefs.Proposal
	case models.NotificationCounterProposal:
		return prefs.Offer
	case models.NotificationDealCreated, models.NotificationDealCompleted:
		return prefs.Deal
	case models.NotificationMessageReceived:
		return prefs.Message
	default:
		return false
	}
}
