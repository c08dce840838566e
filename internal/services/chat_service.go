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

// OfferParams are the fields of an informal chat offer.
type OfferParams struct {
	ServiceDescription string
	ProposedCost       float64
	ServiceDate        string
	ServiceTime        string
	AdditionalNotes    string
}

// IChatService defines the interface for conversations, messages and the
// in-chat negotiation actions.
type IChatService interface {
	GetOrCreateConversation(ctx context.Context, identity auth.Identity, jobID, providerID primitive.ObjectID, proposalID *primitive.ObjectID) (*models.Conversation, error)
	ListConversations(ctx context.Context, identity auth.Identity) ([]models.Conversation, error)
	ListMessages(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, limit int) ([]models.Message, error)
	SendMessage(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, content string, msgType models.MessageType, attachmentURL string) (*models.Message, error)
	SendOffer(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, offer OfferParams) (*models.Message, error)
	AcceptOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) (*models.Deal, error)
	RejectOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error
	MarkMessageRead(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error
}

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// chatService implements IChatService.
type chatService struct {
	db            *mongo.Database
	client        *mongo.Client
	notifications INotificationService
	publisher     realtime.IPublisher
}

// NewChatService creates a new ChatService.
func NewChatService(database *mongo.Database, client *mongo.Client, notifications INotificationService, publisher realtime.IPublisher) IChatService {
	return &chatService{db: database, client: client, notifications: notifications, publisher: publisher}
}

// GetOrCreateConversation returns the single conversation for (job, client,
// provider), creating it on first contact. The unique index resolves a
// concurrent double-create: the loser re-reads the winner's document.
func (s *chatService) GetOrCreateConversation(ctx context.Context, identity auth.Identity, jobID, providerID primitive.ObjectID, proposalID *primitive.ObjectID) (*models.Conversation, error) {
	var job models.Job
	err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", jobID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding job %s: %w", jobID.Hex(), err)
	}
	if providerID == job.ClientID {
		return nil, fmt.Errorf("%w: provider cannot be the job owner", ErrValidation)
	}
	if identity.UserID != job.ClientID && identity.UserID != providerID {
		return nil, fmt.Errorf("you are not a party to this conversation: %w", ErrForbidden)
	}

	filter := bson.M{"job_id": jobID, "client_id": job.ClientID, "provider_id": providerID}
	var existing models.Conversation
	err = s.db.Collection(conversationsCollection).FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error finding conversation: %w", err)
	}

	now := time.Now().UTC()
	conversation := &models.Conversation{
		JobID:      jobID,
		ClientID:   job.ClientID,
		ProviderID: providerID,
		ProposalID: proposalID,
		Status:     models.ConversationStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(conversationsCollection), conversation); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			if err := s.db.Collection(conversationsCollection).FindOne(ctx, filter).Decode(&existing); err != nil {
				return nil, fmt.Errorf("error re-reading conversation after duplicate insert: %w", err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("error inserting conversation: %w", err)
	}
	return conversation, nil
}

// ListConversations lists all conversations the user takes part in, most
// recently touched first.
func (s *chatService) ListConversations(ctx context.Context, identity auth.Identity) ([]models.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"client_id": identity.UserID},
		bson.M{"provider_id": identity.UserID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.db.Collection(conversationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding conversations for user %s: %w", identity.UserID.Hex(), err)
	}
	defer cursor.Close(ctx)

	conversations := []models.Conversation{}
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("error decoding conversations: %w", err)
	}
	return conversations, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *chatService) ListMessages(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, limit int) ([]models.Message, error) {
	if _, err := s.requireParty(ctx, identity, conversationID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(messagesCollection).Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding messages for conversation %s: %w", conversationID.Hex(), err)
	}
	defer cursor.Close(ctx)

	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("error decoding messages: %w", err)
	}
	return messages, nil
}

// SendMessage posts a text or image message and notifies the counterparty.
func (s *chatService) SendMessage(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, content string, msgType models.MessageType, attachmentURL string) (*models.Message, error) {
	switch msgType {
	case models.MessageTypeText:
		if content == "" {
			return nil, fmt.Errorf("%w: message content is required", ErrValidation)
		}
	case models.MessageTypeImage:
		if attachmentURL == "" {
			return nil, fmt.Errorf("%w: image message requires an attachment", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %q", ErrValidation, msgType)
	}

	conversation, err := s.requireParty(ctx, identity, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != models.ConversationStatusActive {
		return nil, fmt.Errorf("conversation %s is closed: %w", conversationID.Hex(), ErrConflict)
	}

	message, err := s.insertMessage(ctx, &models.Message{
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		Type:           msgType,
		Content:        content,
		AttachmentURL:  attachmentURL,
	})
	if err != nil {
		return nil, err
	}

	counterparty := conversation.Counterparty(identity.UserID)
	s.notifications.Notify(ctx, counterparty, models.NotificationMessageReceived,
		"New Message",
		truncate(content, 120),
		NotificationRefs{JobID: &conversation.JobID, ConversationID: &conversation.ID})
	s.publisher.PublishToConversation(ctx, conversation.ID, realtime.Event{Kind: "message", ID: message.ID.Hex()})

	return message, nil
}

// SendOffer posts an informal offer into the chat. No proposal row exists
// until the counterparty accepts.
func (s *chatService) SendOffer(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, offer OfferParams) (*models.Message, error) {
	conversation, err := s.requireParty(ctx, identity, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != models.ConversationStatusActive {
		return nil, fmt.Errorf("conversation %s is closed: %w", conversationID.Hex(), ErrConflict)
	}

	negotiation := &models.NegotiationData{
		Kind:               models.NegotiationKindOffer,
		Status:             models.ProposalStatusPending,
		ServiceDescription: offer.ServiceDescription,
		ProposedCost:       offer.ProposedCost,
		ServiceDate:        offer.ServiceDate,
		ServiceTime:        offer.ServiceTime,
		AdditionalNotes:    offer.AdditionalNotes,
	}
	if err := negotiation.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	message, err := s.insertMessage(ctx, &models.Message{
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		Type:           models.MessageTypeNegotiation,
		Content:        fmt.Sprintf("Offer: %s for ৳%.2f", offer.ServiceDescription, offer.ProposedCost),
		Negotiation:    negotiation,
	})
	if err != nil {
		return nil, err
	}

	counterparty := conversation.Counterparty(identity.UserID)
	s.notifications.Notify(ctx, counterparty, models.NotificationMessageReceived,
		"New Offer",
		fmt.Sprintf("You received an offer of ৳%.2f", offer.ProposedCost),
		NotificationRefs{JobID: &conversation.JobID, ConversationID: &conversation.ID})
	s.publisher.PublishToConversation(ctx, conversation.ID, realtime.Event{Kind: "offer", ID: message.ID.Hex()})

	return message, nil
}

// AcceptOffer turns a pending chat offer into a deal: an accepted proposal row
// is materialized first, then the deal, the job moves to in_progress and the
// offer payload flips to accepted, all in one transaction. Only the
// counterparty of the offer's sender may accept.
func (s *chatService) AcceptOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) (*models.Deal, error) {
	message, conversation, err := s.findOffer(ctx, identity, messageID)
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := s.db.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": conversation.JobID}).Decode(&job); err != nil {
		return nil, fmt.Errorf("error finding job %s for conversation %s: %w", conversation.JobID.Hex(), conversation.ID.Hex(), err)
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("job %s is %s, not open: %w", job.ID.Hex(), job.Status, ErrConflict)
	}

	result, err := db.WithTransaction(ctx, s.client, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.decideOfferMessage(sc, messageID, models.ProposalStatusAccepted); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		proposal := &models.Proposal{
			JobID:      job.ID,
			ProviderID: conversation.ProviderID,
			Amount:     message.Negotiation.CostAmount(),
			Message:    message.Negotiation.ServiceDescription,
			Status:     models.ProposalStatusAccepted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := db.InsertOne(sc, s.db.Collection(proposalsCollection), proposal); err != nil {
			if db.IsMongoDuplicateKeyError(err) {
				return nil, fmt.Errorf("provider already has a live proposal on this job: %w", ErrConflict)
			}
			return nil, fmt.Errorf("error materializing proposal from offer %s: %w", messageID.Hex(), err)
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

	// Best-effort follow-ups; the deal is committed either way.
	confirmation := fmt.Sprintf("✅ Offer accepted! Deal created for ৳%.2f", deal.AgreedAmount)
	if _, err := s.insertMessage(ctx, &models.Message{
		ConversationID: conversation.ID,
		SenderID:       identity.UserID,
		Type:           models.MessageTypeText,
		Content:        confirmation,
	}); err != nil {
		logServiceWarning("posting acceptance confirmation for offer %s: %v", messageID.Hex(), err)
	}

	s.notifications.Notify(ctx, message.SenderID, models.NotificationDealCreated,
		"Deal Created!",
		fmt.Sprintf("Your offer of ৳%.2f on %q was accepted", deal.AgreedAmount, job.Title),
		NotificationRefs{JobID: &job.ID, ProposalID: &deal.ProposalID, DealID: &deal.ID, ConversationID: &conversation.ID})
	s.publisher.PublishToConversation(ctx, conversation.ID, realtime.Event{Kind: "deal", ID: deal.ID.Hex()})

	return deal, nil
}

// RejectOffer flips a pending chat offer to rejected and posts a rejection
// note. Nothing outside the chat is touched.
func (s *chatService) RejectOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error {
	message, conversation, err := s.findOffer(ctx, identity, messageID)
	if err != nil {
		return err
	}

	if err := s.decideOfferMessage(ctx, messageID, models.ProposalStatusRejected); err != nil {
		return err
	}

	if _, err := s.insertMessage(ctx, &models.Message{
		ConversationID: conversation.ID,
		SenderID:       identity.UserID,
		Type:           models.MessageTypeText,
		Content:        "❌ Offer rejected. You can send a new offer or continue negotiating.",
	}); err != nil {
		logServiceWarning("posting rejection note for offer %s: %v", messageID.Hex(), err)
	}

	s.publisher.PublishToConversation(ctx, conversation.ID, realtime.Event{Kind: "offer", ID: message.ID.Hex()})
	return nil
}

// MarkMessageRead sets the read receipt once. Only the recipient can mark a
// message read; re-marking is a no-op preserving the first read time.
func (s *chatService) MarkMessageRead(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error {
	var message models.Message
	err := s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": messageID}).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("message %s: %w", messageID.Hex(), ErrNotFound)
		}
		return fmt.Errorf("error finding message %s: %w", messageID.Hex(), err)
	}
	if _, err := s.requireParty(ctx, identity, message.ConversationID); err != nil {
		return err
	}
	if message.SenderID == identity.UserID {
		return fmt.Errorf("cannot mark your own message read: %w", ErrForbidden)
	}

	filter := bson.M{"_id": messageID, "read_at": nil}
	update := bson.M{"$set": bson.M{"read_at": time.Now().UTC()}}
	if _, err := s.db.Collection(messagesCollection).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("db error marking message %s read: %w", messageID.Hex(), err)
	}
	return nil
}

// requireParty loads the conversation and checks the caller is one of its two
// sides.
func (s *chatService) requireParty(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.Collection(conversationsCollection).FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID.Hex(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding conversation %s: %w", conversationID.Hex(), err)
	}
	if !conversation.IsParty(identity.UserID) && !identity.IsAdmin {
		return nil, fmt.Errorf("you are not a party to conversation %s: %w", conversationID.Hex(), ErrForbidden)
	}
	return &conversation, nil
}

// findOffer loads a pending offer message and verifies the caller is the
// counterparty of its sender.
func (s *chatService) findOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) (*models.Message, *models.Conversation, error) {
	var message models.Message
	err := s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": messageID}).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, fmt.Errorf("message %s: %w", messageID.Hex(), ErrNotFound)
		}
		return nil, nil, fmt.Errorf("error finding message %s: %w", messageID.Hex(), err)
	}
	if message.Type != models.MessageTypeNegotiation || message.Negotiation == nil {
		return nil, nil, fmt.Errorf("message %s is not a negotiation message: %w", messageID.Hex(), ErrValidation)
	}
	if message.Negotiation.Kind != models.NegotiationKindOffer {
		return nil, nil, fmt.Errorf("message %s mirrors a formal proposal; act on the proposal instead: %w", messageID.Hex(), ErrConflict)
	}
	if message.Negotiation.Status != models.ProposalStatusPending {
		return nil, nil, fmt.Errorf("offer %s is already %s: %w", messageID.Hex(), message.Negotiation.Status, ErrConflict)
	}

	conversation, err := s.requireParty(ctx, identity, message.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if message.SenderID == identity.UserID {
		return nil, nil, fmt.Errorf("cannot act on your own offer: %w", ErrForbidden)
	}
	return &message, conversation, nil
}

// decideOfferMessage conditionally flips a pending offer payload to a terminal
// status. MatchedCount==0 means another decision won the race.
func (s *chatService) decideOfferMessage(ctx context.Context, messageID primitive.ObjectID, status models.ProposalStatus) error {
	filter := bson.M{"_id": messageID, "negotiation.status": models.ProposalStatusPending}
	update := bson.M{"$set": bson.M{"negotiation.status": status}}
	result, err := s.db.Collection(messagesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error updating offer %s: %w", messageID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("offer %s is already decided: %w", messageID.Hex(), ErrConflict)
	}
	return nil
}

func (s *chatService) insertMessage(ctx context.Context, message *models.Message) (*models.Message, error) {
	message.CreatedAt = time.Now().UTC()
	if _, err := db.InsertOne(ctx, s.db.Collection(messagesCollection), message); err != nil {
		return nil, fmt.Errorf("error inserting message: %w", err)
	}

	// Touch the conversation so listings sort by recent activity.
	touch := bson.M{"$set": bson.M{"updated_at": message.CreatedAt}}
	if _, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, bson.M{"_id": message.ConversationID}, touch); err != nil {
		logServiceWarning("touching conversation %s: %v", message.ConversationID.Hex(), err)
	}
	return message, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
