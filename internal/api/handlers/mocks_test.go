package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/models"
	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// --- Mocks ---

// MockProfileService implements services.IProfileService
type MockProfileService struct {
	mock.Mock
}

func (m *MockProfileService) Register(ctx context.Context, email, password, fullName string, userType models.UserType, location, phone string) (*models.Profile, error) {
	args := m.Called(ctx, email, password, fullName, userType, location, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileService) Authenticate(ctx context.Context, email, password string) (*models.Profile, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileService) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileService) UpdateNotificationPreferences(ctx context.Context, identity auth.Identity, prefs models.NotificationPreferences) error {
	args := m.Called(ctx, identity, prefs)
	return args.Error(0)
}

// MockJobService implements services.IJobService
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) CreateJob(ctx context.Context, identity auth.Identity, title, description, category, location string, budgetMin, budgetMax float64, urgent bool) (*models.Job, error) {
	args := m.Called(ctx, identity, title, description, category, location, budgetMin, budgetMax, urgent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobService) CancelJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) error {
	args := m.Called(ctx, identity, jobID)
	return args.Error(0)
}

func (m *MockJobService) FindJobByID(ctx context.Context, jobID primitive.ObjectID) (*models.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobService) SearchOpenJobs(ctx context.Context, params services.JobSearchParams) ([]models.Job, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *MockJobService) FindJobsByClient(ctx context.Context, clientID primitive.ObjectID) ([]models.Job, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

// MockProposalService implements services.IProposalService
type MockProposalService struct {
	mock.Mock
}

func (m *MockProposalService) CreateProposal(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID, amount float64, message string) (*models.Proposal, error) {
	args := m.Called(ctx, identity, jobID, amount, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalService) AcceptProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) (*models.Deal, error) {
	args := m.Called(ctx, identity, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockProposalService) RejectProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID) error {
	args := m.Called(ctx, identity, proposalID)
	return args.Error(0)
}

func (m *MockProposalService) CounterProposal(ctx context.Context, identity auth.Identity, proposalID primitive.ObjectID, newAmount float64, message string) (*models.Proposal, error) {
	args := m.Called(ctx, identity, proposalID, newAmount, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalService) AcceptBudget(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) (*models.Deal, error) {
	args := m.Called(ctx, identity, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockProposalService) FindProposalByID(ctx context.Context, proposalID primitive.ObjectID) (*models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalService) FindProposalsByJob(ctx context.Context, identity auth.Identity, jobID primitive.ObjectID) ([]models.Proposal, error) {
	args := m.Called(ctx, identity, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Proposal), args.Error(1)
}

func (m *MockProposalService) FindProposalsByProvider(ctx context.Context, providerID primitive.ObjectID) ([]models.Proposal, error) {
	args := m.Called(ctx, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Proposal), args.Error(1)
}

// MockDealService implements services.IDealService
type MockDealService struct {
	mock.Mock
}

func (m *MockDealService) MarkDealCompleted(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error) {
	args := m.Called(ctx, identity, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockDealService) FindDealByID(ctx context.Context, identity auth.Identity, dealID primitive.ObjectID) (*models.Deal, error) {
	args := m.Called(ctx, identity, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockDealService) FindDealsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Deal, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Deal), args.Error(1)
}

// MockChatService implements services.IChatService
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) GetOrCreateConversation(ctx context.Context, identity auth.Identity, jobID, providerID primitive.ObjectID, proposalID *primitive.ObjectID) (*models.Conversation, error) {
	args := m.Called(ctx, identity, jobID, providerID, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockChatService) ListConversations(ctx context.Context, identity auth.Identity) ([]models.Conversation, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockChatService) ListMessages(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, limit int) ([]models.Message, error) {
	args := m.Called(ctx, identity, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockChatService) SendMessage(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, content string, msgType models.MessageType, attachmentURL string) (*models.Message, error) {
	args := m.Called(ctx, identity, conversationID, content, msgType, attachmentURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) SendOffer(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID, offer services.OfferParams) (*models.Message, error) {
	args := m.Called(ctx, identity, conversationID, offer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) AcceptOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) (*models.Deal, error) {
	args := m.Called(ctx, identity, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockChatService) RejectOffer(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error {
	args := m.Called(ctx, identity, messageID)
	return args.Error(0)
}

func (m *MockChatService) MarkMessageRead(ctx context.Context, identity auth.Identity, messageID primitive.ObjectID) error {
	args := m.Called(ctx, identity, messageID)
	return args.Error(0)
}

// MockNotificationService implements services.INotificationService
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) Notify(ctx context.Context, userID primitive.ObjectID, ntype models.NotificationType, title, message string, refs services.NotificationRefs) {
	m.Called(ctx, userID, ntype, title, message, refs)
}

func (m *MockNotificationService) ListGrouped(ctx context.Context, identity auth.Identity) ([]models.NotificationGroup, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.NotificationGroup), args.Error(1)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, identity auth.Identity, notificationID primitive.ObjectID) error {
	args := m.Called(ctx, identity, notificationID)
	return args.Error(0)
}

func (m *MockNotificationService) MarkConversationRead(ctx context.Context, identity auth.Identity, conversationID primitive.ObjectID) error {
	args := m.Called(ctx, identity, conversationID)
	return args.Error(0)
}

func (m *MockNotificationService) MarkAllRead(ctx context.Context, identity auth.Identity) (int64, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(int64), args.Error(1)
}

// MockCatalogService implements services.ICatalogService
type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) ListCategories(ctx context.Context) []models.Category {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.Category)
}

func (m *MockCatalogService) IsActiveCategory(ctx context.Context, slug string) bool {
	args := m.Called(ctx, slug)
	return args.Bool(0)
}

func (m *MockCatalogService) UpsertCategory(ctx context.Context, category models.Category) error {
	args := m.Called(ctx, category)
	return args.Error(0)
}

func (m *MockCatalogService) Load(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCatalogService) SubscribeToChanges(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, userID, conversationID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, userID, conversationID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
