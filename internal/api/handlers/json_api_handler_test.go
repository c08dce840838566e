package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/api/handlers"
	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/config"
	"github.com/rabby0101/khulna-hub-services/internal/models"
	"github.com/rabby0101/khulna-hub-services/internal/services"
	"github.com/rabby0101/khulna-hub-services/internal/tasks"
)

// --- Test Setup ---

type apiTestMocks struct {
	profile      *MockProfileService
	job          *MockJobService
	proposal     *MockProposalService
	deal         *MockDealService
	chat         *MockChatService
	notification *MockNotificationService
	catalog      *MockCatalogService
	storage      *MockS3Storage
	taskClient   *MockAsynqClient
}

func setupTestRouter() (*gin.Engine, *config.Config, *apiTestMocks) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JwtSecret: "testsecret",
		JwtTTL:    time.Hour,
		AppName:   "TestApp",
	}
	m := &apiTestMocks{
		profile:      new(MockProfileService),
		job:          new(MockJobService),
		proposal:     new(MockProposalService),
		deal:         new(MockDealService),
		chat:         new(MockChatService),
		notification: new(MockNotificationService),
		catalog:      new(MockCatalogService),
		storage:      new(MockS3Storage),
		taskClient:   new(MockAsynqClient),
	}
	handler := handlers.NewJsonApiHandler(cfg, nil, nil, m.taskClient,
		m.profile, m.job, m.proposal, m.deal, m.chat, m.notification, m.catalog, m.storage)
	r := gin.New()
	r.POST("/v1/api", handler.HandleRequest)
	return r, cfg, m
}

func makeToken(t *testing.T, cfg *config.Config, userID primitive.ObjectID, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, isAdmin, cfg.JwtSecret, cfg.JwtTTL)
	assert.NoError(t, err)
	return token
}

func doApiCall(router *gin.Engine, method string, args string, token string) *httptest.ResponseRecorder {
	reqBody := handlers.JsonApiRequest{Method: method}
	if args != "" {
		reqBody.Arguments = json.RawMessage(args)
	}
	jsonBody, _ := json.Marshal(reqBody)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) handlers.JsonApiResponse {
	t.Helper()
	assert.Equal(t, http.StatusOK, w.Code)
	var resp handlers.JsonApiResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp
}

// --- Tests ---

func TestJsonApiHandler_Ping(t *testing.T) {
	router, _, _ := setupTestRouter()

	resp := parseResponse(t, doApiCall(router, "ping", "", ""))
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_UnknownMethod(t *testing.T) {
	router, _, _ := setupTestRouter()

	resp := parseResponse(t, doApiCall(router, "doSomethingElse", "", ""))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown method")
}

func TestJsonApiHandler_Register_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	userID := primitive.NewObjectID()
	m.profile.On("Register", mock.Anything, "rahim@example.com", "s3cretpass", "Rahim Uddin",
		models.UserTypeClient, "Khulna Sadar", "+8801700000000").
		Return(&models.Profile{
			Base:     models.Base{ID: userID},
			Email:    "rahim@example.com",
			FullName: "Rahim Uddin",
			UserType: models.UserTypeClient,
		}, nil)

	args := `[{"email":"rahim@example.com","password":"s3cretpass","full_name":"Rahim Uddin","user_type":"client","location":"Khulna Sadar","phone":"+8801700000000"}]`
	resp := parseResponse(t, doApiCall(router, "register", args, ""))

	assert.True(t, resp.Success)
	authData, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok, "Response data should be a map")
	assert.Equal(t, "rahim@example.com", authData["email"])
	assert.Equal(t, userID.Hex(), authData["id"])
	assert.Equal(t, "client", authData["user_type"])

	claims, jwtErr := auth.ValidateJWT(authData["token"].(string), cfg.JwtSecret)
	assert.NoError(t, jwtErr)
	assert.Equal(t, userID.Hex(), claims.UserID)
	m.profile.AssertExpectations(t)
}

func TestJsonApiHandler_Register_DuplicateEmail(t *testing.T) {
	router, _, m := setupTestRouter()

	m.profile.On("Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(nil, services.ErrEmailExists)

	args := `[{"email":"taken@example.com","password":"s3cretpass","full_name":"X","user_type":"client"}]`
	resp := parseResponse(t, doApiCall(router, "register", args, ""))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "already in use")
}

func TestJsonApiHandler_Register_InvalidEmail(t *testing.T) {
	router, _, m := setupTestRouter()

	args := `[{"email":"not-an-email","password":"s3cretpass","full_name":"X","user_type":"client"}]`
	resp := parseResponse(t, doApiCall(router, "register", args, ""))

	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_email", resp.Error)
	m.profile.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_Login_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	userID := primitive.NewObjectID()
	m.profile.On("Authenticate", mock.Anything, "karim@example.com", "password123").
		Return(&models.Profile{
			Base:     models.Base{ID: userID},
			Email:    "karim@example.com",
			UserType: models.UserTypeProvider,
		}, nil)

	args := `[{"email":"karim@example.com","password":"password123"}]`
	resp := parseResponse(t, doApiCall(router, "login", args, ""))

	assert.True(t, resp.Success)
	authData, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, userID.Hex(), authData["id"])

	claims, jwtErr := auth.ValidateJWT(authData["token"].(string), cfg.JwtSecret)
	assert.NoError(t, jwtErr)
	assert.Equal(t, userID.Hex(), claims.UserID)
	m.profile.AssertExpectations(t)
}

func TestJsonApiHandler_Login_BadCredentials(t *testing.T) {
	router, _, m := setupTestRouter()

	m.profile.On("Authenticate", mock.Anything, "karim@example.com", "wrong").
		Return(nil, fmt.Errorf("invalid credentials: %w", services.ErrForbidden))

	args := `[{"email":"karim@example.com","password":"wrong"}]`
	resp := parseResponse(t, doApiCall(router, "login", args, ""))

	// Auth failure is Data:false rather than an error; nothing about the
	// account is revealed.
	assert.True(t, resp.Success)
	assert.Equal(t, false, resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_CreateJob_RequiresAuth(t *testing.T) {
	router, _, m := setupTestRouter()

	args := `[{"title":"Fix sink","budget_min":500,"budget_max":1500}]`
	resp := parseResponse(t, doApiCall(router, "createJob", args, ""))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Authorization header required")
	m.job.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_CreateJob_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	clientID := primitive.NewObjectID()
	token := makeToken(t, cfg, clientID, false)

	jobID := primitive.NewObjectID()
	m.job.On("CreateJob", mock.Anything, auth.Identity{UserID: clientID}, "Fix kitchen sink",
		"Leaking pipe under the sink", "plumbing", "Sonadanga", 500.0, 1500.0, true).
		Return(&models.Job{
			Base:     models.Base{ID: jobID},
			ClientID: clientID,
			Title:    "Fix kitchen sink",
			Status:   models.JobStatusOpen,
		}, nil)

	args := `[{"title":"Fix kitchen sink","description":"Leaking pipe under the sink","category":"plumbing","location":"Sonadanga","budget_min":500,"budget_max":1500,"urgent":true}]`
	resp := parseResponse(t, doApiCall(router, "createJob", args, token))

	assert.True(t, resp.Success)
	jobData, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "open", jobData["status"])
	m.job.AssertExpectations(t)
}

func TestJsonApiHandler_CreateProposal_AlreadyApplied(t *testing.T) {
	router, cfg, m := setupTestRouter()

	providerID := primitive.NewObjectID()
	token := makeToken(t, cfg, providerID, false)
	jobID := primitive.NewObjectID()

	m.proposal.On("CreateProposal", mock.Anything, auth.Identity{UserID: providerID}, jobID, 800.0, "I can do it").
		Return(nil, services.ErrAlreadyApplied)

	args := fmt.Sprintf(`[{"job_id":"%s","amount":800,"message":"I can do it"}]`, jobID.Hex())
	resp := parseResponse(t, doApiCall(router, "createProposal", args, token))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "already applied")
}

func TestJsonApiHandler_AcceptProposal_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	clientID := primitive.NewObjectID()
	token := makeToken(t, cfg, clientID, false)
	proposalID := primitive.NewObjectID()
	dealID := primitive.NewObjectID()

	m.proposal.On("AcceptProposal", mock.Anything, auth.Identity{UserID: clientID}, proposalID).
		Return(&models.Deal{
			Base:         models.Base{ID: dealID},
			ClientID:     clientID,
			ProposalID:   proposalID,
			AgreedAmount: 800,
			Status:       models.DealStatusActive,
		}, nil)

	args := fmt.Sprintf(`["%s"]`, proposalID.Hex())
	resp := parseResponse(t, doApiCall(router, "acceptProposal", args, token))

	assert.True(t, resp.Success)
	dealData, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "active", dealData["status"])
	m.proposal.AssertExpectations(t)
}

func TestJsonApiHandler_AcceptProposal_NotOwner(t *testing.T) {
	router, cfg, m := setupTestRouter()

	token := makeToken(t, cfg, primitive.NewObjectID(), false)
	proposalID := primitive.NewObjectID()

	m.proposal.On("AcceptProposal", mock.Anything, mock.Anything, proposalID).
		Return(nil, fmt.Errorf("only the job owner can accept a proposal: %w", services.ErrForbidden))

	args := fmt.Sprintf(`["%s"]`, proposalID.Hex())
	resp := parseResponse(t, doApiCall(router, "acceptProposal", args, token))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "only the job owner")
}

func TestJsonApiHandler_AcceptOffer_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	clientID := primitive.NewObjectID()
	token := makeToken(t, cfg, clientID, false)
	messageID := primitive.NewObjectID()
	dealID := primitive.NewObjectID()

	m.chat.On("AcceptOffer", mock.Anything, auth.Identity{UserID: clientID}, messageID).
		Return(&models.Deal{
			Base:   models.Base{ID: dealID},
			Status: models.DealStatusActive,
		}, nil)

	args := fmt.Sprintf(`["%s"]`, messageID.Hex())
	resp := parseResponse(t, doApiCall(router, "acceptOffer", args, token))

	assert.True(t, resp.Success)
	m.chat.AssertExpectations(t)
}

func TestJsonApiHandler_SendMessage_InvalidConversationID(t *testing.T) {
	router, cfg, m := setupTestRouter()

	token := makeToken(t, cfg, primitive.NewObjectID(), false)
	args := `[{"conversation_id":"garbage","content":"hello"}]`
	resp := parseResponse(t, doApiCall(router, "sendMessage", args, token))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid conversation_id")
	m.chat.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_MarkAllNotificationsRead(t *testing.T) {
	router, cfg, m := setupTestRouter()

	userID := primitive.NewObjectID()
	token := makeToken(t, cfg, userID, false)

	m.notification.On("MarkAllRead", mock.Anything, auth.Identity{UserID: userID}).Return(int64(4), nil)

	resp := parseResponse(t, doApiCall(router, "markAllNotificationsRead", "", token))

	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, float64(4), data["marked"])
	m.notification.AssertExpectations(t)
}

func TestJsonApiHandler_ConfirmImageUpload_EnqueuesTask(t *testing.T) {
	router, cfg, m := setupTestRouter()

	userID := primitive.NewObjectID()
	token := makeToken(t, cfg, userID, false)
	conversationID := primitive.NewObjectID()
	objectKey := fmt.Sprintf("uploads/%s/%s/abc_photo.jpg", userID.Hex(), conversationID.Hex())

	m.taskClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypeImageProcess {
			return false
		}
		var p tasks.ImageTaskPayload
		e := json.Unmarshal(task.Payload(), &p)
		return e == nil && p.S3Key == objectKey && p.ConversationID == conversationID.Hex() && p.UploaderID == userID.Hex()
	}), mock.Anything).Return(&asynq.TaskInfo{ID: "task-1"}, nil)

	args := fmt.Sprintf(`[{"conversation_id":"%s","object_key":"%s"}]`, conversationID.Hex(), objectKey)
	resp := parseResponse(t, doApiCall(router, "confirmImageUpload", args, token))

	assert.True(t, resp.Success)
	m.taskClient.AssertExpectations(t)
}

func TestJsonApiHandler_ConfirmImageUpload_ForeignKeyRejected(t *testing.T) {
	router, cfg, m := setupTestRouter()

	token := makeToken(t, cfg, primitive.NewObjectID(), false)
	conversationID := primitive.NewObjectID()
	// Key issued to a different user
	objectKey := fmt.Sprintf("uploads/%s/%s/abc_photo.jpg", primitive.NewObjectID().Hex(), conversationID.Hex())

	args := fmt.Sprintf(`[{"conversation_id":"%s","object_key":"%s"}]`, conversationID.Hex(), objectKey)
	resp := parseResponse(t, doApiCall(router, "confirmImageUpload", args, token))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "does not belong")
	m.taskClient.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_GetUploadURL_Success(t *testing.T) {
	router, cfg, m := setupTestRouter()

	userID := primitive.NewObjectID()
	token := makeToken(t, cfg, userID, false)
	conversationID := primitive.NewObjectID()

	m.storage.On("GeneratePresignedPutURL", mock.Anything, userID.Hex(), conversationID.Hex(), "photo.jpg", "image/jpeg").
		Return("https://s3.example.com/presigned", "uploads/key", nil)

	args := fmt.Sprintf(`[{"conversation_id":"%s","filename":"photo.jpg","content_type":"image/jpeg"}]`, conversationID.Hex())
	resp := parseResponse(t, doApiCall(router, "getUploadURL", args, token))

	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "https://s3.example.com/presigned", data["upload_url"])
	assert.Equal(t, "uploads/key", data["object_key"])
	m.storage.AssertExpectations(t)
}

func TestJsonApiHandler_UpsertCategory_RequiresAdmin(t *testing.T) {
	router, cfg, m := setupTestRouter()

	token := makeToken(t, cfg, primitive.NewObjectID(), false)
	args := `[{"slug":"plumbing","name":"Plumbing","active":true}]`
	resp := parseResponse(t, doApiCall(router, "upsertCategory", args, token))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Administrator privileges required")
	m.catalog.AssertNotCalled(t, "UpsertCategory", mock.Anything, mock.Anything)
}

func TestJsonApiHandler_UpsertCategory_AdminSuccess(t *testing.T) {
	router, cfg, m := setupTestRouter()

	token := makeToken(t, cfg, primitive.NewObjectID(), true)
	m.catalog.On("UpsertCategory", mock.Anything, models.Category{Slug: "plumbing", Name: "Plumbing", Active: true}).Return(nil)

	args := `[{"slug":"plumbing","name":"Plumbing","active":true}]`
	resp := parseResponse(t, doApiCall(router, "upsertCategory", args, token))

	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Data)
	m.catalog.AssertExpectations(t)
}
