package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/config"
	"github.com/rabby0101/khulna-hub-services/internal/models"
	"github.com/rabby0101/khulna-hub-services/internal/services"
	"github.com/rabby0101/khulna-hub-services/internal/storage"
	"github.com/rabby0101/khulna-hub-services/internal/tasks"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the
// handler. This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg                 *config.Config
	db                  *mongo.Database
	rdb                 *redis.Client
	taskClient          IAsynqClient
	profileService      services.IProfileService
	jobService          services.IJobService
	proposalService     services.IProposalService
	dealService         services.IDealService
	chatService         services.IChatService
	notificationService services.INotificationService
	catalogService      services.ICatalogService
	storageService      storage.IS3Storage
	methods             map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
// Accepts interfaces for dependencies.
func NewJsonApiHandler(
	cfg *config.Config,
	db *mongo.Database,
	rdb *redis.Client,
	taskClient IAsynqClient,
	profileService services.IProfileService,
	jobService services.IJobService,
	proposalService services.IProposalService,
	dealService services.IDealService,
	chatService services.IChatService,
	notificationService services.INotificationService,
	catalogService services.ICatalogService,
	storageService storage.IS3Storage,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:                 cfg,
		db:                  db,
		rdb:                 rdb,
		taskClient:          taskClient,
		profileService:      profileService,
		jobService:          jobService,
		proposalService:     proposalService,
		dealService:         dealService,
		chatService:         chatService,
		notificationService: notificationService,
		catalogService:      catalogService,
		storageService:      storageService,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                              h.ping,
		"register":                          h.register,
		"login":                             h.login,
		"refreshToken":                      h.refreshToken,
		"createJob":                         h.createJob,
		"cancelJob":                         h.cancelJob,
		"createProposal":                    h.createProposal,
		"acceptProposal":                    h.acceptProposal,
		"rejectProposal":                    h.rejectProposal,
		"counterProposal":                   h.counterProposal,
		"acceptBudget":                      h.acceptBudget,
		"markDealCompleted":                 h.markDealCompleted,
		"getOrCreateConversation":           h.getOrCreateConversation,
		"sendMessage":                       h.sendMessage,
		"sendOffer":                         h.sendOffer,
		"acceptOffer":                       h.acceptOffer,
		"rejectOffer":                       h.rejectOffer,
		"markMessageRead":                   h.markMessageRead,
		"markNotificationRead":              h.markNotificationRead,
		"markConversationNotificationsRead": h.markConversationNotificationsRead,
		"markAllNotificationsRead":          h.markAllNotificationsRead,
		"updateNotificationPreferences":     h.updateNotificationPreferences,
		"getUploadURL":                      h.getUploadURL,
		"confirmImageUpload":                h.confirmImageUpload,
		"upsertCategory":                    h.upsertCategory,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	authErr := h.checkAuthForMethod(c, req.Method)
	if authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	var result interface{}
	var apiErr *ApiError

	if handlerFunc, ok := h.methods[req.Method]; ok {
		result, apiErr = handlerFunc(c, req.Arguments)
	} else {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details.
type AuthResult struct {
	Identity *auth.Identity // nil for guests
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)
	var authRes *AuthResult

	if !needsAuth && !needsAdmin {
		// If method is public, check if an optional Auth header is present anyway
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
			if err == nil {
				if identity, idErr := auth.IdentityFromClaims(claims); idErr == nil {
					authRes = &AuthResult{Identity: &identity}
				}
			} else {
				log.Printf("DEBUG: Invalid optional auth token provided for method %s: %v", method, err)
			}
		}
		if authRes == nil {
			authRes = &AuthResult{Identity: nil} // Guest
		}
		ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
		c.Request = c.Request.WithContext(ctx)
		return nil
	}

	// Auth is required
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	tokenString := parts[1]
	claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
	if err != nil {
		log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}

	identity, idErr := auth.IdentityFromClaims(claims)
	if idErr != nil {
		log.Printf("ERROR: Invalid UserID (%s) in valid JWT for method %s", claims.UserID, method)
		return NewApiError("Internal error")
	}

	if needsAdmin && !identity.IsAdmin {
		log.Printf("DEBUG: Admin privileges required but not present for method %s", method)
		return NewApiError("Administrator privileges required")
	}

	authRes = &AuthResult{Identity: &identity}
	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	// List authenticated methods
	case "refreshToken",
		"createJob",
		"cancelJob",
		"createProposal",
		"acceptProposal",
		"rejectProposal",
		"counterProposal",
		"acceptBudget",
		"markDealCompleted",
		"getOrCreateConversation",
		"sendMessage",
		"sendOffer",
		"acceptOffer",
		"rejectOffer",
		"markMessageRead",
		"markNotificationRead",
		"markConversationNotificationsRead",
		"markAllNotificationsRead",
		"updateNotificationPreferences",
		"getUploadURL",
		"confirmImageUpload",
		"upsertCategory": // Admin, so requires auth
		return true

	// Public methods by default
	case "ping",
		"register",
		"login":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to false (public)", method)
		return false
	}
}

// methodRequiresAdmin checks if a given API method requires admin privileges.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "upsertCategory":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	resp := JsonApiResponse{Success: false, Error: message}
	c.JSON(http.StatusOK, resp)
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// apiErrorFromService maps a service error to an API error. Classified
// failures surface their message; anything else is an opaque internal error.
func apiErrorFromService(err error) *ApiError {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrConflict):
		return NewApiError(err.Error())
	}
	log.Printf("ERROR: internal service failure: %v", err)
	return NewApiError("Internal error")
}

// identityFromRequest returns the authenticated identity; methods that list
// themselves in methodRequiresAuth can rely on it being present.
func identityFromRequest(c *gin.Context) (auth.Identity, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.Identity == nil {
		return auth.Identity{}, NewApiError("Authentication required")
	}
	return *authInfo.Identity, nil
}

// parseRequiredSingleArgFromArray unmarshals the first element of the
// 'arguments' array into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil { // 'arguments' field was not provided
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	actualArgData := argArray[0]
	if err := json.Unmarshal(actualArgData, targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// parseObjectIDArg parses a single hex ObjectID argument.
func (h *JsonApiHandler) parseObjectIDArg(args json.RawMessage) (primitive.ObjectID, *ApiError) {
	var idHex string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &idHex); apiErr != nil {
		return primitive.NilObjectID, apiErr
	}
	id, err := primitive.ObjectIDFromHex(idHex)
	if err != nil {
		return primitive.NilObjectID, NewApiError("Invalid ID format")
	}
	return id, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthResponse defines the structure for authentication responses.
type AuthResponse struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	ID       string `json:"id"`
	UserType string `json:"user_type"`
}

// RegisterArgs defines the arguments for the register method.
type RegisterArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	UserType string `json:"user_type"`
	Location string `json:"location"`
	Phone    string `json:"phone"`
}

func (h *JsonApiHandler) register(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RegisterArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}

	ctx := c.Request.Context()
	profile, err := h.profileService.Register(ctx, reqArgs.Email, reqArgs.Password, reqArgs.FullName,
		models.UserType(reqArgs.UserType), reqArgs.Location, reqArgs.Phone)
	if err != nil {
		return nil, apiErrorFromService(err)
	}

	token, err := auth.GenerateJWT(profile.ID, profile.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for new user %s: %v", profile.ID.Hex(), err)
		return nil, NewApiError("Failed to generate session token")
	}

	log.Printf("Registered user %s (%s)", profile.ID.Hex(), profile.UserType)
	return AuthResponse{
		Token:    token,
		Email:    profile.Email,
		ID:       profile.ID.Hex(),
		UserType: string(profile.UserType),
	}, nil
}

// LoginArgs defines the arguments for the login method.
type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}

	ctx := c.Request.Context()
	profile, err := h.profileService.Authenticate(ctx, reqArgs.Email, reqArgs.Password)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			// Do not reveal whether the account exists or which check failed.
			log.Printf("Login attempt failed for %s", reqArgs.Email)
			return false, nil // Success: true, Data: false
		}
		return nil, apiErrorFromService(err)
	}

	token, err := auth.GenerateJWT(profile.ID, profile.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s: %v", profile.ID.Hex(), err)
		return nil, NewApiError("Failed to generate session token")
	}

	return AuthResponse{
		Token:    token,
		Email:    profile.Email,
		ID:       profile.ID.Hex(),
		UserType: string(profile.UserType),
	}, nil
}

func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	profile, err := h.profileService.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	if profile.Suspended {
		return nil, NewApiError("Account suspended")
	}

	token, err := auth.GenerateJWT(profile.ID, profile.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to refresh JWT for user %s: %v", profile.ID.Hex(), err)
		return nil, NewApiError("Failed to generate session token")
	}

	return gin.H{"token": token}, nil
}

// CreateJobArgs defines the arguments for the createJob method.
type CreateJobArgs struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Location    string  `json:"location"`
	BudgetMin   float64 `json:"budget_min"`
	BudgetMax   float64 `json:"budget_max"`
	Urgent      bool    `json:"urgent"`
}

func (h *JsonApiHandler) createJob(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs CreateJobArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	job, err := h.jobService.CreateJob(c.Request.Context(), identity, reqArgs.Title, reqArgs.Description,
		reqArgs.Category, reqArgs.Location, reqArgs.BudgetMin, reqArgs.BudgetMax, reqArgs.Urgent)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return job, nil
}

func (h *JsonApiHandler) cancelJob(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	jobID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.jobService.CancelJob(c.Request.Context(), identity, jobID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

// CreateProposalArgs defines the arguments for the createProposal method.
type CreateProposalArgs struct {
	JobID   string  `json:"job_id"`
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}

func (h *JsonApiHandler) createProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs CreateProposalArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	jobID, err := primitive.ObjectIDFromHex(reqArgs.JobID)
	if err != nil {
		return nil, NewApiError("Invalid job_id format")
	}

	proposal, err := h.proposalService.CreateProposal(c.Request.Context(), identity, jobID, reqArgs.Amount, reqArgs.Message)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return proposal, nil
}

func (h *JsonApiHandler) acceptProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	proposalID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	deal, err := h.proposalService.AcceptProposal(c.Request.Context(), identity, proposalID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deal, nil
}

func (h *JsonApiHandler) rejectProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	proposalID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.proposalService.RejectProposal(c.Request.Context(), identity, proposalID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

// CounterProposalArgs defines the arguments for the counterProposal method.
type CounterProposalArgs struct {
	ProposalID string  `json:"proposal_id"`
	Amount     float64 `json:"amount"`
	Message    string  `json:"message"`
}

func (h *JsonApiHandler) counterProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs CounterProposalArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	proposalID, err := primitive.ObjectIDFromHex(reqArgs.ProposalID)
	if err != nil {
		return nil, NewApiError("Invalid proposal_id format")
	}

	counter, err := h.proposalService.CounterProposal(c.Request.Context(), identity, proposalID, reqArgs.Amount, reqArgs.Message)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return counter, nil
}

func (h *JsonApiHandler) acceptBudget(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	jobID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	deal, err := h.proposalService.AcceptBudget(c.Request.Context(), identity, jobID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deal, nil
}

func (h *JsonApiHandler) markDealCompleted(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	dealID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	deal, err := h.dealService.MarkDealCompleted(c.Request.Context(), identity, dealID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deal, nil
}

// GetOrCreateConversationArgs defines the arguments for getOrCreateConversation.
type GetOrCreateConversationArgs struct {
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
	ProposalID string `json:"proposal_id,omitempty"`
}

func (h *JsonApiHandler) getOrCreateConversation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs GetOrCreateConversationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	jobID, err := primitive.ObjectIDFromHex(reqArgs.JobID)
	if err != nil {
		return nil, NewApiError("Invalid job_id format")
	}
	providerID, err := primitive.ObjectIDFromHex(reqArgs.ProviderID)
	if err != nil {
		return nil, NewApiError("Invalid provider_id format")
	}
	var proposalID *primitive.ObjectID
	if reqArgs.ProposalID != "" {
		pid, err := primitive.ObjectIDFromHex(reqArgs.ProposalID)
		if err != nil {
			return nil, NewApiError("Invalid proposal_id format")
		}
		proposalID = &pid
	}

	conversation, err := h.chatService.GetOrCreateConversation(c.Request.Context(), identity, jobID, providerID, proposalID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return conversation, nil
}

// SendMessageArgs defines the arguments for the sendMessage method.
type SendMessageArgs struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	conversationID, err := primitive.ObjectIDFromHex(reqArgs.ConversationID)
	if err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), identity, conversationID, reqArgs.Content, models.MessageTypeText, "")
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return msg, nil
}

// SendOfferArgs defines the arguments for the sendOffer method.
type SendOfferArgs struct {
	ConversationID     string  `json:"conversation_id"`
	ServiceDescription string  `json:"service_description"`
	ProposedCost       float64 `json:"proposed_cost"`
	ServiceDate        string  `json:"service_date"`
	ServiceTime        string  `json:"service_time"`
	AdditionalNotes    string  `json:"additional_notes"`
}

func (h *JsonApiHandler) sendOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs SendOfferArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	conversationID, err := primitive.ObjectIDFromHex(reqArgs.ConversationID)
	if err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}

	msg, err := h.chatService.SendOffer(c.Request.Context(), identity, conversationID, services.OfferParams{
		ServiceDescription: reqArgs.ServiceDescription,
		ProposedCost:       reqArgs.ProposedCost,
		ServiceDate:        reqArgs.ServiceDate,
		ServiceTime:        reqArgs.ServiceTime,
		AdditionalNotes:    reqArgs.AdditionalNotes,
	})
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return msg, nil
}

func (h *JsonApiHandler) acceptOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	messageID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	deal, err := h.chatService.AcceptOffer(c.Request.Context(), identity, messageID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deal, nil
}

func (h *JsonApiHandler) rejectOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	messageID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.chatService.RejectOffer(c.Request.Context(), identity, messageID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

func (h *JsonApiHandler) markMessageRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	messageID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.chatService.MarkMessageRead(c.Request.Context(), identity, messageID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

func (h *JsonApiHandler) markNotificationRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	notificationID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), identity, notificationID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

func (h *JsonApiHandler) markConversationNotificationsRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}
	conversationID, apiErr := h.parseObjectIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.notificationService.MarkConversationRead(c.Request.Context(), identity, conversationID); err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

func (h *JsonApiHandler) markAllNotificationsRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	count, err := h.notificationService.MarkAllRead(c.Request.Context(), identity)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return gin.H{"marked": count}, nil
}

// UpdateNotificationPreferencesArgs defines the per-kind email opt-ins.
type UpdateNotificationPreferencesArgs struct {
	Proposal bool `json:"proposal"`
	Offer    bool `json:"offer"`
	Deal     bool `json:"deal"`
	Message  bool `json:"message"`
}

func (h *JsonApiHandler) updateNotificationPreferences(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs UpdateNotificationPreferencesArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	err := h.profileService.UpdateNotificationPreferences(c.Request.Context(), identity, models.NotificationPreferences{
		Proposal: reqArgs.Proposal,
		Offer:    reqArgs.Offer,
		Deal:     reqArgs.Deal,
		Message:  reqArgs.Message,
	})
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}

// GetUploadURLArgs defines the arguments for the getUploadURL method.
type GetUploadURLArgs struct {
	ConversationID string `json:"conversation_id"`
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs GetUploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if reqArgs.ConversationID == "" || reqArgs.Filename == "" || reqArgs.ContentType == "" {
		return nil, NewApiError("Missing required arguments (conversation_id, filename, content_type)")
	}
	if !strings.HasPrefix(reqArgs.ContentType, "image/") {
		return nil, NewApiError("Only image uploads are supported")
	}

	// Membership is enforced when the processed image is posted into the
	// conversation; the key is namespaced by user either way.
	if _, err := primitive.ObjectIDFromHex(reqArgs.ConversationID); err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}

	ctx := c.Request.Context()
	presignedURL, objectKey, err := h.storageService.GeneratePresignedPutURL(ctx,
		identity.UserID.Hex(),
		reqArgs.ConversationID,
		reqArgs.Filename,
		reqArgs.ContentType,
	)
	if err != nil {
		log.Printf("Error generating presigned URL for user %s, conversation %s: %v", identity.UserID.Hex(), reqArgs.ConversationID, err)
		return nil, NewApiError("Failed to generate upload URL")
	}

	// The client uploads directly to S3 and then calls confirmImageUpload
	// with the returned object key.
	return gin.H{
		"upload_url": presignedURL,
		"object_key": objectKey,
	}, nil
}

// ConfirmImageUploadArgs defines the arguments for the confirmImageUpload method.
type ConfirmImageUploadArgs struct {
	ConversationID string `json:"conversation_id"`
	ObjectKey      string `json:"object_key"` // The key returned by getUploadURL
}

func (h *JsonApiHandler) confirmImageUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	identity, apiErr := identityFromRequest(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs ConfirmImageUploadArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if reqArgs.ConversationID == "" || reqArgs.ObjectKey == "" {
		return nil, NewApiError("Missing required arguments (conversation_id, object_key)")
	}
	if _, err := primitive.ObjectIDFromHex(reqArgs.ConversationID); err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}
	// Only keys this user was issued can be confirmed.
	expectedPrefix := fmt.Sprintf("uploads/%s/", identity.UserID.Hex())
	if !strings.HasPrefix(reqArgs.ObjectKey, expectedPrefix) {
		return nil, NewApiError("Object key does not belong to this user")
	}

	ctx := c.Request.Context()
	task, err := tasks.NewImageProcessTask(tasks.ImageTaskPayload{
		S3Key:          reqArgs.ObjectKey,
		ConversationID: reqArgs.ConversationID,
		UploaderID:     identity.UserID.Hex(),
	})
	if err != nil {
		log.Printf("ERROR building image processing task for key %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("Failed to schedule image processing")
	}

	taskInfo, err := h.taskClient.EnqueueContext(ctx, task)
	if err != nil {
		log.Printf("ERROR enqueuing image processing task for key %s, conversation %s: %v", reqArgs.ObjectKey, reqArgs.ConversationID, err)
		return nil, NewApiError("Failed to schedule image processing")
	}

	log.Printf("Enqueued image processing task ID %s for key %s, conversation %s", taskInfo.ID, reqArgs.ObjectKey, reqArgs.ConversationID)

	// The message appears in the conversation once processing finishes.
	return gin.H{
		"message": "Image upload confirmed, processing scheduled.",
		"task_id": taskInfo.ID,
	}, nil
}

// UpsertCategoryArgs defines the arguments for the upsertCategory method.
type UpsertCategoryArgs struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (h *JsonApiHandler) upsertCategory(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UpsertCategoryArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Slug == "" || reqArgs.Name == "" {
		return nil, NewApiError("Missing required arguments (slug, name)")
	}

	err := h.catalogService.UpsertCategory(c.Request.Context(), models.Category{
		Slug:   reqArgs.Slug,
		Name:   reqArgs.Name,
		Active: reqArgs.Active,
	})
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return true, nil
}
