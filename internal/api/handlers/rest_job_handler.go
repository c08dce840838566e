package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/api/middleware"
	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// restError writes the HTTP status and message for a service error.
func restError(c *gin.Context, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallbackMsg})
	}
}

// restIdentity returns the identity set by AuthMiddleware, aborting with 401
// when absent.
func restIdentity(c *gin.Context) (auth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
	return identity, ok
}

// parseIDParam parses the :id path parameter as an ObjectID.
func parseIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// RestJobHandler handles REST requests for jobs and their proposals.
type RestJobHandler struct {
	jobService      services.IJobService
	proposalService services.IProposalService
}

// NewRestJobHandler creates a new RestJobHandler.
func NewRestJobHandler(jobService services.IJobService, proposalService services.IProposalService) *RestJobHandler {
	return &RestJobHandler{
		jobService:      jobService,
		proposalService: proposalService,
	}
}

// SearchJobs handles GET /v1/job/search
func (h *RestJobHandler) SearchJobs(c *gin.Context) {
	params := services.JobSearchParams{
		Category: c.Query("category"),
		Location: c.Query("location"),
	}

	if urgentStr := c.Query("urgent"); urgentStr != "" {
		urgent, err := strconv.ParseBool(urgentStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid urgent flag"})
			return
		}
		params.Urgent = &urgent
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		params.Limit = limit
	}
	if skipStr := c.Query("skip"); skipStr != "" {
		skip, err := strconv.Atoi(skipStr)
		if err != nil || skip < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid skip"})
			return
		}
		params.Skip = skip
	}

	jobs, err := h.jobService.SearchOpenJobs(c.Request.Context(), params)
	if err != nil {
		restError(c, err, "Failed to search jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// GetJobByID handles GET /v1/job/:id
func (h *RestJobHandler) GetJobByID(c *gin.Context) {
	jobID, ok := parseIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobService.FindJobByID(c.Request.Context(), jobID)
	if err != nil {
		restError(c, err, "Failed to retrieve job")
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetJobProposals handles GET /v1/job/:id/proposals (job owner only)
func (h *RestJobHandler) GetJobProposals(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}
	jobID, ok := parseIDParam(c)
	if !ok {
		return
	}

	proposals, err := h.proposalService.FindProposalsByJob(c.Request.Context(), identity, jobID)
	if err != nil {
		restError(c, err, "Failed to retrieve proposals")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": proposals})
}

// GetMyJobs handles GET /v1/my/jobs
func (h *RestJobHandler) GetMyJobs(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}

	jobs, err := h.jobService.FindJobsByClient(c.Request.Context(), identity.UserID)
	if err != nil {
		restError(c, err, "Failed to retrieve jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// GetMyProposals handles GET /v1/my/proposals
func (h *RestJobHandler) GetMyProposals(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}

	proposals, err := h.proposalService.FindProposalsByProvider(c.Request.Context(), identity.UserID)
	if err != nil {
		restError(c, err, "Failed to retrieve proposals")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": proposals})
}
