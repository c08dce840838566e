package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/api/handlers"
	"github.com/rabby0101/khulna-hub-services/internal/api/middleware"
	"github.com/rabby0101/khulna-hub-services/internal/config"
	"github.com/rabby0101/khulna-hub-services/internal/realtime"
	"github.com/rabby0101/khulna-hub-services/internal/services"
	"github.com/rabby0101/khulna-hub-services/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, emailEnqueuer services.EmailEnqueuer) *gin.Engine {
	// Initialize services needed by API handlers HERE
	publisher := realtime.NewPublisher(rdb)
	profileService := services.NewProfileService(db)
	notificationService := services.NewNotificationService(db, profileService, publisher, emailEnqueuer, cfg.DefaultLocale)
	catalogService := services.NewCatalogService(db, rdb)
	jobService := services.NewJobService(db, db.Client(), catalogService)
	proposalService := services.NewProposalService(db, db.Client(), notificationService)
	dealService := services.NewDealService(db, db.Client(), notificationService)
	chatService := services.NewChatService(db, db.Client(), notificationService, publisher)

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, db, rdb, taskClient,
		profileService, jobService, proposalService, dealService,
		chatService, notificationService, catalogService, s3StorageService)
	restJobHandler := handlers.NewRestJobHandler(jobService, proposalService)
	restDealHandler := handlers.NewRestDealHandler(dealService)
	restChatHandler := handlers.NewRestChatHandler(chatService)
	restNotificationHandler := handlers.NewRestNotificationHandler(notificationService)
	restCatalogHandler := handlers.NewRestCatalogHandler(catalogService)
	restProfileHandler := handlers.NewRestProfileHandler(profileService)

	v1 := r.Group("/v1")
	{
		// Public Routes (Rate limiting already applied globally)
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/categories", restCatalogHandler.GetCategories)

		// Job routes - search is public, anyone can browse open jobs
		v1.GET("/job/search", restJobHandler.SearchJobs)
		v1.GET("/job/:id", restJobHandler.GetJobByID)

		// User routes
		v1.GET("/user/:id", restProfileHandler.GetProfileByID)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated Routes (already have rate limiting from global middleware)
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/job/:id/proposals", restJobHandler.GetJobProposals)
			authRequired.GET("/my/jobs", restJobHandler.GetMyJobs)
			authRequired.GET("/my/proposals", restJobHandler.GetMyProposals)
			authRequired.GET("/my/deals", restDealHandler.GetMyDeals)
			authRequired.GET("/deal/:id", restDealHandler.GetDealByID)
			authRequired.GET("/my/conversations", restChatHandler.GetMyConversations)
			authRequired.GET("/conversation/:id/messages", restChatHandler.GetConversationMessages)
			authRequired.GET("/my/notifications", restNotificationHandler.GetMyNotifications)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// Requires the Redis client for the getTestEmail endpoint.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, kind)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				// If redis.Nil, wait and retry
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
