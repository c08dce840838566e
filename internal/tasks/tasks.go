package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/config"
	"github.com/rabby0101/khulna-hub-services/internal/email"
	"github.com/rabby0101/khulna-hub-services/internal/models"
	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery       = "email:deliver"
	TypeImageProcess        = "image:process"
	TypeNotificationCleanup = "notification:cleanup"
)

// --- Task payloads and constructors ---

// EmailTaskPayload is the payload for TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string            `json:"to"`
	TemplateID string            `json:"template_id"`
	Locale     string            `json:"locale,omitempty"`
	Data       map[string]string `json:"data"`
}

// ImageTaskPayload is the payload for TypeImageProcess: a chat attachment
// uploaded to S3 that needs normalizing before it appears in the conversation.
type ImageTaskPayload struct {
	S3Key          string `json:"s3_key"`
	ConversationID string `json:"conversation_id"`
	UploaderID     string `json:"uploader_id"`
}

// NewEmailDeliveryTask builds an email delivery task.
func NewEmailDeliveryTask(payload EmailTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, data), nil
}

// NewImageProcessTask builds an image processing task for the images queue.
func NewImageProcessTask(payload ImageTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, data, asynq.Queue("images")), nil
}

// NewNotificationCleanupTask builds the periodic notification pruning task.
// It carries no payload; the retention window is fixed in the handler.
func NewNotificationCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeNotificationCleanup, nil, asynq.Queue("low"))
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// Enqueuer adapts the asynq client to the services.EmailEnqueuer interface.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueEmail queues a templated email for background delivery.
func (e *Enqueuer) EnqueueEmail(ctx context.Context, to, templateID, locale string, data map[string]string) error {
	task, err := NewEmailDeliveryTask(EmailTaskPayload{
		To:         to,
		TemplateID: templateID,
		Locale:     locale,
		Data:       data,
	})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue email task for %s: %w", to, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	db                   *mongo.Database
	emailSender          email.Sender
	chatService          services.IChatService
	emailTemplateService services.IEmailTemplateService
	s3Client             *s3.Client
	taskClient           *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	database *mongo.Database,
	emailSender email.Sender,
	chatService services.IChatService,
	emailTemplateService services.IEmailTemplateService,
	s3Client *s3.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		db:                   database,
		emailSender:          emailSender,
		chatService:          chatService,
		emailTemplateService: emailTemplateService,
		s3Client:             s3Client,
		taskClient:           taskClient,
	}
}

// SetupServer configures an Asynq server instance and its mux. The caller
// runs it with srv.Run(mux); returns (nil, nil) in pure API mode.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		mux.HandleFunc(TypeNotificationCleanup, processor.HandleNotificationCleanupTask)
		log.Println("Registered background task handlers.")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		log.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil, nil
	}

	return srv, mux
}

// SetupScheduler configures the periodic task schedule for the background
// worker: notification cleanup once a day, off-peak. The caller runs it with
// scheduler.Run().
func SetupScheduler(rdb *redis.Client) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: rdb.Options().Addr},
		&asynq.SchedulerOpts{
			EnqueueErrorHandler: func(task *asynq.Task, opts []asynq.Option, err error) {
				log.Printf("[Asynq Scheduler Error] Task Type: %s, Error: %v", task.Type(), err)
			},
		},
	)

	if _, err := scheduler.Register("0 4 * * *", NewNotificationCleanupTask()); err != nil {
		return nil, fmt.Errorf("failed to register notification cleanup schedule: %w", err)
	}

	return scheduler, nil
}

// --- Task Handlers ---

// HandleEmailDeliveryTask renders a stored template and sends the email.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Sending email task: To=%s, Template=%s", payload.To, payload.TemplateID)

	locale := payload.Locale
	if locale == "" {
		locale = p.cfg.DefaultLocale
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, locale, err)
		// Non-retryable if template not found
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	// Simple placeholder replacement (replace {{.key}})
	subjectRendered := tmpl.Subject
	bodyRendered := tmpl.Body
	for key, val := range payload.Data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		subjectRendered = strings.ReplaceAll(subjectRendered, placeholder, val)
		bodyRendered = strings.ReplaceAll(bodyRendered, placeholder, val)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	// Basic email structure with essential headers. Plain text only.
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectRendered))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(bodyRendered)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, subjectRendered, []byte(sb.String())); err != nil {
		log.Printf("Email sending failed (will retry): %v", err)
		return err
	}

	log.Printf("Email task processed successfully: To=%s, Template=%s", payload.To, payload.TemplateID)
	return nil
}

// HandleImageProcessTask normalizes an uploaded chat attachment: enforce size
// limits, shrink to the maximum dimension, re-encode, re-upload, then post the
// image message into the conversation on behalf of the uploader.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	conversationID, err := primitive.ObjectIDFromHex(payload.ConversationID)
	if err != nil {
		log.Printf("Invalid ConversationID in image task payload: %s", payload.ConversationID)
		return fmt.Errorf("invalid conversation ID in payload: %w", asynq.SkipRetry)
	}
	uploaderID, err := primitive.ObjectIDFromHex(payload.UploaderID)
	if err != nil {
		log.Printf("Invalid UploaderID in image task payload: %s", payload.UploaderID)
		return fmt.Errorf("invalid uploader ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ConversationID=%s", payload.S3Key, payload.ConversationID)

	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read image data for key %s: %w", payload.S3Key, err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	processedImageData := imgData
	contentType := ""
	if getObjectOutput.ContentType != nil {
		contentType = *getObjectOutput.ContentType
	}

	if needsResize {
		log.Printf("Resizing image %s (original: %dx%d, max: %dx%d)", payload.S3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxWidth, maxHeight)
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image %s: %w", payload.S3Key, err)
		}
		processedImageData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedImageData)) > maxSizeBytes {
			log.Printf("Resized image %s still exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(processedImageData), maxSizeBytes)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}
	}

	// Overwrite the original with the normalized version.
	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(payload.S3Key),
		Body:        bytes.NewReader(processedImageData),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload processed image %s: %w", payload.S3Key, err)
	}

	attachmentURL := strings.TrimRight(p.cfg.ImageBaseS3URL, "/") + "/" + payload.S3Key
	identity := auth.Identity{UserID: uploaderID}
	if _, err := p.chatService.SendMessage(ctx, identity, conversationID, "", models.MessageTypeImage, attachmentURL); err != nil {
		log.Printf("Error posting image message for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("failed to post image message: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ConversationID=%s", payload.S3Key, payload.ConversationID)
	return nil
}

// HandleNotificationCleanupTask prunes read notifications older than the
// retention window. Enqueued daily by the scheduler in the background worker.
func (p *TaskProcessor) HandleNotificationCleanupTask(ctx context.Context, t *asynq.Task) error {
	const retention = 90 * 24 * time.Hour
	cutoff := time.Now().UTC().Add(-retention)

	filter := bson.M{"read": true, "created_at": bson.M{"$lt": cutoff}}
	result, err := p.db.Collection("notifications").DeleteMany(ctx, filter)
	if err != nil {
		log.Printf("Error pruning notifications: %v", err)
		return err
	}
	log.Printf("Notification cleanup finished. Deleted %d rows older than %s.", result.DeletedCount, cutoff.Format(time.RFC3339))
	return nil
}
