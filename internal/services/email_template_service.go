package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// Default email templates used as fallback when not found in database. The
// template IDs match the notification types that can trigger an email.
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"proposal_received": {
		TemplateID: "proposal_received",
		Locale:     "en-US",
		Subject:    "New proposal on your job",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"proposal_accepted": {
		TemplateID: "proposal_accepted",
		Locale:     "en-US",
		Subject:    "Your proposal was accepted",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"proposal_rejected": {
		TemplateID: "proposal_rejected",
		Locale:     "en-US",
		Subject:    "Update on your proposal",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"counter_proposal": {
		TemplateID: "counter_proposal",
		Locale:     "en-US",
		Subject:    "You received a counter offer",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"deal_created": {
		TemplateID: "deal_created",
		Locale:     "en-US",
		Subject:    "Deal created",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"deal_completed": {
		TemplateID: "deal_completed",
		Locale:     "en-US",
		Subject:    "Deal completed",
		Body:       "Hi {{.name}}, {{.message}}",
	},
	"message_received": {
		TemplateID: "message_received",
		Locale:     "en-US",
		Subject:    "You have a new message",
		Body:       "Hi {{.name}}, {{.message}}",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// GetTemplate retrieves an email template by ID and locale
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := collection.FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// If template not found in DB, try to get from defaults
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": template.TemplateID,
		"locale":      template.Locale,
	}

	update := bson.M{"$set": template}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}

	return nil
}

// DeleteTemplate deletes an email template from the database
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID string, locale string) error {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	_, err := collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}

	return nil
}
