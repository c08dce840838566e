package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the services rely on for correctness, not
// just performance. The partial unique indexes are the storage-level guards
// behind "one live proposal per provider per job" and "one active deal per
// job"; races that slip past service checks fail here with code 11000.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		"profiles": {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"jobs": {
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "category", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"proposals": {
			{
				Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "provider_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{"pending", "accepted"}},
				}),
			},
			{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"deals": {
			{
				Keys: bson.D{{Key: "job_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"status": "active",
				}),
			},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"conversations": {
			{
				Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "client_id", Value: 1}, {Key: "provider_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"messages": {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"notifications": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "read", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"email_templates": {
			{
				Keys:    bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"categories": {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for collection, models := range specs {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
	}
	return nil
}
