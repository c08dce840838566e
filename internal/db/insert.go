package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// InsertOne inserts a document, generating its ID first if unset, and returns
// the same document so callers can type-assert it back. Duplicate key errors
// pass through untouched; callers decide whether a duplicate is a conflict or
// something to retry.
func InsertOne(ctx context.Context, coll *mongo.Collection, doc models.IBase) (models.IBase, error) {
	doc.GenIDIfEmpty()
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
