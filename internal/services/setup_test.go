package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rabby0101/khulna-hub-services/internal/auth"
	"github.com/rabby0101/khulna-hub-services/internal/db"
	"github.com/rabby0101/khulna-hub-services/internal/models"
	"github.com/rabby0101/khulna-hub-services/internal/realtime"
	"github.com/rabby0101/khulna-hub-services/internal/utils"
)

var serviceTestCollections = []string{
	"profiles", "jobs", "proposals", "deals",
	"conversations", "messages", "notifications", "categories",
}

// testEnv wires the full service stack against a real MongoDB, with no email
// enqueuer and a publisher backed by no Redis client.
type testEnv struct {
	client        *mongo.Client
	db            *mongo.Database
	profiles      IProfileService
	notifications INotificationService
	jobs          IJobService
	proposals     IProposalService
	deals         IDealService
	chat          IChatService
}

func newTestEnv(t *testing.T, dbName string) *testEnv {
	t.Helper()
	client, database := utils.SetupTestDBWithClient(t, dbName, serviceTestCollections...)
	require.NoError(t, db.EnsureIndexes(context.Background(), database), "Failed to ensure indexes")

	profiles := NewProfileService(database)
	notifications := NewNotificationService(database, profiles, nil, nil, "en-US")
	catalog := NewCatalogService(database, nil)
	return &testEnv{
		client:        client,
		db:            database,
		profiles:      profiles,
		notifications: notifications,
		jobs:          NewJobService(database, client, catalog),
		proposals:     NewProposalService(database, client, notifications),
		deals:         NewDealService(database, client, notifications),
		chat:          NewChatService(database, client, notifications, realtime.NewPublisher(nil)),
	}
}

func asUser(id primitive.ObjectID) auth.Identity {
	return auth.Identity{UserID: id}
}

// seedJob posts an open job owned by clientID.
func (e *testEnv) seedJob(t *testing.T, clientID primitive.ObjectID, budgetMin, budgetMax float64) *models.Job {
	t.Helper()
	job, err := e.jobs.CreateJob(context.Background(), asUser(clientID),
		"Fix ceiling fan", "The fan wobbles badly and needs rebalancing.", "", "Sonadanga",
		budgetMin, budgetMax, false)
	require.NoError(t, err, "Failed to seed job")
	return job
}

// countNotifications counts stored notification rows for a user and type.
func (e *testEnv) countNotifications(t *testing.T, userID primitive.ObjectID, ntype models.NotificationType) int64 {
	t.Helper()
	count, err := e.db.Collection(notificationsCollection).CountDocuments(context.Background(),
		bson.M{"user_id": userID, "type": ntype})
	require.NoError(t, err, "Failed to count notifications")
	return count
}
