package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// makeDeal runs the standard accept path and returns the resulting deal.
func makeDeal(t *testing.T, env *testEnv, clientID, providerID primitive.ObjectID) *models.Deal {
	t.Helper()
	ctx := context.Background()
	job := env.seedJob(t, clientID, 1000, 5000)
	proposal, err := env.proposals.CreateProposal(ctx, asUser(providerID), job.ID, 2500, "")
	require.NoError(t, err)
	deal, err := env.proposals.AcceptProposal(ctx, asUser(clientID), proposal.ID)
	require.NoError(t, err)
	return deal
}

func TestMarkDealCompleted(t *testing.T) {
	env := newTestEnv(t, "test_deal_complete")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	providerID := primitive.NewObjectID()
	deal := makeDeal(t, env, clientID, providerID)

	completed, err := env.deals.MarkDealCompleted(ctx, asUser(clientID), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// The job completed with the deal.
	job, err := env.jobs.FindJobByID(ctx, deal.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	assert.EqualValues(t, 1, env.countNotifications(t, providerID, models.NotificationDealCompleted))
}

func TestMarkDealCompleted_Idempotent(t *testing.T) {
	env := newTestEnv(t, "test_deal_complete_twice")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	deal := makeDeal(t, env, clientID, primitive.NewObjectID())

	first, err := env.deals.MarkDealCompleted(ctx, asUser(clientID), deal.ID)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	second, err := env.deals.MarkDealCompleted(ctx, asUser(clientID), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, second.Status)
	assert.Equal(t, *first.CompletedAt, *second.CompletedAt, "re-completing must not move completed_at")
}

func TestMarkDealCompleted_ProviderForbidden(t *testing.T) {
	env := newTestEnv(t, "test_deal_complete_forbidden")
	providerID := primitive.NewObjectID()
	deal := makeDeal(t, env, primitive.NewObjectID(), providerID)

	_, err := env.deals.MarkDealCompleted(context.Background(), asUser(providerID), deal.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestMarkDealCompleted_NotFound(t *testing.T) {
	env := newTestEnv(t, "test_deal_complete_missing")
	_, err := env.deals.MarkDealCompleted(context.Background(), asUser(primitive.NewObjectID()), primitive.NewObjectID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindDealByID_PartyScoped(t *testing.T) {
	env := newTestEnv(t, "test_deal_find_scope")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	providerID := primitive.NewObjectID()
	deal := makeDeal(t, env, clientID, providerID)

	for _, party := range []primitive.ObjectID{clientID, providerID} {
		found, err := env.deals.FindDealByID(ctx, asUser(party), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, deal.ID, found.ID)
	}

	_, err := env.deals.FindDealByID(ctx, asUser(primitive.NewObjectID()), deal.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFindDealsByUser(t *testing.T) {
	env := newTestEnv(t, "test_deal_list")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	providerID := primitive.NewObjectID()
	deal := makeDeal(t, env, clientID, providerID)

	clientDeals, err := env.deals.FindDealsByUser(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, clientDeals, 1)
	assert.Equal(t, deal.ID, clientDeals[0].ID)

	providerDeals, err := env.deals.FindDealsByUser(ctx, providerID)
	require.NoError(t, err)
	require.Len(t, providerDeals, 1)

	strangerDeals, err := env.deals.FindDealsByUser(ctx, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Empty(t, strangerDeals)
}
