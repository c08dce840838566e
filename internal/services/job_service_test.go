package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

func TestCreateJob_Validation(t *testing.T) {
	env := newTestEnv(t, "test_job_validation")
	ctx := context.Background()
	clientID := primitive.NewObjectID()

	cases := []struct {
		name                 string
		title                string
		budgetMin, budgetMax float64
	}{
		{"empty title", "", 100, 200},
		{"zero budget", "Fix sink", 0, 200},
		{"inverted budget", "Fix sink", 300, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.jobs.CreateJob(ctx, asUser(clientID), tc.title, "", "", "", tc.budgetMin, tc.budgetMax, false)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateJob_CategoryChecked(t *testing.T) {
	env := newTestEnv(t, "test_job_category")
	ctx := context.Background()
	clientID := primitive.NewObjectID()

	// With no catalog seeded, any category goes through.
	_, err := env.jobs.CreateJob(ctx, asUser(clientID), "Fix sink", "", "anything", "", 100, 200, false)
	require.NoError(t, err)

	catalog := NewCatalogService(env.db, nil)
	require.NoError(t, catalog.UpsertCategory(ctx, models.Category{Slug: "plumbing", Name: "Plumbing", Active: true}))
	jobs := NewJobService(env.db, env.client, catalog)

	_, err = jobs.CreateJob(ctx, asUser(clientID), "Fix sink", "", "plumbing", "", 100, 200, false)
	require.NoError(t, err)

	_, err = jobs.CreateJob(ctx, asUser(clientID), "Fix sink", "", "gardening", "", 100, 200, false)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t, "test_job_cancel")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	job := env.seedJob(t, clientID, 1000, 5000)

	// A stranger cannot cancel.
	require.ErrorIs(t, env.jobs.CancelJob(ctx, asUser(primitive.NewObjectID()), job.ID), ErrForbidden)

	require.NoError(t, env.jobs.CancelJob(ctx, asUser(clientID), job.ID))

	cancelled, err := env.jobs.FindJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	// Cancelling again is a state conflict, not a success.
	require.ErrorIs(t, env.jobs.CancelJob(ctx, asUser(clientID), job.ID), ErrConflict)
}

func TestCancelJob_BlockedByProposals(t *testing.T) {
	env := newTestEnv(t, "test_job_cancel_proposals")
	ctx := context.Background()
	clientID := primitive.NewObjectID()
	job := env.seedJob(t, clientID, 1000, 5000)
	_, err := env.proposals.CreateProposal(ctx, asUser(primitive.NewObjectID()), job.ID, 2000, "")
	require.NoError(t, err)

	require.ErrorIs(t, env.jobs.CancelJob(ctx, asUser(clientID), job.ID), ErrConflict)

	still, err := env.jobs.FindJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusOpen, still.Status)
}

func TestSearchOpenJobs(t *testing.T) {
	env := newTestEnv(t, "test_job_search")
	ctx := context.Background()
	clientID := primitive.NewObjectID()

	_, err := env.jobs.CreateJob(ctx, asUser(clientID), "Fix sink", "", "plumbing", "Sonadanga", 100, 200, true)
	require.NoError(t, err)
	_, err = env.jobs.CreateJob(ctx, asUser(clientID), "Paint room", "", "painting", "Khalishpur", 500, 900, false)
	require.NoError(t, err)
	cancelled, err := env.jobs.CreateJob(ctx, asUser(clientID), "Mow lawn", "", "gardening", "Sonadanga", 50, 100, false)
	require.NoError(t, err)
	require.NoError(t, env.jobs.CancelJob(ctx, asUser(clientID), cancelled.ID))

	// Unfiltered search returns only open jobs.
	all, err := env.jobs.SearchOpenJobs(ctx, JobSearchParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCategory, err := env.jobs.SearchOpenJobs(ctx, JobSearchParams{Category: "plumbing"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "Fix sink", byCategory[0].Title)

	urgent := true
	byUrgency, err := env.jobs.SearchOpenJobs(ctx, JobSearchParams{Urgent: &urgent})
	require.NoError(t, err)
	require.Len(t, byUrgency, 1)
	assert.True(t, byUrgency[0].Urgent)

	byLocation, err := env.jobs.SearchOpenJobs(ctx, JobSearchParams{Location: "Khalishpur"})
	require.NoError(t, err)
	require.Len(t, byLocation, 1)
	assert.Equal(t, "Paint room", byLocation[0].Title)
}

func TestFindJobsByClient_AllStatuses(t *testing.T) {
	env := newTestEnv(t, "test_job_by_client")
	ctx := context.Background()
	clientID := primitive.NewObjectID()

	open := env.seedJob(t, clientID, 1000, 5000)
	cancelled := env.seedJob(t, clientID, 1000, 5000)
	require.NoError(t, env.jobs.CancelJob(ctx, asUser(clientID), cancelled.ID))
	env.seedJob(t, primitive.NewObjectID(), 1000, 5000) // someone else's

	jobs, err := env.jobs.FindJobsByClient(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, jobs, 2, "owner sees their jobs regardless of status")

	ids := []primitive.ObjectID{jobs[0].ID, jobs[1].ID}
	assert.Contains(t, ids, open.ID)
	assert.Contains(t, ids, cancelled.ID)
}
