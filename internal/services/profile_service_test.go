package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

func TestRegister(t *testing.T) {
	env := newTestEnv(t, "test_profile_register")
	ctx := context.Background()

	profile, err := env.profiles.Register(ctx, "  Rahim@Example.COM ", "s3cret-pass", "Rahim Uddin", models.UserTypeProvider, "Sonadanga", "01711111111")
	require.NoError(t, err)
	assert.Equal(t, "rahim@example.com", profile.Email, "email is normalized")
	assert.Equal(t, models.UserTypeProvider, profile.UserType)
	assert.NotEqual(t, "s3cret-pass", profile.PasswordHash, "password must be stored hashed")
	assert.Equal(t, models.DefaultNotificationPreferences(), profile.NotificationPreferences)
	assert.False(t, profile.ID.IsZero())
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t, "test_profile_register_validation")
	ctx := context.Background()

	_, err := env.profiles.Register(ctx, "not-an-email", "s3cret-pass", "Name", models.UserTypeClient, "", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.profiles.Register(ctx, "a@b.com", "s3cret-pass", "", models.UserTypeClient, "", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.profiles.Register(ctx, "a@b.com", "s3cret-pass", "Name", models.UserType("admin"), "", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.profiles.Register(ctx, "a@b.com", "short", "Name", models.UserTypeClient, "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, "test_profile_register_dup")
	ctx := context.Background()

	_, err := env.profiles.Register(ctx, "karim@example.com", "s3cret-pass", "Karim", models.UserTypeClient, "", "")
	require.NoError(t, err)

	// Same address, different case: the unique index on the normalized email wins.
	_, err = env.profiles.Register(ctx, "KARIM@example.com", "other-pass", "Karim Again", models.UserTypeProvider, "", "")
	require.ErrorIs(t, err, ErrEmailExists)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, "test_profile_authenticate")
	ctx := context.Background()

	registered, err := env.profiles.Register(ctx, "salma@example.com", "s3cret-pass", "Salma", models.UserTypeClient, "", "")
	require.NoError(t, err)

	profile, err := env.profiles.Authenticate(ctx, "salma@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, profile.ID)

	// Bad password and unknown email are indistinguishable to the caller.
	_, err = env.profiles.Authenticate(ctx, "salma@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.profiles.Authenticate(ctx, "nobody@example.com", "s3cret-pass")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthenticate_Suspended(t *testing.T) {
	env := newTestEnv(t, "test_profile_suspended")
	ctx := context.Background()

	registered, err := env.profiles.Register(ctx, "blocked@example.com", "s3cret-pass", "Blocked", models.UserTypeClient, "", "")
	require.NoError(t, err)
	_, err = env.db.Collection(profilesCollection).UpdateOne(ctx,
		bson.M{"_id": registered.ID}, bson.M{"$set": bson.M{"suspended": true}})
	require.NoError(t, err)

	_, err = env.profiles.Authenticate(ctx, "blocked@example.com", "s3cret-pass")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFindByID_SkipsDeleted(t *testing.T) {
	env := newTestEnv(t, "test_profile_deleted")
	ctx := context.Background()

	registered, err := env.profiles.Register(ctx, "gone@example.com", "s3cret-pass", "Gone", models.UserTypeClient, "", "")
	require.NoError(t, err)
	_, err = env.db.Collection(profilesCollection).UpdateOne(ctx,
		bson.M{"_id": registered.ID}, bson.M{"$set": bson.M{"deleted": true}})
	require.NoError(t, err)

	_, err = env.profiles.FindByID(ctx, registered.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.profiles.FindByEmail(ctx, "gone@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateNotificationPreferences(t *testing.T) {
	env := newTestEnv(t, "test_profile_prefs")
	ctx := context.Background()

	registered, err := env.profiles.Register(ctx, "prefs@example.com", "s3cret-pass", "Prefs", models.UserTypeClient, "", "")
	require.NoError(t, err)

	prefs := models.NotificationPreferences{Proposal: false, Offer: true, Deal: false, Message: true}
	require.NoError(t, env.profiles.UpdateNotificationPreferences(ctx, asUser(registered.ID), prefs))

	reloaded, err := env.profiles.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, prefs, reloaded.NotificationPreferences)

	// Unknown identity: nothing to update.
	err = env.profiles.UpdateNotificationPreferences(ctx, asUser(primitive.NewObjectID()), prefs)
	require.ErrorIs(t, err, ErrNotFound)
}
