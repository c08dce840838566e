package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

func TestListGrouped_CollapsesUnreadChat(t *testing.T) {
	env := newTestEnv(t, "test_notification_grouping")
	ctx := context.Background()
	userID := primitive.NewObjectID()
	conversationID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()

	// Three chat pings on one conversation plus one proposal event.
	for i := 0; i < 3; i++ {
		env.notifications.Notify(ctx, userID, models.NotificationMessageReceived,
			"New Message", fmt.Sprintf("message %d", i),
			NotificationRefs{ConversationID: &conversationID})
		time.Sleep(5 * time.Millisecond) // distinct created_at for a stable sort
	}
	env.notifications.Notify(ctx, userID, models.NotificationProposalReceived,
		"New Proposal", "You received a proposal",
		NotificationRefs{JobID: &jobID})

	groups, err := env.notifications.ListGrouped(ctx, asUser(userID))
	require.NoError(t, err)
	require.Len(t, groups, 2, "three chat rows should collapse into one group")

	// Newest first: the proposal event leads, then the collapsed chat group.
	assert.Equal(t, models.NotificationProposalReceived, groups[0].Type)
	assert.Equal(t, 1, groups[0].Count)

	chatGroup := groups[1]
	assert.Equal(t, models.NotificationMessageReceived, chatGroup.Type)
	assert.Equal(t, 3, chatGroup.Count)
	assert.Equal(t, "3 New Messages", chatGroup.Title)
	assert.Equal(t, "message 2", chatGroup.Message, "the group is represented by its newest row")
}

func TestListGrouped_ReadChatRowsStaySeparate(t *testing.T) {
	env := newTestEnv(t, "test_notification_grouping_read")
	ctx := context.Background()
	userID := primitive.NewObjectID()
	conversationID := primitive.NewObjectID()

	for i := 0; i < 2; i++ {
		env.notifications.Notify(ctx, userID, models.NotificationMessageReceived,
			"New Message", fmt.Sprintf("message %d", i),
			NotificationRefs{ConversationID: &conversationID})
	}
	require.NoError(t, env.notifications.MarkConversationRead(ctx, asUser(userID), conversationID))

	// Once read, the rows no longer collapse.
	groups, err := env.notifications.ListGrouped(ctx, asUser(userID))
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, group := range groups {
		assert.Equal(t, 1, group.Count)
		assert.True(t, group.Read)
	}
}

func TestMarkRead_Scoped(t *testing.T) {
	env := newTestEnv(t, "test_notification_mark_read")
	ctx := context.Background()
	ownerID := primitive.NewObjectID()
	otherID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()

	env.notifications.Notify(ctx, ownerID, models.NotificationProposalReceived,
		"New Proposal", "You received a proposal", NotificationRefs{JobID: &jobID})

	groups, err := env.notifications.ListGrouped(ctx, asUser(ownerID))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	notificationID := groups[0].ID

	// Someone else's row cannot be marked.
	require.ErrorIs(t, env.notifications.MarkRead(ctx, asUser(otherID), notificationID), ErrForbidden)
	require.ErrorIs(t, env.notifications.MarkRead(ctx, asUser(ownerID), primitive.NewObjectID()), ErrNotFound)

	require.NoError(t, env.notifications.MarkRead(ctx, asUser(ownerID), notificationID))

	groups, err = env.notifications.ListGrouped(ctx, asUser(ownerID))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Read)

	// Marking an already-read row is a no-op.
	require.NoError(t, env.notifications.MarkRead(ctx, asUser(ownerID), notificationID))
}

func TestMarkAllRead(t *testing.T) {
	env := newTestEnv(t, "test_notification_mark_all")
	ctx := context.Background()
	userID := primitive.NewObjectID()
	otherID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()

	for i := 0; i < 3; i++ {
		env.notifications.Notify(ctx, userID, models.NotificationProposalReceived,
			"New Proposal", "row", NotificationRefs{JobID: &jobID})
	}
	env.notifications.Notify(ctx, otherID, models.NotificationProposalReceived,
		"New Proposal", "other user's row", NotificationRefs{JobID: &jobID})

	count, err := env.notifications.MarkAllRead(ctx, asUser(userID))
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// Second pass finds nothing unread; the other user is untouched.
	count, err = env.notifications.MarkAllRead(ctx, asUser(userID))
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	otherGroups, err := env.notifications.ListGrouped(ctx, asUser(otherID))
	require.NoError(t, err)
	require.Len(t, otherGroups, 1)
	assert.False(t, otherGroups[0].Read)
}
