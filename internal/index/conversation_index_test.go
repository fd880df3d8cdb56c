package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/mercura/order-chat/internal/index"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/repository"
	"github.com/mercura/order-chat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_OneSummaryPerUser(t *testing.T) {
	ix := index.New()
	base := time.Now().UTC()

	ix.Update(testutil.StoredMessage("u1", "hello", models.SenderCustomer, base))
	ix.Update(testutil.StoredMessage("u1", "hi back", models.SenderAdmin, base.Add(time.Minute)))
	ix.Update(testutil.StoredMessage("u2", "another", models.SenderCustomer, base.Add(2*time.Minute)))

	summaries := ix.Summaries()
	require.Len(t, summaries, 2)

	// Most recently active first.
	assert.Equal(t, "u2", summaries[0].UserID)
	assert.Equal(t, "u1", summaries[1].UserID)
	assert.Equal(t, "hi back", summaries[1].LastMessage.Content)
}

func TestUpdate_UnreadRule(t *testing.T) {
	ix := index.New()
	base := time.Now().UTC()

	// Customer and system messages count as unread for the admin viewer.
	ix.Update(testutil.StoredMessage("u1", "one", models.SenderCustomer, base))
	ix.Update(testutil.StoredMessage("u1", "two", models.SenderSystem, base.Add(time.Second)))
	ix.Update(testutil.StoredMessage("u1", "reply", models.SenderAdmin, base.Add(2*time.Second)))

	summaries := ix.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].UnreadCount)

	ix.MarkRead("u1")
	summaries = ix.Summaries()
	assert.Equal(t, 0, summaries[0].UnreadCount)

	ix.Update(testutil.StoredMessage("u1", "more", models.SenderCustomer, base.Add(3*time.Second)))
	summaries = ix.Summaries()
	assert.Equal(t, 1, summaries[0].UnreadCount)
}

func TestUpdate_StaleMessageDoesNotDisplaceLast(t *testing.T) {
	ix := index.New()
	base := time.Now().UTC()

	newer := testutil.StoredMessage("u1", "newer", models.SenderCustomer, base.Add(time.Minute))
	older := testutil.StoredMessage("u1", "older", models.SenderCustomer, base)

	ix.Update(newer)
	ix.Update(older)

	summaries := ix.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "newer", summaries[0].LastMessage.Content)
}

func TestUpdate_IgnoresDeletedAndAnonymous(t *testing.T) {
	ix := index.New()
	now := time.Now().UTC()

	deleted := testutil.StoredMessage("u1", "gone", models.SenderCustomer, now)
	deleted.DeletedAt = &now
	ix.Update(deleted)
	ix.Update(testutil.StoredMessage("", "no user", models.SenderCustomer, now))

	assert.Empty(t, ix.Summaries())
}

func TestRefresh_AfterSoftDelete(t *testing.T) {
	ix := index.New()
	base := time.Now().UTC()

	ix.Update(testutil.StoredMessage("u1", "first", models.SenderCustomer, base))
	last := testutil.StoredMessage("u1", "last", models.SenderCustomer, base.Add(time.Minute))
	ix.Update(last)

	// Soft delete of "last" rolls the summary back.
	previous := testutil.StoredMessage("u1", "first", models.SenderCustomer, base)
	ix.Refresh("u1", previous)

	summaries := ix.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "first", summaries[0].LastMessage.Content)

	// No live messages left: the conversation disappears.
	ix.Refresh("u1", nil)
	assert.Empty(t, ix.Summaries())
}

func TestRebuild_FromStore(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	t.Cleanup(func() {
		testutil.CleanDatabase(t, testDB.DB)
		testDB.Teardown(t)
	})
	repo := repository.NewMessageRepository(testDB.DB, 1000)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	rows := []*models.Message{
		testutil.StoredMessage("u1", "old", models.SenderCustomer, base),
		testutil.StoredMessage("u1", "u1 latest", models.SenderAdmin, base.Add(10*time.Minute)),
		testutil.StoredMessage("u2", "u2 latest", models.SenderCustomer, base.Add(5*time.Minute)),
	}
	deleted := testutil.StoredMessage("u3", "deleted", models.SenderCustomer, base.Add(20*time.Minute))
	now := time.Now().UTC()
	deleted.DeletedAt = &now
	rows = append(rows, deleted)

	for _, m := range rows {
		require.NoError(t, testDB.DB.Create(m).Error)
	}

	ix := index.New()
	require.NoError(t, ix.Rebuild(ctx, repo))

	summaries := ix.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "u1", summaries[0].UserID)
	assert.Equal(t, "u1 latest", summaries[0].LastMessage.Content)
	assert.Equal(t, "u2", summaries[1].UserID)
	// Rebuild starts counters fresh.
	assert.Equal(t, 0, summaries[0].UnreadCount)
}
