package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecipients(t *testing.T, repo *RecipientRepository, jobID string, contactIDs ...string) {
	recipients := make([]*model.BulkRecipient, len(contactIDs))
	for i, id := range contactIDs {
		recipients[i] = &model.BulkRecipient{
			JobID:     jobID,
			ContactID: id,
			Address:   "+15550001111",
			Status:    model.RecipientStatusPending,
		}
	}
	require.NoError(t, repo.BulkCreate(context.Background(), recipients))
}

func TestRecipientRepository_BulkCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c1", "c2", "c3")

	got, err := repo.Get(ctx, jobID, "c2")
	require.NoError(t, err)
	assert.Equal(t, model.RecipientStatusPending, got.Status)
	assert.Equal(t, "+15550001111", got.Address)

	_, err = repo.Get(ctx, jobID, "nope")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestRecipientRepository_GetStatuses(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c1", "c2")

	won, err := repo.MarkSent(ctx, jobID, "c1", "prov-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	statuses, err := repo.GetStatuses(ctx, jobID, []string{"c1", "c2", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, model.RecipientStatusSent, statuses["c1"])
	assert.Equal(t, model.RecipientStatusPending, statuses["c2"])
	_, ok := statuses["unknown"]
	assert.False(t, ok)
}

func TestRecipientRepository_MarkSent_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c1")

	won, err := repo.MarkSent(ctx, jobID, "c1", "prov-1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, won)

	// a redelivered chunk loses the guarded write
	won, err = repo.MarkSent(ctx, jobID, "c1", "prov-2", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.Get(ctx, jobID, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "prov-1", *got.ProviderMessageID)
	assert.NotNil(t, got.SentAt)
}

func TestRecipientRepository_MarkFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c1", "c2")

	won, err := repo.MarkFailed(ctx, jobID, "c1", model.FailReasonPolicy, "opt-in missing")
	require.NoError(t, err)
	assert.True(t, won)

	got, err := repo.Get(ctx, jobID, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.RecipientStatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	assert.Equal(t, model.FailReasonPolicy, *got.FailReason)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "opt-in missing", *got.ErrorDetail)

	// failed is terminal, a later mark must not flip it
	won, err = repo.MarkSent(ctx, jobID, "c1", "prov-1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRecipientRepository_CountByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c1", "c2", "c3", "c4")

	_, err := repo.MarkSent(ctx, jobID, "c1", "prov-1", time.Now().UTC())
	require.NoError(t, err)
	_, err = repo.MarkSent(ctx, jobID, "c2", "prov-2", time.Now().UTC())
	require.NoError(t, err)
	_, err = repo.MarkFailed(ctx, jobID, "c3", model.FailReasonProvider, "rejected")
	require.NoError(t, err)

	counts, err := repo.CountByStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.RecipientStatusSent])
	assert.Equal(t, int64(1), counts[model.RecipientStatusFailed])
	assert.Equal(t, int64(1), counts[model.RecipientStatusPending])
}

func TestRecipientRepository_ListByJob(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db.DB)
	ctx := context.Background()

	jobID := uuid.NewString()
	seedRecipients(t, repo, jobID, "c2", "c1")
	seedRecipients(t, repo, uuid.NewString(), "other")

	all, err := repo.ListByJob(ctx, jobID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].ContactID)

	pending := model.RecipientStatusPending
	_, err = repo.MarkFailed(ctx, jobID, "c1", model.FailReasonCancelled, "")
	require.NoError(t, err)

	left, err := repo.ListByJob(ctx, jobID, &pending)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].ContactID)
}
