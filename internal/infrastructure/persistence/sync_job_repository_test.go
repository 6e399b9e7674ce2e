package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/syncjob"
)

func TestGormSyncJobRepository_SaveAndFind(t *testing.T) {
	repo := NewGormSyncJobRepository(setupTestDB(t))
	ctx := context.Background()

	job, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, syncjob.PriorityHigh, []string{"SKU-1", "SKU-2"}, 3, "manual")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, job))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobTypeInventory, found.Type)
	assert.Equal(t, syncjob.PriorityHigh, found.Priority)
	assert.Equal(t, []string{"SKU-1", "SKU-2"}, found.SKUs)
	assert.Equal(t, 3, found.MaxRetries)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, syncjob.ErrJobNotFound)

	require.NoError(t, job.Start(2))
	require.NoError(t, repo.Save(ctx, job))

	processing, err := repo.FindByStatus(ctx, syncjob.StatusProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.NotNil(t, processing[0].StartedAt)

	pending, err := repo.FindByStatus(ctx, syncjob.StatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGormSyncJobRepository_FindRecent(t *testing.T) {
	repo := NewGormSyncJobRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job, err := syncjob.NewSyncJob(syncjob.JobTypeFull, syncjob.PriorityNormal, nil, 0, "interval")
		require.NoError(t, err)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, job))
		ids = append(ids, job.ID)
	}

	recent, err := repo.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)
}

func TestGormSyncJobRepository_UpdateProgress(t *testing.T) {
	repo := NewGormSyncJobRepository(setupTestDB(t))
	ctx := context.Background()

	job, err := syncjob.NewSyncJob(syncjob.JobTypeFull, syncjob.PriorityNormal, nil, 0, "interval")
	require.NoError(t, err)
	require.NoError(t, job.Start(4))
	require.NoError(t, repo.Save(ctx, job))

	stale := *job

	job.RecordItem("SKU-1", syncjob.ItemSucceeded, true, nil)
	job.RecordItem("SKU-2", syncjob.ItemFailed, false, errors.New("platform B timeout"))
	updated, err := repo.UpdateProgress(ctx, job)
	require.NoError(t, err)
	assert.True(t, updated)

	t.Run("stored counters advance", func(t *testing.T) {
		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, found.ProcessedItems)
		assert.Equal(t, 1, found.SuccessItems)
		assert.Equal(t, 1, found.FailedItems)
		assert.Equal(t, 1, found.Discrepancies)
		require.Len(t, found.Errors, 1)
		assert.Equal(t, "SKU-2", found.Errors[0].SKU)
		assert.Equal(t, syncjob.StatusProcessing, found.Status)
	})

	t.Run("stale writer cannot move progress backwards", func(t *testing.T) {
		stale.RecordItem("SKU-1", syncjob.ItemSucceeded, false, nil)
		updated, err := repo.UpdateProgress(ctx, &stale)
		require.NoError(t, err)
		assert.False(t, updated)

		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, found.ProcessedItems)
	})
}

func TestGormSyncJobRepository_SaveKeepsProgressAcrossRetries(t *testing.T) {
	repo := NewGormSyncJobRepository(setupTestDB(t))
	ctx := context.Background()

	job, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, syncjob.PriorityNormal, nil, 2, "interval")
	require.NoError(t, err)
	require.NoError(t, job.Start(3))
	job.RecordItem("SKU-1", syncjob.ItemSucceeded, false, nil)
	job.RecordItem("SKU-2", syncjob.ItemSucceeded, false, nil)
	require.NoError(t, repo.Save(ctx, job))

	t.Run("retry resumes with stored counters", func(t *testing.T) {
		require.NoError(t, job.Fail("rate unavailable"))
		require.NoError(t, job.ScheduleRetry(syncjob.RetryPolicy{Base: time.Millisecond, Multiplier: 1, Cap: time.Millisecond}))
		require.NoError(t, repo.Save(ctx, job))

		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, found.Start(1))
		require.NoError(t, repo.Save(ctx, found))

		stored, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.ProcessedItems)
		assert.Equal(t, 3, stored.TotalItems)
		assert.Equal(t, []string{"SKU-1", "SKU-2"}, stored.ProcessedSKUs)
	})

	t.Run("stale full save is rejected", func(t *testing.T) {
		stale, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		stale.ProcessedItems = 0
		stale.LastError = "stale"

		assert.ErrorIs(t, repo.Save(ctx, stale), syncjob.ErrProgressRegression)

		stored, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.ProcessedItems)
		assert.Empty(t, stored.LastError)
	})
}
