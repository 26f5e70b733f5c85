package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
)

func TestProgressBeforeStartIsAllZeros(t *testing.T) {
	svc := newTestService(repository.NewMemoryBatchRepository(), nil)
	batch, err := svc.CreateBatch(context.Background(), "actor-1", CreateBatchInput{
		Name:   "Fresh",
		Config: domain.SelectionConfig{Continent: "Americas", RegionKinds: []domain.RegionKind{domain.RegionKindCountry}},
	})
	require.NoError(t, err)

	progress, err := svc.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCreated, progress.Status)
	assert.Equal(t, 3, progress.TotalRegions)
	assert.Equal(t, 3, progress.QueuedRegions)
	assert.Zero(t, progress.CompletedRegions)
	assert.Zero(t, progress.FailedRegions)
	assert.Zero(t, progress.ProgressPercent)
	assert.Zero(t, progress.ActualCost)
	assert.Empty(t, progress.CurrentRegion)
	assert.InDelta(t, 0.15, progress.EstimatedCost, 1e-9)
}

func TestProgressCountsTerminalOutcomesFromItems(t *testing.T) {
	repo := repository.NewMemoryBatchRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	batch, err := svc.CreateBatch(ctx, "actor-1", CreateBatchInput{
		Name:   "Mixed",
		Config: domain.SelectionConfig{Continent: "Americas", RegionKinds: []domain.RegionKind{domain.RegionKindCountry}},
	})
	require.NoError(t, err)

	now := time.Now()
	first, err := repo.ClaimNextItem(ctx, batch.ID, now)
	require.NoError(t, err)
	cost := 0.07
	first.Status = domain.ItemStatusCompleted
	first.ActualCost = &cost
	require.NoError(t, repo.UpdateItem(ctx, first))

	second, err := repo.ClaimNextItem(ctx, batch.ID, now)
	require.NoError(t, err)
	second.Status = domain.ItemStatusFailed
	require.NoError(t, repo.UpdateItem(ctx, second))

	third, err := repo.ClaimNextItem(ctx, batch.ID, now.Add(time.Second))
	require.NoError(t, err)

	progress, err := svc.Progress(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedRegions)
	assert.Equal(t, 1, progress.FailedRegions)
	assert.Equal(t, 1, progress.ProcessingRegions)
	assert.Equal(t, 67, progress.ProgressPercent)
	assert.Equal(t, third.RegionName, progress.CurrentRegion)
	assert.InDelta(t, 0.07, progress.ActualCost, 1e-9)
}

func TestProgressPercent(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 200, 1},
		{1, 201, 0},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, progressPercent(tc.done, tc.total), "%d/%d", tc.done, tc.total)
	}
}

func TestProgressUnknownBatch(t *testing.T) {
	svc := newTestService(repository.NewMemoryBatchRepository(), nil)
	_, err := svc.Progress(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
