package service

import (
	"context"
	"fmt"
	"math"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

// Progress recomputes the snapshot from item rows; the cached batch counters
// are never trusted here. Percent counts terminal outcomes only.
func (s *BatchService) Progress(ctx context.Context, batchID string) (domain.ProgressSnapshot, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	stats, err := s.repo.ItemStats(ctx, batchID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("aggregate batch progress: %w", err)
	}
	return buildSnapshot(batch, stats), nil
}

func buildSnapshot(batch *domain.Batch, stats domain.ItemStats) domain.ProgressSnapshot {
	skipped := batch.SkippedRegions
	return domain.ProgressSnapshot{
		BatchID:           batch.ID,
		Status:            batch.Status,
		TotalRegions:      stats.Total,
		QueuedRegions:     stats.Queued,
		ProcessingRegions: stats.Processing,
		CompletedRegions:  stats.Completed,
		FailedRegions:     stats.Failed,
		SkippedRegions:    skipped,
		ProgressPercent:   progressPercent(stats.Completed+stats.Failed+skipped, stats.Total),
		CurrentRegion:     stats.CurrentRegion,
		EstimatedCost:     batch.EstimatedCost,
		ActualCost:        stats.ActualCost,
	}
}

func progressPercent(done, total int) int {
	if total <= 0 {
		return 0
	}
	percent := int(math.Round(float64(done) / float64(total) * 100))
	return min(percent, 100)
}
