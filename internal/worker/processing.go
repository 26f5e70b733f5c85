package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/ai"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
)

// errInterrupted means the loop was cancelled mid-item. The item is left
// processing for RecoverProcessing.
var errInterrupted = errors.New("item processing interrupted")

// processQueueItem runs generation for a claimed item, retrying in place while
// attempts remain and the batch is still running, and persists the outcome. Generation failures are recorded
// on the item and never returned; only persistence errors are.
func (r *Runner) processQueueItem(
	ctx context.Context,
	batch *domain.Batch,
	item *domain.QueueItem,
	logger *zap.Logger,
) error {
	logger = logger.With(
		zap.String("item_id", item.ID),
		zap.String("region", item.RegionName),
		zap.String("kind", string(item.RegionKind)),
	)
	writeCtx := context.WithoutCancel(ctx)
	if item.StartedAt == nil {
		startedAt := r.now()
		item.StartedAt = &startedAt
	}

	descriptor := describeRegion(batch, item)
	var (
		content ai.GeneratedContent
		genErr  error
	)
	for {
		content, genErr = r.generate(ctx, descriptor)
		if genErr == nil {
			break
		}
		if ctx.Err() != nil {
			return errInterrupted
		}
		if item.CurrentAttempts >= item.MaxAttempts {
			break
		}

		item.ErrorCount++
		item.LastError = genErr.Error()
		logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", item.CurrentAttempts),
			zap.Int("max_attempts", item.MaxAttempts),
			zap.Error(genErr),
		)
		if err := sleepContext(ctx, r.retryBackoff*time.Duration(item.CurrentAttempts)); err != nil {
			return errInterrupted
		}
		requeued, err := r.requeueIfHalted(writeCtx, item, logger)
		if err != nil {
			return err
		}
		if requeued {
			return nil
		}

		item.CurrentAttempts++
		r.metrics.GenerationRetries.Inc()
		if err := r.repo.UpdateItem(writeCtx, item); err != nil {
			return fmt.Errorf("record retry for %s: %w", item.RegionName, err)
		}
	}

	finishedAt := r.now()
	duration := int(math.Round(finishedAt.Sub(*item.StartedAt).Seconds()))
	item.CompletedAt = &finishedAt
	item.ActualDurationSeconds = &duration

	if genErr != nil {
		item.Status = domain.ItemStatusFailed
		item.LastError = genErr.Error()
		item.ErrorCount++
		if err := r.repo.UpdateItem(writeCtx, item); err != nil {
			return fmt.Errorf("mark %s failed: %w", item.RegionName, err)
		}
		r.metrics.ItemsProcessed.WithLabelValues(string(domain.ItemStatusFailed)).Inc()
		logger.Warn("item failed", zap.Int("attempts", item.CurrentAttempts), zap.Error(genErr))
		return nil
	}

	cost := item.EstimatedCost
	if content.Cost != nil {
		cost = *content.Cost
	}
	item.Status = domain.ItemStatusCompleted
	item.ActualCost = &cost
	item.LastError = ""
	if err := r.repo.UpdateItem(writeCtx, item); err != nil {
		return fmt.Errorf("mark %s completed: %w", item.RegionName, err)
	}
	r.metrics.ItemsProcessed.WithLabelValues(string(domain.ItemStatusCompleted)).Inc()
	r.metrics.ItemCost.Add(cost)

	err := r.contents.UpsertRegionContent(writeCtx, domain.RegionContent{
		RegionName:  item.RegionName,
		RegionKind:  item.RegionKind,
		CountryCode: item.CountryCode,
		Payload:     content.Payload,
		ModelID:     content.ModelID,
		BatchID:     item.BatchID,
		UpdatedAt:   finishedAt,
	})
	if err != nil {
		r.metrics.ContentSaveFailures.Inc()
		logger.Error("save region content failed", zap.Error(err))
	}

	logger.Info("item completed",
		zap.Int("attempts", item.CurrentAttempts),
		zap.Int("duration_seconds", duration),
		zap.Float64("cost", cost),
		zap.String("model_id", content.ModelID),
	)
	return nil
}

// requeueIfHalted hands a failing item back to the queue when its batch left
// running between attempts. The attempts already spent are kept.
func (r *Runner) requeueIfHalted(ctx context.Context, item *domain.QueueItem, logger *zap.Logger) (bool, error) {
	batch, err := r.repo.GetBatch(ctx, item.BatchID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read batch before retry: %w", err)
	}
	if batch.Status == domain.BatchStatusRunning {
		return false, nil
	}

	item.Status = domain.ItemStatusQueued
	item.StartedAt = nil
	if err := r.repo.UpdateItem(ctx, item); err != nil {
		return false, fmt.Errorf("requeue %s: %w", item.RegionName, err)
	}
	logger.Info("batch halted between attempts, item requeued",
		zap.String("batch_status", string(batch.Status)),
		zap.Int("attempts", item.CurrentAttempts),
	)
	return true, nil
}

func (r *Runner) generate(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
	if r.generator == nil {
		return ai.GeneratedContent{}, ai.ErrGeneratorUnavailable
	}
	callCtx, cancel := context.WithTimeout(ctx, r.generationTimeout)
	defer cancel()

	started := time.Now()
	content, err := r.generator.Generate(callCtx, region)
	r.metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ai.GeneratedContent{}, fmt.Errorf("generation timed out after %s: %w", r.generationTimeout, err)
		}
		return ai.GeneratedContent{}, err
	}
	return content, nil
}

func describeRegion(batch *domain.Batch, item *domain.QueueItem) ai.RegionDescriptor {
	contextParts := make([]string, 0, 2)
	if text := strings.TrimSpace(item.CulturalContext); text != "" {
		contextParts = append(contextParts, text)
	}
	if text := strings.TrimSpace(batch.Customization); text != "" {
		contextParts = append(contextParts, text)
	}
	return ai.RegionDescriptor{
		Name:         item.RegionName,
		Kind:         string(item.RegionKind),
		CountryCode:  item.CountryCode,
		ParentRegion: item.ParentRegionName,
		Continent:    item.Continent,
		Context:      strings.Join(contextParts, "\n"),
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
