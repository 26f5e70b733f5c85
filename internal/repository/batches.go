package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrStatusConflict = errors.New("batch status changed concurrently")
)

// BatchTransition is a conditional status change: it applies only while the
// batch is in one of From.
type BatchTransition struct {
	From   []domain.BatchStatus
	To     domain.BatchStatus
	At     time.Time
	Reason string
}

// BatchRepository persists batches and their queue items.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *domain.Batch, items []*domain.QueueItem) error
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	ListBatches(ctx context.Context, filter domain.BatchListFilter) ([]domain.Batch, int, error)
	TransitionBatch(ctx context.Context, batchID string, transition BatchTransition) (*domain.Batch, error)
	SaveBatchStats(ctx context.Context, batchID string, stats domain.ItemStats, at time.Time) error
	DeleteBatch(ctx context.Context, batchID string) error
	ListRunningBatchIDs(ctx context.Context) ([]string, error)

	ClaimNextItem(ctx context.Context, batchID string, at time.Time) (*domain.QueueItem, error)
	UpdateItem(ctx context.Context, item *domain.QueueItem) error
	ListItems(ctx context.Context, batchID string, filter domain.ItemListFilter) ([]domain.QueueItem, error)
	ItemStats(ctx context.Context, batchID string) (domain.ItemStats, error)
	RecoverProcessing(ctx context.Context, batchID string, at time.Time) (int, error)
}

// MemoryBatchRepository stores batches in memory for local development and tests.
type MemoryBatchRepository struct {
	mu      sync.RWMutex
	batches map[string]*domain.Batch
	items   map[string][]*domain.QueueItem
}

func NewMemoryBatchRepository() *MemoryBatchRepository {
	return &MemoryBatchRepository{
		batches: make(map[string]*domain.Batch),
		items:   make(map[string][]*domain.QueueItem),
	}
}

func (r *MemoryBatchRepository) CreateBatch(_ context.Context, batch *domain.Batch, items []*domain.QueueItem) error {
	if err := validateNewBatch(batch, items); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("insert batch %s: already exists", batch.ID)
	}
	stored := make([]*domain.QueueItem, 0, len(items))
	for _, item := range items {
		stored = append(stored, cloneItem(item))
	}
	r.batches[batch.ID] = cloneBatch(batch)
	r.items[batch.ID] = stored
	return nil
}

func (r *MemoryBatchRepository) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBatch(batch), nil
}

func (r *MemoryBatchRepository) ListBatches(
	_ context.Context,
	filter domain.BatchListFilter,
) ([]domain.Batch, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter = normalizeBatchFilter(filter)

	matched := make([]domain.Batch, 0)
	for _, batch := range r.batches {
		if filter.CreatedBy != "" && batch.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		matched = append(matched, *cloneBatch(batch))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.Batch{}, total, nil
	}
	end := min(start+filter.PageSize, total)
	return matched[start:end], total, nil
}

func (r *MemoryBatchRepository) TransitionBatch(
	_ context.Context,
	batchID string,
	transition BatchTransition,
) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsStatus(transition.From, batch.Status) {
		return nil, ErrStatusConflict
	}

	at := transition.At
	batch.Status = transition.To
	batch.UpdatedAt = at
	if transition.To == domain.BatchStatusRunning && batch.StartedAt == nil {
		batch.StartedAt = &at
	}
	if transition.To.Terminal() {
		batch.CompletedAt = &at
	}
	if transition.Reason != "" {
		batch.LastError = transition.Reason
	}
	return cloneBatch(batch), nil
}

func (r *MemoryBatchRepository) SaveBatchStats(
	_ context.Context,
	batchID string,
	stats domain.ItemStats,
	at time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.ApplyStats(stats)
	batch.UpdatedAt = at
	return nil
}

func (r *MemoryBatchRepository) DeleteBatch(_ context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[batchID]; !ok {
		return ErrNotFound
	}
	delete(r.batches, batchID)
	delete(r.items, batchID)
	return nil
}

func (r *MemoryBatchRepository) ListRunningBatchIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, batch := range r.batches {
		if batch.Status == domain.BatchStatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ClaimNextItem moves the most urgent queued item to processing under the
// repository lock, so two callers never receive the same item.
func (r *MemoryBatchRepository) ClaimNextItem(
	_ context.Context,
	batchID string,
	at time.Time,
) (*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.QueueItem
	for _, item := range r.items[batchID] {
		if item.Status != domain.ItemStatusQueued {
			continue
		}
		if next == nil || precedes(item, next) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = domain.ItemStatusProcessing
	next.CurrentAttempts++
	next.StartedAt = &at
	return cloneItem(next), nil
}

func (r *MemoryBatchRepository) UpdateItem(_ context.Context, item *domain.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for index, stored := range r.items[item.BatchID] {
		if stored.ID == item.ID {
			r.items[item.BatchID][index] = cloneItem(item)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryBatchRepository) ListItems(
	_ context.Context,
	batchID string,
	filter domain.ItemListFilter,
) ([]domain.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.batches[batchID]; !ok {
		return nil, ErrNotFound
	}

	matched := make([]domain.QueueItem, 0)
	for _, item := range r.items[batchID] {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		matched = append(matched, *cloneItem(item))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return precedes(&matched[i], &matched[j])
	})

	if filter.Offset >= len(matched) {
		return []domain.QueueItem{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *MemoryBatchRepository) ItemStats(_ context.Context, batchID string) (domain.ItemStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.batches[batchID]; !ok {
		return domain.ItemStats{}, ErrNotFound
	}

	var (
		stats         domain.ItemStats
		latestStarted time.Time
	)
	for _, item := range r.items[batchID] {
		stats.Total++
		switch item.Status {
		case domain.ItemStatusQueued:
			stats.Queued++
		case domain.ItemStatusProcessing:
			stats.Processing++
			if item.StartedAt != nil && !item.StartedAt.Before(latestStarted) {
				latestStarted = *item.StartedAt
				stats.CurrentRegion = item.RegionName
			}
		case domain.ItemStatusCompleted:
			stats.Completed++
			if item.ActualCost != nil {
				stats.ActualCost += *item.ActualCost
			}
		case domain.ItemStatusFailed:
			stats.Failed++
		}
		if item.ActualDurationSeconds != nil {
			stats.ActualDurationSeconds += *item.ActualDurationSeconds
		}
	}
	return stats, nil
}

// RecoverProcessing returns items left in processing by a crashed loop to the
// queue, or fails them when no attempts remain.
func (r *MemoryBatchRepository) RecoverProcessing(_ context.Context, batchID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recovered := 0
	for _, item := range r.items[batchID] {
		if item.Status != domain.ItemStatusProcessing {
			continue
		}
		recovered++
		if item.CurrentAttempts >= item.MaxAttempts {
			item.Status = domain.ItemStatusFailed
			item.LastError = interruptedError
			item.ErrorCount++
			item.CompletedAt = &at
			continue
		}
		item.Status = domain.ItemStatusQueued
		item.StartedAt = nil
	}
	return recovered, nil
}

const interruptedError = "processing interrupted before completion"

func validateNewBatch(batch *domain.Batch, items []*domain.QueueItem) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("insert batch: %w", domain.ErrInvalidInput)
	}
	if batch.TotalRegions != len(items) {
		return fmt.Errorf("insert batch: total %d does not match %d items: %w", batch.TotalRegions, len(items), domain.ErrInvalidInput)
	}
	seenOrders := make(map[int]struct{}, len(items))
	for _, item := range items {
		if item.ID == "" || item.BatchID != batch.ID {
			return fmt.Errorf("insert queue item %q: %w", item.RegionName, domain.ErrInvalidInput)
		}
		if _, dup := seenOrders[item.QueueOrder]; dup {
			return fmt.Errorf("insert queue item %q: duplicate queue order %d: %w", item.RegionName, item.QueueOrder, domain.ErrInvalidInput)
		}
		seenOrders[item.QueueOrder] = struct{}{}
	}
	return nil
}

func normalizeBatchFilter(filter domain.BatchListFilter) domain.BatchListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	return filter
}

// precedes orders items by (priority_level, queue_order) ascending.
func precedes(a, b *domain.QueueItem) bool {
	if a.PriorityLevel != b.PriorityLevel {
		return a.PriorityLevel < b.PriorityLevel
	}
	return a.QueueOrder < b.QueueOrder
}

func containsStatus(statuses []domain.BatchStatus, target domain.BatchStatus) bool {
	for _, status := range statuses {
		if status == target {
			return true
		}
	}
	return false
}

func cloneBatch(batch *domain.Batch) *domain.Batch {
	if batch == nil {
		return nil
	}
	clone := *batch
	clone.RegionKinds = append([]domain.RegionKind(nil), batch.RegionKinds...)
	clone.StartedAt = cloneTime(batch.StartedAt)
	clone.CompletedAt = cloneTime(batch.CompletedAt)
	return &clone
}

func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	if item == nil {
		return nil
	}
	clone := *item
	clone.StartedAt = cloneTime(item.StartedAt)
	clone.CompletedAt = cloneTime(item.CompletedAt)
	if item.ActualCost != nil {
		cost := *item.ActualCost
		clone.ActualCost = &cost
	}
	if item.ActualDurationSeconds != nil {
		duration := *item.ActualDurationSeconds
		clone.ActualDurationSeconds = &duration
	}
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
