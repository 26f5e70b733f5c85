package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/catalog"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/logging"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/metrics"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/planner"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
)

const defaultMaxAttempts = 3

// Runner drives batch worker loops. Spawn is a no-op for a batch that already
// loops in this process.
type Runner interface {
	Spawn(batchID string) bool
}

type BatchServiceDependencies struct {
	Repo                 repository.BatchRepository
	Catalog              catalog.Catalog
	Runner               Runner
	Metrics              *metrics.Metrics
	Logger               *zap.Logger
	Now                  func() time.Time
	MaxAttempts          int
	DefaultCostPerRegion float64
}

// BatchService orchestrates the batch lifecycle. It holds no per-batch state:
// every decision is made against the persisted rows.
type BatchService struct {
	repo        repository.BatchRepository
	catalog     catalog.Catalog
	runner      Runner
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
	defaultCost float64
}

type CreateBatchInput struct {
	Name        string
	Description string
	Config      domain.SelectionConfig
	Preview     *domain.Preview
}

func NewBatchService(deps BatchServiceDependencies) *BatchService {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = defaultMaxAttempts
	}
	if deps.DefaultCostPerRegion <= 0 {
		deps.DefaultCostPerRegion = planner.DefaultCostPerRegion
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	return &BatchService{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		runner:      deps.Runner,
		metrics:     deps.Metrics,
		logger:      logging.OrNop(deps.Logger),
		now:         deps.Now,
		maxAttempts: deps.MaxAttempts,
		defaultCost: deps.DefaultCostPerRegion,
	}
}

// Preview never fails on the selection itself: criteria that match nothing
// yield an empty preview.
func (s *BatchService) Preview(ctx context.Context, cfg domain.SelectionConfig) (domain.Preview, error) {
	regions, err := s.catalog.Regions(ctx)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("load region catalog: %w", err)
	}
	return planner.BuildPreview(regions, s.normalizeConfig(cfg)), nil
}

func (s *BatchService) CreateBatch(ctx context.Context, actor string, input CreateBatchInput) (*domain.Batch, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrActorRequired
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("batch name is required: %w", domain.ErrInvalidInput)
	}

	cfg := s.normalizeConfig(input.Config)
	var preview domain.Preview
	if input.Preview != nil {
		checked, err := checkSuppliedPreview(*input.Preview)
		if err != nil {
			return nil, err
		}
		preview = checked
	} else {
		computed, err := s.Preview(ctx, cfg)
		if err != nil {
			return nil, err
		}
		preview = computed
	}

	now := s.now()
	batch := &domain.Batch{
		ID:                uuid.NewString(),
		Name:              name,
		Description:       strings.TrimSpace(input.Description),
		Continent:         cfg.Continent,
		RegionKinds:       cfg.RegionKinds,
		Filters:           cfg.Filters,
		Customization:     cfg.Customization,
		CostPerRegion:     cfg.CostPerRegion,
		Status:            domain.BatchStatusCreated,
		TotalRegions:      len(preview.Items),
		EstimatedCost:     preview.TotalCost,
		EstimatedDuration: preview.TotalMinutes,
		CreatedBy:         actor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]*domain.QueueItem, 0, len(preview.Items))
	for index, candidate := range preview.Items {
		items = append(items, &domain.QueueItem{
			ID:                       uuid.NewString(),
			BatchID:                  batch.ID,
			RegionName:               candidate.Name,
			RegionKind:               candidate.Kind,
			Continent:                candidate.Continent,
			CountryCode:              candidate.CountryCode,
			ParentRegionName:         candidate.ParentRegion,
			CulturalContext:          candidate.CulturalContext,
			Status:                   domain.ItemStatusQueued,
			PriorityLevel:            candidate.PriorityLevel,
			QueueOrder:               index + 1,
			EstimatedCost:            candidate.EstimatedCost,
			EstimatedDurationSeconds: candidate.EstimatedDurationSeconds,
			MaxAttempts:              s.maxAttempts,
			CreatedAt:                now,
		})
	}

	if err := s.repo.CreateBatch(ctx, batch, items); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.logger.Info("batch created",
		zap.String("batch_id", batch.ID),
		zap.String("created_by", actor),
		zap.Int("total_regions", batch.TotalRegions),
		zap.Float64("estimated_cost", batch.EstimatedCost),
	)
	return batch, nil
}

// checkSuppliedPreview rejects client-edited items the planner could never
// produce and recomputes the totals from the items that remain.
func checkSuppliedPreview(supplied domain.Preview) (domain.Preview, error) {
	items := make([]domain.PreviewItem, 0, len(supplied.Items))
	for index, item := range supplied.Items {
		kind, ok := domain.ParseRegionKind(string(item.Kind))
		if !ok {
			return domain.Preview{}, fmt.Errorf("preview item %d: unknown region kind %q: %w", index, item.Kind, domain.ErrInvalidInput)
		}
		item.Kind = kind
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			return domain.Preview{}, fmt.Errorf("preview item %d: region name is required: %w", index, domain.ErrInvalidInput)
		}
		if item.PriorityLevel < planner.PriorityUrgent || item.PriorityLevel > planner.PriorityMedium {
			return domain.Preview{}, fmt.Errorf("preview item %d: priority %d out of range: %w", index, item.PriorityLevel, domain.ErrInvalidInput)
		}
		if item.EstimatedCost < 0 || item.EstimatedDurationSeconds < 0 {
			return domain.Preview{}, fmt.Errorf("preview item %d: estimates must not be negative: %w", index, domain.ErrInvalidInput)
		}
		items = append(items, item)
	}

	preview := domain.Preview{Items: items, TotalRegions: len(items)}
	preview.TotalCost, preview.TotalMinutes = planner.Totals(items)
	return preview, nil
}

// Start moves a created or paused batch to running and spawns its loop.
func (s *BatchService) Start(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := s.transition(ctx, batchID, domain.BatchStatusRunning, "")
	if err != nil {
		return nil, err
	}
	if s.runner != nil {
		s.runner.Spawn(batch.ID)
	}
	return batch, nil
}

// Pause lets the loop finish the in-flight item; it exits on its next status check.
func (s *BatchService) Pause(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.transition(ctx, batchID, domain.BatchStatusPaused, "")
}

func (s *BatchService) Stop(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.transition(ctx, batchID, domain.BatchStatusCancelled, "")
}

func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// OwnedBatch returns the batch only to the actor that created it. Other
// actors get ErrNotFound, matching what ListBatches shows them.
func (s *BatchService) OwnedBatch(ctx context.Context, actor, batchID string) (*domain.Batch, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrActorRequired
	}
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.CreatedBy != actor {
		return nil, repository.ErrNotFound
	}
	return batch, nil
}

func (s *BatchService) ListBatches(
	ctx context.Context,
	actor string,
	filter domain.BatchListFilter,
) ([]domain.Batch, int, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, 0, domain.ErrActorRequired
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown batch status %q: %w", filter.Status, domain.ErrInvalidInput)
	}
	filter.CreatedBy = actor
	return s.repo.ListBatches(ctx, filter)
}

func (s *BatchService) ListItems(
	ctx context.Context,
	batchID string,
	filter domain.ItemListFilter,
) ([]domain.QueueItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown item status %q: %w", filter.Status, domain.ErrInvalidInput)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must not be negative: %w", domain.ErrInvalidInput)
	}
	return s.repo.ListItems(ctx, batchID, filter)
}

// DeleteBatch removes a batch and its items. A running batch must be paused
// or stopped first.
func (s *BatchService) DeleteBatch(ctx context.Context, batchID string) error {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status == domain.BatchStatusRunning {
		return fmt.Errorf("delete running batch: %w", domain.ErrInvalidTransition)
	}
	if err := s.repo.DeleteBatch(ctx, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	s.logger.Info("batch deleted", zap.String("batch_id", batchID), zap.String("status", string(batch.Status)))
	return nil
}

func (s *BatchService) transition(
	ctx context.Context,
	batchID string,
	to domain.BatchStatus,
	reason string,
) (*domain.Batch, error) {
	current, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.TransitionBatch(ctx, batchID, repository.BatchTransition{
		From:   domain.SourcesFor(to),
		To:     to,
		At:     s.now(),
		Reason: reason,
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		// Lost a race with another transition; report against what won.
		latest, getErr := s.repo.GetBatch(ctx, batchID)
		if getErr != nil {
			return nil, getErr
		}
		if checkErr := checkTransition(latest.Status, to); checkErr != nil {
			return nil, checkErr
		}
		return nil, fmt.Errorf("transition batch to %s: %w", to, domain.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("transition batch to %s: %w", to, err)
	}

	s.metrics.BatchTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("batch status changed",
		zap.String("batch_id", batchID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func checkTransition(from, to domain.BatchStatus) error {
	if to == domain.BatchStatusRunning && from == domain.BatchStatusRunning {
		return domain.ErrAlreadyRunning
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *BatchService) normalizeConfig(cfg domain.SelectionConfig) domain.SelectionConfig {
	cfg.Continent = strings.TrimSpace(cfg.Continent)
	cfg.Customization = strings.TrimSpace(cfg.Customization)
	if cfg.CostPerRegion <= 0 {
		cfg.CostPerRegion = s.defaultCost
	}
	kinds := make([]domain.RegionKind, 0, len(cfg.RegionKinds))
	for _, kind := range cfg.RegionKinds {
		if parsed, ok := domain.ParseRegionKind(string(kind)); ok {
			kinds = append(kinds, parsed)
		}
	}
	cfg.RegionKinds = kinds
	return cfg
}
