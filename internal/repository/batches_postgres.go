package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

const (
	batchColumns = `id, name, description, continent, region_kinds, filters, customization,
		cost_per_region, status, total_regions, completed_regions, failed_regions, skipped_regions,
		estimated_cost, actual_cost, estimated_duration, actual_duration, last_error, created_by,
		created_at, updated_at, started_at, completed_at`

	itemColumns = `id, batch_id, region_name, region_kind, continent, country_code, parent_region_name,
		cultural_context, status, priority_level, queue_order, estimated_cost, actual_cost,
		estimated_duration_seconds, actual_duration_seconds, max_attempts, current_attempts,
		last_error, error_count, created_at, started_at, completed_at`
)

var itemCopyColumns = []string{
	"id", "batch_id", "region_name", "region_kind", "continent", "country_code", "parent_region_name",
	"cultural_context", "status", "priority_level", "queue_order", "estimated_cost",
	"estimated_duration_seconds", "max_attempts", "current_attempts", "error_count", "created_at",
}

type PostgresBatchRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBatchRepository(pool *pgxpool.Pool) *PostgresBatchRepository {
	return &PostgresBatchRepository{pool: pool}
}

// CreateBatch inserts the batch and all of its items in one transaction.
func (r *PostgresBatchRepository) CreateBatch(
	ctx context.Context,
	batch *domain.Batch,
	items []*domain.QueueItem,
) error {
	if err := validateNewBatch(batch, items); err != nil {
		return err
	}

	filters, err := json.Marshal(batch.Filters)
	if err != nil {
		return fmt.Errorf("encode batch filters: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO region_batches (`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		batch.ID,
		batch.Name,
		batch.Description,
		batch.Continent,
		kindsToStrings(batch.RegionKinds),
		filters,
		batch.Customization,
		batch.CostPerRegion,
		string(batch.Status),
		batch.TotalRegions,
		batch.CompletedRegions,
		batch.FailedRegions,
		batch.SkippedRegions,
		batch.EstimatedCost,
		batch.ActualCost,
		batch.EstimatedDuration,
		batch.ActualDuration,
		batch.LastError,
		batch.CreatedBy,
		batch.CreatedAt,
		batch.UpdatedAt,
		batch.StartedAt,
		batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	copied, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"region_queue_items"},
		itemCopyColumns,
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			item := items[i]
			return []any{
				item.ID,
				item.BatchID,
				item.RegionName,
				string(item.RegionKind),
				item.Continent,
				item.CountryCode,
				item.ParentRegionName,
				item.CulturalContext,
				string(item.Status),
				item.PriorityLevel,
				item.QueueOrder,
				item.EstimatedCost,
				item.EstimatedDurationSeconds,
				item.MaxAttempts,
				item.CurrentAttempts,
				item.ErrorCount,
				item.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert queue items: %w", err)
	}
	if int(copied) != len(items) {
		return fmt.Errorf("insert queue items: copied %d of %d rows", copied, len(items))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

func (r *PostgresBatchRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM region_batches WHERE id = $1`, batchID)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return batch, nil
}

func (r *PostgresBatchRepository) ListBatches(
	ctx context.Context,
	filter domain.BatchListFilter,
) ([]domain.Batch, int, error) {
	filter = normalizeBatchFilter(filter)
	where, args := buildBatchFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM region_batches"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s FROM region_batches%s ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`,
		batchColumns,
		where,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, *batch)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", rows.Err())
	}
	return batches, total, nil
}

func (r *PostgresBatchRepository) TransitionBatch(
	ctx context.Context,
	batchID string,
	transition BatchTransition,
) (*domain.Batch, error) {
	from := make([]string, 0, len(transition.From))
	for _, status := range transition.From {
		from = append(from, string(status))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE region_batches
		SET status = $2,
			updated_at = $3,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, $3) ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END,
			last_error = CASE WHEN $5 <> '' THEN $5 ELSE last_error END
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+batchColumns,
		batchID,
		string(transition.To),
		transition.At,
		from,
		transition.Reason,
	)
	batch, err := scanBatch(row)
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition batch: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM region_batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check batch: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrStatusConflict
}

func (r *PostgresBatchRepository) SaveBatchStats(
	ctx context.Context,
	batchID string,
	stats domain.ItemStats,
	at time.Time,
) error {
	var snapshot domain.Batch
	snapshot.ApplyStats(stats)

	command, err := r.pool.Exec(ctx, `
		UPDATE region_batches
		SET completed_regions = $2,
			failed_regions = $3,
			actual_cost = $4,
			actual_duration = $5,
			updated_at = $6
		WHERE id = $1
	`, batchID, snapshot.CompletedRegions, snapshot.FailedRegions, snapshot.ActualCost, snapshot.ActualDuration, at)
	if err != nil {
		return fmt.Errorf("update batch stats: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresBatchRepository) DeleteBatch(ctx context.Context, batchID string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM region_batches WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresBatchRepository) ListRunningBatchIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM region_batches WHERE status = 'running' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list running batches: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect running batches: %w", err)
	}
	return ids, nil
}

// ClaimNextItem is a single conditional update: the row lock taken by
// FOR UPDATE SKIP LOCKED keeps concurrent claimers off the same item.
func (r *PostgresBatchRepository) ClaimNextItem(
	ctx context.Context,
	batchID string,
	at time.Time,
) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE region_queue_items
		SET status = 'processing',
			current_attempts = current_attempts + 1,
			started_at = $2
		WHERE id = (
			SELECT id FROM region_queue_items
			WHERE batch_id = $1 AND status = 'queued'
			ORDER BY priority_level ASC, queue_order ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns,
		batchID,
		at,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim queue item: %w", err)
	}
	return item, nil
}

func (r *PostgresBatchRepository) UpdateItem(ctx context.Context, item *domain.QueueItem) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE region_queue_items
		SET status = $2,
			actual_cost = $3,
			actual_duration_seconds = $4,
			current_attempts = $5,
			last_error = $6,
			error_count = $7,
			started_at = $8,
			completed_at = $9
		WHERE id = $1
	`,
		item.ID,
		string(item.Status),
		item.ActualCost,
		item.ActualDurationSeconds,
		item.CurrentAttempts,
		item.LastError,
		item.ErrorCount,
		item.StartedAt,
		item.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresBatchRepository) ListItems(
	ctx context.Context,
	batchID string,
	filter domain.ItemListFilter,
) ([]domain.QueueItem, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(`SELECT ` + itemColumns + ` FROM region_queue_items WHERE batch_id = $1`)
	args := []any{batchID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	query.WriteString(" ORDER BY priority_level ASC, queue_order ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := r.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate queue items: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresBatchRepository) ItemStats(ctx context.Context, batchID string) (domain.ItemStats, error) {
	var stats domain.ItemStats
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM region_batches WHERE id = $1),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(actual_cost) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(actual_duration_seconds), 0),
			COALESCE((
				SELECT region_name FROM region_queue_items
				WHERE batch_id = $1 AND status = 'processing'
				ORDER BY started_at DESC NULLS LAST
				LIMIT 1
			), '')
		FROM region_queue_items
		WHERE batch_id = $1
	`, batchID).Scan(
		&exists,
		&stats.Total,
		&stats.Queued,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.ActualCost,
		&stats.ActualDurationSeconds,
		&stats.CurrentRegion,
	)
	if err != nil {
		return domain.ItemStats{}, fmt.Errorf("aggregate queue items: %w", err)
	}
	if !exists {
		return domain.ItemStats{}, ErrNotFound
	}
	return stats, nil
}

func (r *PostgresBatchRepository) RecoverProcessing(ctx context.Context, batchID string, at time.Time) (int, error) {
	command, err := r.pool.Exec(ctx, `
		UPDATE region_queue_items
		SET status = CASE WHEN current_attempts >= max_attempts THEN 'failed' ELSE 'queued' END,
			last_error = CASE WHEN current_attempts >= max_attempts THEN $3 ELSE last_error END,
			error_count = CASE WHEN current_attempts >= max_attempts THEN error_count + 1 ELSE error_count END,
			completed_at = CASE WHEN current_attempts >= max_attempts THEN $2 ELSE completed_at END,
			started_at = CASE WHEN current_attempts >= max_attempts THEN started_at ELSE NULL END
		WHERE batch_id = $1 AND status = 'processing'
	`, batchID, at, interruptedError)
	if err != nil {
		return 0, fmt.Errorf("recover processing items: %w", err)
	}
	return int(command.RowsAffected()), nil
}

func buildBatchFilters(filter domain.BatchListFilter) (string, []any) {
	query := strings.Builder{}
	args := make([]any, 0, 2)
	clauses := make([]string, 0, 2)

	if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
		args = append(args, createdBy)
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(clauses, " AND "))
	}
	return query.String(), args
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var (
		batch   domain.Batch
		kinds   []string
		filters []byte
		status  string
	)
	err := row.Scan(
		&batch.ID,
		&batch.Name,
		&batch.Description,
		&batch.Continent,
		&kinds,
		&filters,
		&batch.Customization,
		&batch.CostPerRegion,
		&status,
		&batch.TotalRegions,
		&batch.CompletedRegions,
		&batch.FailedRegions,
		&batch.SkippedRegions,
		&batch.EstimatedCost,
		&batch.ActualCost,
		&batch.EstimatedDuration,
		&batch.ActualDuration,
		&batch.LastError,
		&batch.CreatedBy,
		&batch.CreatedAt,
		&batch.UpdatedAt,
		&batch.StartedAt,
		&batch.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.Status = domain.BatchStatus(status)
	batch.RegionKinds = make([]domain.RegionKind, 0, len(kinds))
	for _, kind := range kinds {
		batch.RegionKinds = append(batch.RegionKinds, domain.RegionKind(kind))
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &batch.Filters); err != nil {
			return nil, fmt.Errorf("decode batch filters: %w", err)
		}
	}
	return &batch, nil
}

func scanItem(row rowScanner) (*domain.QueueItem, error) {
	var (
		item   domain.QueueItem
		kind   string
		status string
	)
	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&item.RegionName,
		&kind,
		&item.Continent,
		&item.CountryCode,
		&item.ParentRegionName,
		&item.CulturalContext,
		&status,
		&item.PriorityLevel,
		&item.QueueOrder,
		&item.EstimatedCost,
		&item.ActualCost,
		&item.EstimatedDurationSeconds,
		&item.ActualDurationSeconds,
		&item.MaxAttempts,
		&item.CurrentAttempts,
		&item.LastError,
		&item.ErrorCount,
		&item.CreatedAt,
		&item.StartedAt,
		&item.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	item.RegionKind = domain.RegionKind(kind)
	item.Status = domain.ItemStatus(status)
	return &item, nil
}

func kindsToStrings(kinds []domain.RegionKind) []string {
	values := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		values = append(values, string(kind))
	}
	return values
}
