package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

type PostgresRegionContentStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRegionContentStore(pool *pgxpool.Pool) *PostgresRegionContentStore {
	return &PostgresRegionContentStore{pool: pool}
}

func (s *PostgresRegionContentStore) UpsertRegionContent(ctx context.Context, content domain.RegionContent) error {
	var batchID *string
	if content.BatchID != "" {
		batchID = &content.BatchID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO region_content (region_name, region_kind, country_code, payload, model_id, batch_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (region_name, region_kind) DO UPDATE
		SET country_code = EXCLUDED.country_code,
			payload = EXCLUDED.payload,
			model_id = EXCLUDED.model_id,
			batch_id = EXCLUDED.batch_id,
			updated_at = EXCLUDED.updated_at
	`,
		strings.TrimSpace(content.RegionName),
		string(content.RegionKind),
		content.CountryCode,
		[]byte(content.Payload),
		content.ModelID,
		batchID,
		content.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert region content: %w", err)
	}
	return nil
}

func (s *PostgresRegionContentStore) GetRegionContent(
	ctx context.Context,
	regionName string,
	kind domain.RegionKind,
) (*domain.RegionContent, error) {
	var (
		content domain.RegionContent
		rawKind string
		payload []byte
		batchID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT region_name, region_kind, country_code, payload, model_id, batch_id, updated_at
		FROM region_content
		WHERE region_name = $1 AND region_kind = $2
	`, strings.TrimSpace(regionName), string(kind)).Scan(
		&content.RegionName,
		&rawKind,
		&content.CountryCode,
		&payload,
		&content.ModelID,
		&batchID,
		&content.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query region content: %w", err)
	}

	content.RegionKind = domain.RegionKind(rawKind)
	content.Payload = payload
	if batchID != nil {
		content.BatchID = *batchID
	}
	return &content, nil
}
