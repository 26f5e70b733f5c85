package domain

import "time"

type ItemStatus string

const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusQueued, ItemStatusProcessing, ItemStatusCompleted, ItemStatusFailed:
		return true
	default:
		return false
	}
}

func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// QueueItem is one region's generation job inside a batch. QueueOrder is fixed
// at creation and breaks ties between equal priority levels.
type QueueItem struct {
	ID                       string     `json:"id"`
	BatchID                  string     `json:"batch_id"`
	RegionName               string     `json:"region_name"`
	RegionKind               RegionKind `json:"region_kind"`
	Continent                string     `json:"continent"`
	CountryCode              string     `json:"country_code,omitempty"`
	ParentRegionName         string     `json:"parent_region_name,omitempty"`
	CulturalContext          string     `json:"cultural_context,omitempty"`
	Status                   ItemStatus `json:"status"`
	PriorityLevel            int        `json:"priority_level"`
	QueueOrder               int        `json:"queue_order"`
	EstimatedCost            float64    `json:"estimated_cost"`
	ActualCost               *float64   `json:"actual_cost,omitempty"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds"`
	ActualDurationSeconds    *int       `json:"actual_duration_seconds,omitempty"`
	MaxAttempts              int        `json:"max_attempts"`
	CurrentAttempts          int        `json:"current_attempts"`
	LastError                string     `json:"last_error,omitempty"`
	ErrorCount               int        `json:"error_count"`
	CreatedAt                time.Time  `json:"created_at"`
	StartedAt                *time.Time `json:"started_at,omitempty"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
}

type ItemListFilter struct {
	Status ItemStatus
	Limit  int
	Offset int
}

// ItemStats aggregates a batch's items; it is the source of truth for counters.
type ItemStats struct {
	Total                 int
	Queued                int
	Processing            int
	Completed             int
	Failed                int
	ActualCost            float64
	ActualDurationSeconds int
	CurrentRegion         string
}
