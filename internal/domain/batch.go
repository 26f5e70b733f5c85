package domain

import "time"

type BatchStatus string

const (
	BatchStatusCreated   BatchStatus = "created"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusPaused    BatchStatus = "paused"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusCreated: {BatchStatusRunning, BatchStatusCancelled},
	BatchStatusRunning: {BatchStatusPaused, BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusPaused:  {BatchStatusRunning, BatchStatusCancelled},
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusRunning, BatchStatusPaused,
		BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor lists every status that may move to target.
func SourcesFor(target BatchStatus) []BatchStatus {
	sources := make([]BatchStatus, 0, 3)
	for _, from := range []BatchStatus{BatchStatusCreated, BatchStatusRunning, BatchStatusPaused} {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

type SelectionFilters struct {
	OnlyChristianMajority bool  `json:"only_christian_majority"`
	MinPopulation         int64 `json:"min_population"`
	CrisisOnly            bool  `json:"crisis_only"`
	StrategicOnly         bool  `json:"strategic_only"`
}

// SelectionConfig is the declarative criterion a batch is built from.
type SelectionConfig struct {
	Continent     string           `json:"continent"`
	RegionKinds   []RegionKind     `json:"region_kinds"`
	Filters       SelectionFilters `json:"filters"`
	CostPerRegion float64          `json:"cost_per_region,omitempty"`
	Customization string           `json:"customization,omitempty"`
}

// Batch counters (total/completed/failed/skipped) cache the item rows and are
// recomputed from them, never incremented in place.
type Batch struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Continent         string           `json:"continent"`
	RegionKinds       []RegionKind     `json:"region_kinds"`
	Filters           SelectionFilters `json:"filters"`
	Customization     string           `json:"customization,omitempty"`
	CostPerRegion     float64          `json:"cost_per_region"`
	Status            BatchStatus      `json:"status"`
	TotalRegions      int              `json:"total_regions"`
	CompletedRegions  int              `json:"completed_regions"`
	FailedRegions     int              `json:"failed_regions"`
	SkippedRegions    int              `json:"skipped_regions"`
	EstimatedCost     float64          `json:"estimated_cost"`
	ActualCost        float64          `json:"actual_cost"`
	EstimatedDuration int              `json:"estimated_duration_minutes"`
	ActualDuration    int              `json:"actual_duration_minutes"`
	LastError         string           `json:"last_error,omitempty"`
	CreatedBy         string           `json:"created_by"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// Config rebuilds the selection the batch was created from.
func (b *Batch) Config() SelectionConfig {
	return SelectionConfig{
		Continent:     b.Continent,
		RegionKinds:   append([]RegionKind(nil), b.RegionKinds...),
		Filters:       b.Filters,
		CostPerRegion: b.CostPerRegion,
		Customization: b.Customization,
	}
}

// ApplyStats overwrites the cached counters with values aggregated from items.
func (b *Batch) ApplyStats(stats ItemStats) {
	b.CompletedRegions = stats.Completed
	b.FailedRegions = stats.Failed
	b.ActualCost = stats.ActualCost
	b.ActualDuration = int((stats.ActualDurationSeconds + 30) / 60)
}

type BatchListFilter struct {
	CreatedBy string
	Status    BatchStatus
	Page      int
	PageSize  int
}
