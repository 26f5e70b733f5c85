package domain

type PreviewItem struct {
	RegionCandidate
	PriorityLevel            int     `json:"priority_level"`
	EstimatedCost            float64 `json:"estimated_cost"`
	EstimatedDurationSeconds int     `json:"estimated_duration_seconds"`
}

type PreviewSummary struct {
	Countries int `json:"countries"`
	States    int `json:"states"`
	Cities    int `json:"cities"`
}

// Preview is the prioritized, costed worklist computed before a batch exists.
type Preview struct {
	Items        []PreviewItem  `json:"items"`
	TotalRegions int            `json:"total_regions"`
	TotalCost    float64        `json:"total_cost"`
	TotalMinutes int            `json:"total_minutes"`
	Summary      PreviewSummary `json:"summary"`
}

type ProgressSnapshot struct {
	BatchID           string      `json:"batch_id"`
	Status            BatchStatus `json:"status"`
	TotalRegions      int         `json:"total_regions"`
	QueuedRegions     int         `json:"queued_regions"`
	ProcessingRegions int         `json:"processing_regions"`
	CompletedRegions  int         `json:"completed_regions"`
	FailedRegions     int         `json:"failed_regions"`
	SkippedRegions    int         `json:"skipped_regions"`
	ProgressPercent   int         `json:"progress_percent"`
	CurrentRegion     string      `json:"current_region,omitempty"`
	EstimatedCost     float64     `json:"estimated_cost"`
	ActualCost        float64     `json:"actual_cost"`
}
