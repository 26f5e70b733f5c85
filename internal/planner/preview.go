// Package planner turns a selection config into a prioritized, costed preview.
// Everything here is pure: the same catalog snapshot and config always yield
// the same preview.
package planner

import (
	"math"
	"sort"
	"strings"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3

	// SecondsPerRegion is the fixed per-item time estimate.
	SecondsPerRegion = 30

	DefaultCostPerRegion = 0.05

	largePopulation = 10_000_000
)

// BuildPreview selects, filters, prioritizes and costs the catalog regions.
func BuildPreview(regions []domain.RegionCandidate, cfg domain.SelectionConfig) domain.Preview {
	cost := cfg.CostPerRegion
	if cost <= 0 {
		cost = DefaultCostPerRegion
	}

	items := make([]domain.PreviewItem, 0)
	for _, region := range regions {
		if !Matches(region, cfg) {
			continue
		}
		items = append(items, domain.PreviewItem{
			RegionCandidate:          region,
			PriorityLevel:            Priority(region),
			EstimatedCost:            cost,
			EstimatedDurationSeconds: SecondsPerRegion,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PriorityLevel < items[j].PriorityLevel
	})

	preview := domain.Preview{
		Items:        items,
		TotalRegions: len(items),
	}
	preview.TotalCost, preview.TotalMinutes = Totals(items)
	for _, item := range items {
		switch item.Kind {
		case domain.RegionKindCountry:
			preview.Summary.Countries++
		case domain.RegionKindState:
			preview.Summary.States++
		case domain.RegionKindCity:
			preview.Summary.Cities++
		}
	}
	return preview
}

// Totals sums the per-item estimates into a rounded cost and whole minutes.
func Totals(items []domain.PreviewItem) (float64, int) {
	var (
		cost    float64
		seconds int
	)
	for _, item := range items {
		cost += item.EstimatedCost
		seconds += item.EstimatedDurationSeconds
	}
	return roundCost(cost), int(math.Round(float64(seconds) / 60))
}

// Matches applies continent, kind and every active filter conjunctively.
func Matches(region domain.RegionCandidate, cfg domain.SelectionConfig) bool {
	if !strings.EqualFold(strings.TrimSpace(region.Continent), strings.TrimSpace(cfg.Continent)) {
		return false
	}
	if !containsKind(cfg.RegionKinds, region.Kind) {
		return false
	}

	filters := cfg.Filters
	if filters.OnlyChristianMajority && !region.ChristianMajority {
		return false
	}
	if filters.MinPopulation > 0 && region.Population < filters.MinPopulation {
		return false
	}
	if filters.CrisisOnly && !region.InCrisis {
		return false
	}
	if filters.StrategicOnly && !region.StrategicImportance {
		return false
	}
	return true
}

// Priority returns the most urgent level among all rules that apply.
func Priority(region domain.RegionCandidate) int {
	level := PriorityMedium
	if region.StrategicImportance || region.Population > largePopulation {
		level = min(level, PriorityHigh)
	}
	if region.ChristianMajority || region.InCrisis {
		level = min(level, PriorityUrgent)
	}
	return level
}

func containsKind(kinds []domain.RegionKind, kind domain.RegionKind) bool {
	for _, candidate := range kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

func roundCost(value float64) float64 {
	return math.Round(value*10000) / 10000
}
