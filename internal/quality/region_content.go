// Package quality scores and normalizes generated region content before it
// is stored.
package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrQualityRejected = errors.New("output failed quality checks")

const (
	defaultMinScore = 0.50

	maxOverviewLen   = 2400
	maxSectionLen    = 1800
	maxListEntryLen  = 280
	maxChallenges    = 8
	maxPrayerPoints  = 12
	shortOverviewLen = 60
	fewPrayerPoints  = 3

	overviewPenalty   = 0.18
	truncationPenalty = 0.05
	missingPenalty    = 0.10
	fewPointsPenalty  = 0.12
	duplicatePenalty  = 0.03
	emptyEntryPenalty = 0.02
)

type RegionContentValidatorConfig struct {
	// MinScore rejects payloads whose score falls below it.
	MinScore float64
}

// RegionContentValidator checks the overview / spiritual_landscape /
// challenges / prayer_points shape and rewrites the payload in normalized
// form with a quality_score.
type RegionContentValidator struct {
	minScore float64
}

func NewRegionContentValidator(config RegionContentValidatorConfig) *RegionContentValidator {
	if config.MinScore <= 0 {
		config.MinScore = defaultMinScore
	}
	return &RegionContentValidator{minScore: config.MinScore}
}

type regionContentPayload struct {
	Overview           string   `json:"overview"`
	SpiritualLandscape string   `json:"spiritual_landscape"`
	Challenges         []string `json:"challenges"`
	PrayerPoints       []string `json:"prayer_points"`
}

func (v *RegionContentValidator) Validate(body json.RawMessage) (json.RawMessage, error) {
	var payload regionContentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode region content: %v", ErrQualityRejected, err)
	}

	penalty := 0.0
	overview := normalizeText(payload.Overview)
	if overview == "" {
		return nil, fmt.Errorf("%w: overview is empty", ErrQualityRejected)
	}
	if len(overview) > maxOverviewLen {
		overview = truncateAtWord(overview, maxOverviewLen)
		penalty += truncationPenalty
	}
	if len(overview) < shortOverviewLen {
		penalty += overviewPenalty
	}

	landscape := normalizeText(payload.SpiritualLandscape)
	if landscape == "" {
		penalty += missingPenalty
	}
	if len(landscape) > maxSectionLen {
		landscape = truncateAtWord(landscape, maxSectionLen)
		penalty += truncationPenalty
	}

	challenges, challengePenalty := normalizeList(payload.Challenges, maxChallenges)
	penalty += challengePenalty
	if len(challenges) == 0 {
		penalty += missingPenalty
	}

	prayerPoints, pointsPenalty := normalizeList(payload.PrayerPoints, maxPrayerPoints)
	penalty += pointsPenalty
	if len(prayerPoints) == 0 {
		return nil, fmt.Errorf("%w: prayer points are empty", ErrQualityRejected)
	}
	if len(prayerPoints) < fewPrayerPoints {
		penalty += fewPointsPenalty
	}

	score := clamp01(1.0 - penalty)
	if score < v.minScore {
		return nil, fmt.Errorf("%w: low region content score %.2f", ErrQualityRejected, score)
	}

	encoded, err := json.Marshal(map[string]any{
		"overview":            overview,
		"spiritual_landscape": landscape,
		"challenges":          challenges,
		"prayer_points":       prayerPoints,
		"quality_score":       round2(score),
	})
	if err != nil {
		return nil, fmt.Errorf("encode region content: %w", err)
	}
	return encoded, nil
}

// normalizeList trims, truncates and de-duplicates entries, keeping at most limit.
func normalizeList(values []string, limit int) ([]string, float64) {
	penalty := 0.0
	output := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		entry := normalizeText(raw)
		if entry == "" {
			penalty += emptyEntryPenalty
			continue
		}
		if len(entry) > maxListEntryLen {
			entry = truncateAtWord(entry, maxListEntryLen)
			penalty += emptyEntryPenalty
		}
		key := strings.ToLower(entry)
		if _, exists := seen[key]; exists {
			penalty += duplicatePenalty
			continue
		}
		seen[key] = struct{}{}
		output = append(output, entry)
		if len(output) == limit {
			break
		}
	}
	return output, penalty
}

func normalizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(trimmed), " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	lastSpace := strings.LastIndex(cut, " ")
	if lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
