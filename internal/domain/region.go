package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type RegionKind string

const (
	RegionKindCountry RegionKind = "country"
	RegionKindState   RegionKind = "state"
	RegionKindCity    RegionKind = "city"
)

func (k RegionKind) Valid() bool {
	switch k {
	case RegionKindCountry, RegionKindState, RegionKindCity:
		return true
	default:
		return false
	}
}

// ParseRegionKind accepts singular and plural spellings ("countries", "cities").
func ParseRegionKind(value string) (RegionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "country", "countries":
		return RegionKindCountry, true
	case "state", "states":
		return RegionKindState, true
	case "city", "cities":
		return RegionKindCity, true
	default:
		return "", false
	}
}

// RegionCandidate is a catalog entry considered at preview time. It is never
// persisted by the queue itself.
type RegionCandidate struct {
	Name                string     `json:"name" yaml:"name"`
	Kind                RegionKind `json:"kind" yaml:"kind"`
	Continent           string     `json:"continent" yaml:"continent"`
	CountryCode         string     `json:"country_code,omitempty" yaml:"country_code"`
	ParentRegion        string     `json:"parent_region,omitempty" yaml:"parent_region"`
	Population          int64      `json:"population" yaml:"population"`
	ChristianMajority   bool       `json:"christian_majority" yaml:"christian_majority"`
	InCrisis            bool       `json:"in_crisis" yaml:"in_crisis"`
	StrategicImportance bool       `json:"strategic_importance" yaml:"strategic_importance"`
	CulturalContext     string     `json:"cultural_context,omitempty" yaml:"cultural_context"`
}

// RegionContent is the generated payload stored per region, keyed by name and kind.
type RegionContent struct {
	RegionName  string
	RegionKind  RegionKind
	CountryCode string
	Payload     json.RawMessage
	ModelID     string
	BatchID     string
	UpdatedAt   time.Time
}
