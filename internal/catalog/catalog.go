// Package catalog provides the candidate regions the planner selects from.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

//go:embed regions.yaml
var defaultRegions []byte

// Catalog is a read-only source of region candidates.
type Catalog interface {
	Regions(ctx context.Context) ([]domain.RegionCandidate, error)
}

// StaticCatalog serves a fixed snapshot. Callers receive copies.
type StaticCatalog struct {
	regions []domain.RegionCandidate
}

func NewStaticCatalog(regions []domain.RegionCandidate) *StaticCatalog {
	return &StaticCatalog{regions: append([]domain.RegionCandidate(nil), regions...)}
}

func (c *StaticCatalog) Regions(_ context.Context) ([]domain.RegionCandidate, error) {
	return append([]domain.RegionCandidate(nil), c.regions...), nil
}

func (c *StaticCatalog) Len() int {
	return len(c.regions)
}

type catalogFile struct {
	Regions []domain.RegionCandidate `yaml:"regions"`
}

// ParseYAML decodes a `regions:` document and validates each entry.
func ParseYAML(raw []byte) (*StaticCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	for index := range file.Regions {
		region := &file.Regions[index]
		region.Name = strings.TrimSpace(region.Name)
		if region.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: name is required", index)
		}
		kind, ok := domain.ParseRegionKind(string(region.Kind))
		if !ok {
			return nil, fmt.Errorf("catalog entry %q: unknown kind %q", region.Name, region.Kind)
		}
		region.Kind = kind
		region.CountryCode = strings.ToUpper(strings.TrimSpace(region.CountryCode))
	}
	return NewStaticCatalog(file.Regions), nil
}

func LoadYAML(path string) (*StaticCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseYAML(raw)
}

// Default returns the catalog bundled with the binary.
func Default() *StaticCatalog {
	catalog, err := ParseYAML(defaultRegions)
	if err != nil {
		panic(fmt.Sprintf("embedded region catalog is invalid: %v", err))
	}
	return catalog
}

// Load picks the file at path when set, otherwise the bundled catalog.
func Load(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadYAML(path)
}
