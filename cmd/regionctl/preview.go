package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/catalog"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
)

type previewOptions struct {
	continent     string
	kinds         []string
	christian     bool
	minPopulation int64
	crisis        bool
	strategic     bool
	cost          float64
	catalogPath   string
}

// newPreviewCmd computes a preview against the catalog without touching any
// database or provider.
func newPreviewCmd() *cobra.Command {
	opts := previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the prioritized, costed worklist for a selection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPreview(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.continent, "continent", "", "continent to select")
	flags.StringSliceVar(&opts.kinds, "kinds", []string{"country"}, "region kinds (country, state, city)")
	flags.BoolVar(&opts.christian, "christian", false, "only christian-majority regions")
	flags.Int64Var(&opts.minPopulation, "min-population", 0, "minimum population")
	flags.BoolVar(&opts.crisis, "crisis", false, "only regions in crisis")
	flags.BoolVar(&opts.strategic, "strategic", false, "only strategically important regions")
	flags.Float64Var(&opts.cost, "cost", 0, "cost per region (defaults to the configured cost)")
	flags.StringVar(&opts.catalogPath, "catalog", "", "region catalog YAML file (defaults to the bundled catalog)")
	_ = cmd.MarkFlagRequired("continent")
	return cmd
}

func runPreview(cmd *cobra.Command, opts previewOptions) error {
	regions, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return fmt.Errorf("load region catalog: %w", err)
	}

	kinds := make([]domain.RegionKind, 0, len(opts.kinds))
	for _, kind := range opts.kinds {
		kinds = append(kinds, domain.RegionKind(kind))
	}

	batches := service.NewBatchService(service.BatchServiceDependencies{
		Repo:    repository.NewMemoryBatchRepository(),
		Catalog: regions,
	})
	preview, err := batches.Preview(cmd.Context(), domain.SelectionConfig{
		Continent:   opts.continent,
		RegionKinds: kinds,
		Filters: domain.SelectionFilters{
			OnlyChristianMajority: opts.christian,
			MinPopulation:         opts.minPopulation,
			CrisisOnly:            opts.crisis,
			StrategicOnly:         opts.strategic,
		},
		CostPerRegion: opts.cost,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(preview)
}
