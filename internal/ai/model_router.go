package ai

import "strings"

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	PrimaryModel  string
	FallbackModel string
}

// ModelRouter picks generation settings per region kind: countries get the
// largest output budget, cities the smallest.
type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.PrimaryModel) == "" {
		config.PrimaryModel = "openai/gpt-4.1-mini"
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(kind string) ModelProfile {
	profile := ModelProfile{
		PrimaryModel:  r.config.PrimaryModel,
		FallbackModel: r.config.FallbackModel,
		Temperature:   0.3,
	}
	switch kind {
	case "country":
		profile.MaxOutputTokens = 2400
	case "state":
		profile.MaxOutputTokens = 1600
	default:
		profile.MaxOutputTokens = 1200
	}
	return profile
}
