package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

const regionInstructions = "Return only a valid JSON object. Do not use markdown code fences."

var regionPrompt = template.Must(template.New("region").Parse(`Write the prayer guide content for the {{.Kind}} "{{.Name}}".
Continent: {{.Continent}}
{{- if .CountryCode}}
Country code: {{.CountryCode}}
{{- end}}
{{- if .ParentRegion}}
Part of: {{.ParentRegion}}
{{- end}}
{{- if .Context}}
Context: {{.Context}}
{{- end}}
Respond with a JSON object with the string keys "overview" and "spiritual_landscape"
and the string-array keys "challenges" and "prayer_points".`))

type RegionContentGeneratorConfig struct {
	Client TextGenerator
	Router *ModelRouter
	// Validate, when set, may rewrite or reject the parsed payload.
	Validate func(payload json.RawMessage) (json.RawMessage, error)
}

// RegionContentGenerator turns any TextGenerator into a ContentGenerator that
// yields one JSON object per region.
type RegionContentGenerator struct {
	client   TextGenerator
	router   *ModelRouter
	validate func(payload json.RawMessage) (json.RawMessage, error)
}

func NewRegionContentGenerator(config RegionContentGeneratorConfig) *RegionContentGenerator {
	if config.Router == nil {
		config.Router = NewModelRouter(ModelRouterConfig{})
	}
	return &RegionContentGenerator{
		client:   config.Client,
		router:   config.Router,
		validate: config.Validate,
	}
}

func (g *RegionContentGenerator) Generate(ctx context.Context, region RegionDescriptor) (GeneratedContent, error) {
	if g.client == nil || !g.client.Available() {
		return GeneratedContent{}, ErrGeneratorUnavailable
	}
	if strings.TrimSpace(region.Name) == "" {
		return GeneratedContent{}, fmt.Errorf("region name is required")
	}

	var prompt bytes.Buffer
	if err := regionPrompt.Execute(&prompt, region); err != nil {
		return GeneratedContent{}, fmt.Errorf("render region prompt: %w", err)
	}

	profile := g.router.Select(region.Kind)
	result, err := g.generate(ctx, profile, prompt.String())
	if err != nil {
		return GeneratedContent{}, err
	}

	payload, err := parseJSONObject(result.Text)
	if err != nil {
		return GeneratedContent{}, fmt.Errorf("parse content for %s: %w", region.Name, err)
	}
	if g.validate != nil {
		payload, err = g.validate(payload)
		if err != nil {
			return GeneratedContent{}, fmt.Errorf("validate content for %s: %w", region.Name, err)
		}
	}
	return GeneratedContent{
		Payload: payload,
		Cost:    result.Cost,
		ModelID: result.ModelID,
		Usage:   result.Usage,
	}, nil
}

func (g *RegionContentGenerator) generate(ctx context.Context, profile ModelProfile, prompt string) (GenerateResult, error) {
	request := GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    regionInstructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONOutput:      true,
	}
	primary, err := g.client.Generate(ctx, request)
	if err == nil {
		primary.ModelID = providerFirstNonEmpty(primary.ModelID, profile.PrimaryModel)
		return primary, nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel || ctx.Err() != nil {
		return GenerateResult{}, err
	}

	request.Model = profile.FallbackModel
	fallback, fallbackErr := g.client.Generate(ctx, request)
	if fallbackErr != nil {
		return GenerateResult{}, fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	fallback.ModelID = providerFirstNonEmpty(fallback.ModelID, profile.FallbackModel)
	return fallback, nil
}

// parseJSONObject strips markdown fences and requires a JSON object.
func parseJSONObject(text string) (json.RawMessage, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &object); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w", err)
	}
	if object == nil {
		return nil, fmt.Errorf("output is not a JSON object")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(cleaned)); err != nil {
		return nil, fmt.Errorf("compact output: %w", err)
	}
	return compact.Bytes(), nil
}
