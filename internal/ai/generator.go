package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrGeneratorUnavailable = errors.New("content generator unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	JSONOutput      bool
}

// GenerateResult carries the provider-reported cost when there is one.
type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
	Cost    *float64
}

type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

// RegionDescriptor is what a generator needs to know about one region.
type RegionDescriptor struct {
	Name         string
	Kind         string
	CountryCode  string
	ParentRegion string
	Continent    string
	Context      string
}

type GeneratedContent struct {
	Payload json.RawMessage
	Cost    *float64
	ModelID string
	Usage   TokenUsage
}

type ContentGenerator interface {
	Generate(ctx context.Context, region RegionDescriptor) (GeneratedContent, error)
}

func providerFirstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}
