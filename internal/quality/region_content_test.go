package quality

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNormalizesRegionContent(t *testing.T) {
	validator := NewRegionContentValidator(RegionContentValidatorConfig{})

	body := json.RawMessage(`{
		"overview": "  Peru is an Andean nation   with a long history of faith communities in its highlands. ",
		"spiritual_landscape": "Mostly Catholic with growing evangelical churches.",
		"challenges": ["Poverty in rural areas", "poverty in rural areas", ""],
		"prayer_points": ["Pray for rural pastors", "Pray for families", "Pray for youth"]
	}`)

	validated, err := validator.Validate(body)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(validated, &payload))
	assert.Equal(t, "Peru is an Andean nation with a long history of faith communities in its highlands.", payload["overview"])
	assert.Len(t, payload["challenges"], 1)
	assert.Len(t, payload["prayer_points"], 3)
	score, ok := payload["quality_score"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 0.95, score, 1e-9)
}

func TestValidateRejectsMissingCoreFields(t *testing.T) {
	validator := NewRegionContentValidator(RegionContentValidatorConfig{})

	for name, body := range map[string]string{
		"no overview":      `{"prayer_points":["Pray"]}`,
		"no prayer points": `{"overview":"Some overview text"}`,
		"wrong shape":      `{"overview":"ok","prayer_points":"not a list"}`,
	} {
		_, err := validator.Validate(json.RawMessage(body))
		assert.ErrorIs(t, err, ErrQualityRejected, name)
	}
}

func TestValidateRejectsLowScore(t *testing.T) {
	validator := NewRegionContentValidator(RegionContentValidatorConfig{MinScore: 0.9})

	_, err := validator.Validate(json.RawMessage(`{"overview":"Short.","prayer_points":["Pray"]}`))
	require.ErrorIs(t, err, ErrQualityRejected)
	assert.Contains(t, err.Error(), "low region content score")
}

func TestTruncateAtWord(t *testing.T) {
	value := strings.Repeat("word ", 100)
	truncated := truncateAtWord(value, 42)
	assert.LessOrEqual(t, len(truncated), 42)
	assert.False(t, strings.HasSuffix(truncated, " "))
}
