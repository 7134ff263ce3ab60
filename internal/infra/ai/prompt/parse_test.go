package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

const validClassification = `{
  "hs_code": " 8501.10 ",
  "confidence": 0.82,
  "explanation": "small DC motor",
  "materials": [
    {"id": "m1", "name": "copper", "percentage": 40, "origin_country": "cl", "stage": "raw_material"},
    {"name": "steel", "percentage": 60.2, "origin_country": "CN", "stage": "component"}
  ]
}`

func TestParseClassification(t *testing.T) {
	c, err := ParseClassification(validClassification)
	require.NoError(t, err)

	assert.Equal(t, trade.HSCode("8501.10"), c.HSCode)
	assert.InDelta(t, 0.82, c.Confidence, 1e-9)
	require.Len(t, c.Materials, 2)
	assert.Equal(t, trade.CountryCode("CL"), c.Materials[0].OriginCountry)
	assert.Equal(t, "m2", c.Materials[1].ID)
	assert.Equal(t, trade.StageComponent, c.Materials[1].Stage)
}

func TestParseClassificationRejects(t *testing.T) {
	cases := map[string]string{
		"code fence":         "```json\n" + validClassification + "\n```",
		"prose":              "Here you go: " + validClassification,
		"unknown field":      `{"hs_code":"8501.10","confidence":0.5,"materials":[{"name":"a","percentage":100}],"notes":"x"}`,
		"missing hs code":    `{"confidence":0.5,"materials":[{"name":"a","percentage":100}]}`,
		"missing confidence": `{"hs_code":"8501.10","materials":[{"name":"a","percentage":100}]}`,
		"confidence > 1":     `{"hs_code":"8501.10","confidence":1.5,"materials":[{"name":"a","percentage":100}]}`,
		"no materials":       `{"hs_code":"8501.10","confidence":0.5,"materials":[]}`,
		"bad sum":            `{"hs_code":"8501.10","confidence":0.5,"materials":[{"name":"a","percentage":90}]}`,
		"string percentage":  `{"hs_code":"8501.10","confidence":0.5,"materials":[{"name":"a","percentage":"100"}]}`,
		"trailing object":    validClassification + `{}`,
		"extra brace":        validClassification + `}`,
		"extra bracket":      validClassification + `]`,
		"array with bracket": `[{"hs_code":"8501.10"}]]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClassification(body)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestParseReport(t *testing.T) {
	r, err := ParseReport(`{"summary_text":"ok","optimization_suggestions":["a","b"],"risk_advisory":"watch CN"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", r.SummaryText)
	assert.Len(t, r.OptimizationSuggestions, 2)

	r, err = ParseReport(`{"summary_text":"ok"}`)
	require.NoError(t, err)
	assert.NotNil(t, r.OptimizationSuggestions)

	_, err = ParseReport(`{"summary_text":""}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	for _, trailing := range []string{"}", "]", "}}", `{"summary_text":"again"}`} {
		_, err = ParseReport(`{"summary_text":"ok","optimization_suggestions":[],"risk_advisory":"x"}` + trailing)
		assert.ErrorIs(t, err, ErrInvalidResponse, "trailing %q", trailing)
	}

	r, err = ParseReport("{\"summary_text\":\"ok\"}\n  ")
	require.NoError(t, err, "trailing whitespace is fine")
	assert.Equal(t, "ok", r.SummaryText)
}

func TestClassificationUserPromptListsCodes(t *testing.T) {
	p := ClassificationUserPrompt("Fan", "desk fan", []trade.HSCode{"8414.51", "8501.10"})
	assert.Contains(t, p, "8414.51, 8501.10")
	assert.Contains(t, ClassificationUserPrompt("Fan", "", nil), "any valid HS code")
}
