package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// ErrInvalidResponse marks model output that does not match the schema.
var ErrInvalidResponse = errors.New("invalid model response")

type classificationDoc struct {
	HSCode      *string       `json:"hs_code"`
	Confidence  *float64      `json:"confidence"`
	Explanation string        `json:"explanation"`
	Materials   []materialDoc `json:"materials"`
}

type materialDoc struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name"`
	Percentage    *float64 `json:"percentage"`
	OriginCountry string   `json:"origin_country"`
	Stage         string   `json:"stage"`
}

// ParseClassification decodes and validates the classifier's JSON. Output
// wrapped in prose or code fences is rejected, not repaired.
func ParseClassification(content string) (analysis.Classification, error) {
	var doc classificationDoc
	if err := strictDecode(content, &doc); err != nil {
		return analysis.Classification{}, err
	}

	if doc.HSCode == nil || strings.TrimSpace(*doc.HSCode) == "" {
		return analysis.Classification{}, fmt.Errorf("%w: hs_code is required", ErrInvalidResponse)
	}
	if doc.Confidence == nil {
		return analysis.Classification{}, fmt.Errorf("%w: confidence is required", ErrInvalidResponse)
	}
	if c := *doc.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return analysis.Classification{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidResponse, c)
	}
	if len(doc.Materials) == 0 {
		return analysis.Classification{}, fmt.Errorf("%w: materials are required", ErrInvalidResponse)
	}

	ms := make([]trade.Material, len(doc.Materials))
	for i, m := range doc.Materials {
		if m.Name == nil || m.Percentage == nil {
			return analysis.Classification{}, fmt.Errorf("%w: material %d needs name and percentage", ErrInvalidResponse, i)
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("m%d", i+1)
		}
		ms[i] = trade.Material{
			ID:            id,
			Name:          *m.Name,
			Percentage:    *m.Percentage,
			OriginCountry: trade.CountryCode(m.OriginCountry),
			Stage:         trade.Stage(m.Stage),
		}
	}
	ms = trade.NormalizeMaterials(ms)
	if err := trade.ValidateMaterials(ms); err != nil {
		return analysis.Classification{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return analysis.Classification{
		HSCode:      trade.NormalizeHSCode(*doc.HSCode),
		Confidence:  *doc.Confidence,
		Explanation: strings.TrimSpace(doc.Explanation),
		Materials:   ms,
	}, nil
}

type reportDoc struct {
	SummaryText             string   `json:"summary_text"`
	OptimizationSuggestions []string `json:"optimization_suggestions"`
	RiskAdvisory            string   `json:"risk_advisory"`
}

// ParseReport decodes the reporter's JSON into a report without id or time.
func ParseReport(content string) (analysis.Report, error) {
	var doc reportDoc
	if err := strictDecode(content, &doc); err != nil {
		return analysis.Report{}, err
	}
	if strings.TrimSpace(doc.SummaryText) == "" {
		return analysis.Report{}, fmt.Errorf("%w: summary_text is required", ErrInvalidResponse)
	}
	if doc.OptimizationSuggestions == nil {
		doc.OptimizationSuggestions = []string{}
	}
	return analysis.Report{
		SummaryText:             strings.TrimSpace(doc.SummaryText),
		OptimizationSuggestions: doc.OptimizationSuggestions,
		RiskAdvisory:            strings.TrimSpace(doc.RiskAdvisory),
	}, nil
}

func strictDecode(content string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(content))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	// anything after the first value, stray closing brackets included
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON object", ErrInvalidResponse)
	}
	return nil
}
