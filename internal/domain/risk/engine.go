// Package risk aggregates a 0–100 supply-chain risk score for a trade lane
// from country risk, duty burden and sourcing concentration.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// OriginShare is the fixed sub-weight of the composition-weighted origin risk
// inside the country factor; the destination takes the rest.
const OriginShare = 0.7

// Band is the categorical bucket of a score.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// BandFor buckets v: low below 33, high from 66, medium in between.
func BandFor(v float64) Band {
	switch {
	case v >= 66:
		return BandHigh
	case v >= 33:
		return BandMedium
	default:
		return BandLow
	}
}

// Factor names, in the order they appear in Score.Factors.
const (
	FactorCountryRisk   = "country_risk"
	FactorDutyBurden    = "duty_burden"
	FactorConcentration = "concentration"
)

// FlagUnknownCountryRisk is set when a country fell back to the default risk.
const FlagUnknownCountryRisk = "unknown_country_risk"

// Factor is one weighted input of the score.
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// Score is the explainable result of Engine.Calculate.
type Score struct {
	Value            float64             `json:"value"`
	Band             Band                `json:"band"`
	Factors          []Factor            `json:"factors"`
	UnknownCountries []trade.CountryCode `json:"unknown_countries,omitempty"`
	Flags            []string            `json:"flags,omitempty"`
}

// Weights configures the engine. The three factor weights sum to 1.
type Weights struct {
	CountryRisk        float64 `yaml:"country_risk_weight" json:"country_risk_weight"`
	DutyBurden         float64 `yaml:"duty_burden_weight" json:"duty_burden_weight"`
	Concentration      float64 `yaml:"concentration_weight" json:"concentration_weight"`
	HighDutyThreshold  float64 `yaml:"high_duty_threshold" json:"high_duty_threshold"`
	DefaultCountryRisk float64 `yaml:"default_country_risk" json:"default_country_risk"`
}

// DefaultWeights are used when configuration leaves the risk section empty.
func DefaultWeights() Weights {
	return Weights{
		CountryRisk:        0.5,
		DutyBurden:         0.2,
		Concentration:      0.3,
		HighDutyThreshold:  25,
		DefaultCountryRisk: 50,
	}
}

// Validate checks the weighting invariants.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"country_risk_weight":  w.CountryRisk,
		"duty_burden_weight":   w.DutyBurden,
		"concentration_weight": w.Concentration,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("risk: %s %v outside [0,1]", name, v)
		}
	}
	if sum := w.CountryRisk + w.DutyBurden + w.Concentration; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("risk: weights sum to %v, expected 1", sum)
	}
	if w.HighDutyThreshold <= 0 {
		return fmt.Errorf("risk: high_duty_threshold must be > 0")
	}
	if w.DefaultCountryRisk < 0 || w.DefaultCountryRisk > 100 {
		return fmt.Errorf("risk: default_country_risk %v outside [0,100]", w.DefaultCountryRisk)
	}
	return nil
}

// Engine computes risk scores. It holds no mutable state.
type Engine struct {
	ref     *reference.Store
	weights Weights
}

// NewEngine validates w and returns the engine.
func NewEngine(ref *reference.Store, w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{ref: ref, weights: w}, nil
}

// Weights returns the engine's configuration.
func (e *Engine) Weights() Weights { return e.weights }

// Calculate scores the lane. Materials must be non-empty and sum to 100
// within trade.CompositionTolerance.
func (e *Engine) Calculate(manufacturing, destination trade.CountryCode, totalDutyPercent decimal.Decimal, materials []trade.Material) (Score, error) {
	mfg := trade.NormalizeCountry(string(manufacturing))
	dest := trade.NormalizeCountry(string(destination))
	if !mfg.Valid() {
		return Score{}, trade.Validationf("manufacturing_country %q is not an ISO2 code", manufacturing)
	}
	if !dest.Valid() {
		return Score{}, trade.Validationf("destination_country %q is not an ISO2 code", destination)
	}
	if totalDutyPercent.IsNegative() {
		return Score{}, trade.Validationf("total_duty_percent must be >= 0, got %s", totalDutyPercent)
	}
	ms := trade.NormalizeMaterials(materials)
	if err := trade.ValidateMaterials(ms); err != nil {
		return Score{}, err
	}

	unknown := map[trade.CountryCode]bool{}
	lookup := func(c trade.CountryCode) float64 {
		if v, ok := e.ref.CountryRisk(c); ok {
			return v
		}
		unknown[c] = true
		return e.weights.DefaultCountryRisk
	}

	// Composition-weighted origin risk and the share held by each origin.
	var weighted, total float64
	shares := map[trade.CountryCode]float64{}
	for _, m := range ms {
		origin := m.OriginCountry
		if origin == "" {
			origin = mfg
		}
		weighted += m.Percentage * lookup(origin)
		total += m.Percentage
		shares[origin] += m.Percentage
	}
	originRisk := 0.0
	if total > 0 {
		originRisk = weighted / total
	}
	destRisk := lookup(dest)
	countryValue := clamp(OriginShare*originRisk + (1-OriginShare)*destRisk)

	duty, _ := totalDutyPercent.Float64()
	dutyValue := clamp(math.Min(duty/e.weights.HighDutyThreshold, 1) * 100)

	topOrigin, topShare := largestShare(shares, total)
	concentrationValue := clamp(topShare)

	factors := []Factor{
		newFactor(FactorCountryRisk, countryValue, e.weights.CountryRisk,
			fmt.Sprintf("origin %.2f, destination %s %.2f", originRisk, dest, destRisk)),
		newFactor(FactorDutyBurden, dutyValue, e.weights.DutyBurden,
			fmt.Sprintf("%s%% against %.2f%% threshold", totalDutyPercent, e.weights.HighDutyThreshold)),
		newFactor(FactorConcentration, concentrationValue, e.weights.Concentration,
			fmt.Sprintf("%.2f%% sourced from %s", topShare, topOrigin)),
	}

	var value float64
	for _, f := range factors {
		value += f.Value * f.Weight
	}
	value = round2(clamp(value))

	score := Score{
		Value:   value,
		Band:    BandFor(value),
		Factors: factors,
	}
	if len(unknown) > 0 {
		for c := range unknown {
			score.UnknownCountries = append(score.UnknownCountries, c)
		}
		sort.Slice(score.UnknownCountries, func(i, j int) bool { return score.UnknownCountries[i] < score.UnknownCountries[j] })
		score.Flags = []string{FlagUnknownCountryRisk}
	}
	return score, nil
}

func newFactor(name string, value, weight float64, detail string) Factor {
	return Factor{
		Name:         name,
		Value:        round2(value),
		Weight:       weight,
		Contribution: round2(value * weight),
		Detail:       detail,
	}
}

// largestShare returns the origin holding the biggest share of the bill of
// materials, normalized to percent of the total. Ties go to the lower code.
func largestShare(shares map[trade.CountryCode]float64, total float64) (trade.CountryCode, float64) {
	var best trade.CountryCode
	var bestShare float64
	for c, v := range shares {
		if v > bestShare || (v == bestShare && (best == "" || c < best)) {
			best, bestShare = c, v
		}
	}
	if total <= 0 {
		return best, 0
	}
	return best, bestShare / total * 100
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
