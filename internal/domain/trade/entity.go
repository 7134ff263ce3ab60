package trade

import (
	"math"
	"regexp"
	"strings"
)

// HSCode is an opaque Harmonized System classification string, e.g. "8501.10".
type HSCode string

// NormalizeHSCode trims surrounding whitespace.
func NormalizeHSCode(s string) HSCode {
	return HSCode(strings.TrimSpace(s))
}

// Chapter returns the first two digits of the code, the broadest HS grouping.
func (h HSCode) Chapter() string {
	digits := make([]byte, 0, 2)
	for i := 0; i < len(h) && len(digits) < 2; i++ {
		if h[i] >= '0' && h[i] <= '9' {
			digits = append(digits, h[i])
		}
	}
	return string(digits)
}

// CountryCode is an uppercase ISO 3166-1 alpha-2 code.
type CountryCode string

var iso2 = regexp.MustCompile(`^[A-Z]{2}$`)

// NormalizeCountry trims and uppercases s.
func NormalizeCountry(s string) CountryCode {
	return CountryCode(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether c looks like an ISO2 code.
func (c CountryCode) Valid() bool { return iso2.MatchString(string(c)) }

// Stage of a material in the supply chain.
type Stage string

const (
	StageRawMaterial  Stage = "raw_material"
	StageComponent    Stage = "component"
	StageSubassembly  Stage = "subassembly"
	StageFinishedGood Stage = "finished_good"
)

// Material is one line of a bill of materials.
type Material struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Percentage    float64     `json:"percentage"`
	OriginCountry CountryCode `json:"origin_country"`
	Stage         Stage       `json:"stage,omitempty"`
}

// CompositionTolerance is the allowed deviation of a bill of materials from 100%.
const CompositionTolerance = 0.5

// NormalizeMaterials returns a copy of ms with trimmed names and normalized
// origin codes. The input slice is not modified.
func NormalizeMaterials(ms []Material) []Material {
	out := make([]Material, len(ms))
	for i, m := range ms {
		m.ID = strings.TrimSpace(m.ID)
		m.Name = strings.TrimSpace(m.Name)
		m.OriginCountry = NormalizeCountry(string(m.OriginCountry))
		m.Stage = Stage(strings.ToLower(strings.TrimSpace(string(m.Stage))))
		out[i] = m
	}
	return out
}

// ValidateMaterials checks the bill of materials invariants: non-empty, every
// share in [0,100], valid origin codes when present, and shares summing to 100
// within CompositionTolerance.
func ValidateMaterials(ms []Material) error {
	if len(ms) == 0 {
		return Validationf("bill of materials is empty")
	}
	var sum float64
	for i, m := range ms {
		if m.Name == "" {
			return Validationf("material %d: name is required", i)
		}
		if math.IsNaN(m.Percentage) || m.Percentage < 0 || m.Percentage > 100 {
			return Validationf("material %q: percentage %v out of range [0,100]", m.Name, m.Percentage)
		}
		if m.OriginCountry != "" && !m.OriginCountry.Valid() {
			return Validationf("material %q: origin country %q is not an ISO2 code", m.Name, m.OriginCountry)
		}
		sum += m.Percentage
	}
	if math.Abs(sum-100) > CompositionTolerance {
		return Validationf("material percentages sum to %.2f, expected 100 ± %.1f", sum, CompositionTolerance)
	}
	return nil
}
