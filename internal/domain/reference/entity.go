package reference

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// TariffLine is the schedule entry for one HS code. Category groups codes
// for agreement coverage and defaults to the HS chapter.
type TariffLine struct {
	Description string                                `json:"description,omitempty"`
	Category    string                                `json:"category,omitempty"`
	Default     *decimal.Decimal                      `json:"default,omitempty"`
	Rates       map[trade.CountryCode]decimal.Decimal `json:"rates,omitempty"`
}

// TariffSchedule maps HS codes to per-destination base duty rates (percent).
type TariffSchedule struct {
	GlobalDefault *decimal.Decimal            `json:"global_default,omitempty"`
	HSCodes       map[trade.HSCode]TariffLine `json:"hs_codes"`
}

// RateSource records which level of the fallback chain produced a base rate.
type RateSource string

const (
	RateExact         RateSource = "exact"
	RateHSDefault     RateSource = "hs_default"
	RateGlobalDefault RateSource = "global_default"
	RateDomestic      RateSource = "domestic"
)

// Coverage is how specifically an agreement covers an HS code.
type Coverage int

const (
	CoverageNone Coverage = iota
	CoverageCategory
	CoverageExact
)

func (c Coverage) String() string {
	switch c {
	case CoverageExact:
		return "hs_code"
	case CoverageCategory:
		return "category"
	default:
		return "none"
	}
}

// TradeAgreement grants preferential duty to goods moving between members.
// Exactly one of ReductionFraction or PreferentialRate is set.
type TradeAgreement struct {
	ID         string              `json:"id"`
	Name       string              `json:"name,omitempty"`
	Members    []trade.CountryCode `json:"members"`
	HSCodes    []trade.HSCode      `json:"hs_codes,omitempty"`
	Categories []string            `json:"categories,omitempty"`

	ReductionFraction *decimal.Decimal `json:"reduction_fraction,omitempty"`
	PreferentialRate  *decimal.Decimal `json:"preferential_rate,omitempty"`

	// RulesOfOriginThreshold is the minimum share (percent) of the bill of
	// materials that must originate in member countries.
	RulesOfOriginThreshold *float64 `json:"rules_of_origin_threshold,omitempty"`
}

// IsMember reports whether c belongs to the agreement.
func (a *TradeAgreement) IsMember(c trade.CountryCode) bool {
	for _, m := range a.Members {
		if m == c {
			return true
		}
	}
	return false
}

// Covers reports how a covers hs, given the code's category.
func (a *TradeAgreement) Covers(hs trade.HSCode, category string) Coverage {
	for _, code := range a.HSCodes {
		if code == hs {
			return CoverageExact
		}
	}
	digits := hsDigits(hs)
	for _, c := range a.Categories {
		if c == "*" || c == category || (c != "" && strings.HasPrefix(digits, c)) {
			return CoverageCategory
		}
	}
	return CoverageNone
}

// RateFor applies the agreement to base and clamps the result at zero.
func (a *TradeAgreement) RateFor(base decimal.Decimal) decimal.Decimal {
	var rate decimal.Decimal
	if a.ReductionFraction != nil {
		rate = base.Mul(decimal.NewFromInt(1).Sub(*a.ReductionFraction))
	} else if a.PreferentialRate != nil {
		rate = *a.PreferentialRate
	}
	if rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

// CountryRisk is the risk entry for one country.
type CountryRisk struct {
	Name string  `json:"name,omitempty"`
	Risk float64 `json:"risk"`
}

// CountryRiskProfile holds 0–100 risk values keyed by ISO2 code.
type CountryRiskProfile struct {
	DefaultRisk *float64                          `json:"default_risk,omitempty"`
	Countries   map[trade.CountryCode]CountryRisk `json:"countries"`
}

// Tables is the raw input to NewStore.
type Tables struct {
	Tariffs     TariffSchedule
	Agreements  []TradeAgreement
	CountryRisk CountryRiskProfile
}

func hsDigits(hs trade.HSCode) string {
	var b strings.Builder
	for _, r := range string(hs) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
