package analysis

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/risk"
)

// ReportSourceRules marks reports built without the language model.
const ReportSourceRules = "rules"

// BuildReport derives a report from the numbers of rec alone. It is the
// fallback when no Reporter is configured and the baseline the model is asked
// to improve on.
func BuildReport(rec *domain.Record, now time.Time) domain.Report {
	p := rec.Parameters
	t := rec.Tariff
	r := rec.Risk

	name := p.ProductName
	if name == "" {
		name = "Product"
	}
	summary := fmt.Sprintf("%s (HS %s) shipped %s -> %s: total duty %s%% on a declared value of %s%s, duty owed %s. Supply-chain risk %.2f (%s).",
		name, t.HSCode, p.ManufacturingCountry, p.DestinationCountry,
		t.TotalDutyPercent.String(), t.DeclaredValue.StringFixed(2), currencySuffix(t.Currency), t.DutyAmount.StringFixed(2),
		r.Value, r.Band)
	if t.AppliedAgreementID != nil {
		label := *t.AppliedAgreementID
		if t.AppliedAgreementName != "" {
			label = t.AppliedAgreementName
		}
		summary += fmt.Sprintf(" Preferential treatment under %s reduces duty from %s%%.", label, t.BaseDutyPercent.String())
	}

	var tips []string
	for _, f := range r.Factors {
		switch f.Name {
		case risk.FactorConcentration:
			if f.Value >= 60 {
				tips = append(tips, fmt.Sprintf("Diversify sourcing: %s.", f.Detail))
			}
		case risk.FactorDutyBurden:
			if f.Value >= 50 && t.AppliedAgreementID == nil {
				tips = append(tips, "Review trade agreements between the manufacturing and destination countries; no preference currently applies.")
			}
		case risk.FactorCountryRisk:
			if f.Value >= 66 {
				tips = append(tips, "Consider alternative manufacturing or origin countries with lower risk ratings.")
			}
		}
	}
	if len(r.UnknownCountries) > 0 {
		codes := make([]string, len(r.UnknownCountries))
		for i, c := range r.UnknownCountries {
			codes[i] = string(c)
		}
		tips = append(tips, fmt.Sprintf("No risk rating on file for %s; the default rating was used.", strings.Join(codes, ", ")))
	}
	if len(tips) == 0 {
		tips = append(tips, "No immediate optimization identified for this lane.")
	}

	advisory := "Risk is low; routine monitoring is sufficient."
	switch r.Band {
	case risk.BandMedium:
		advisory = "Risk is moderate; monitor origin countries and duty changes on this lane."
	case risk.BandHigh:
		advisory = "Risk is high; plan contingency sourcing before committing volume."
	}

	return domain.Report{
		AnalysisID:              rec.ID,
		SummaryText:             summary,
		OptimizationSuggestions: tips,
		RiskAdvisory:            advisory,
		Source:                  ReportSourceRules,
		GeneratedAt:             now,
	}
}

func currencySuffix(c string) string {
	if c == "" {
		return ""
	}
	return " " + c
}
