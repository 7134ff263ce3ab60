// Package tariff resolves duty rates for an HS code on a trade lane and
// computes the duty owed on a declared value.
package tariff

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// AmountPlaces is the precision of DutyAmount (currency cents).
const AmountPlaces = 2

var hundred = decimal.NewFromInt(100)

// Result is the duty breakdown for one shipment.
type Result struct {
	HSCode               trade.HSCode         `json:"hs_code"`
	BaseDutyPercent      decimal.Decimal      `json:"base_duty_percent"`
	RateSource           reference.RateSource `json:"rate_source"`
	AppliedAgreementID   *string              `json:"applied_agreement_id"`
	AppliedAgreementName string               `json:"applied_agreement_name,omitempty"`
	AgreementCoverage    string               `json:"agreement_coverage,omitempty"`
	PreferentialDuty     *decimal.Decimal     `json:"preferential_duty_percent"`
	TotalDutyPercent     decimal.Decimal      `json:"total_duty_percent"`
	DeclaredValue        decimal.Decimal      `json:"declared_value"`
	DutyAmount           decimal.Decimal      `json:"duty_amount"`
	Currency             string               `json:"currency,omitempty"`
	Considered           []string             `json:"considered_agreements,omitempty"` // qualifying agreement ids, sorted
}

// Request is the full input of Engine.Quote. Materials are optional and only
// consulted for agreements with a rules-of-origin threshold.
type Request struct {
	HSCode               trade.HSCode
	ManufacturingCountry trade.CountryCode
	DestinationCountry   trade.CountryCode
	DeclaredValue        decimal.Decimal
	Currency             string
	Materials            []trade.Material
}

// Engine is stateless apart from the read-only reference snapshot and may be
// shared across goroutines.
type Engine struct {
	ref *reference.Store
}

func NewEngine(ref *reference.Store) *Engine {
	return &Engine{ref: ref}
}

// Calculate is the four-argument form used when no bill of materials is known.
func (e *Engine) Calculate(hs trade.HSCode, manufacturing, destination trade.CountryCode, declaredValue decimal.Decimal) (Result, error) {
	return e.Quote(Request{
		HSCode:               hs,
		ManufacturingCountry: manufacturing,
		DestinationCountry:   destination,
		DeclaredValue:        declaredValue,
	})
}

// Quote resolves the base rate, picks the best qualifying agreement and
// computes the duty amount.
func (e *Engine) Quote(req Request) (Result, error) {
	hs := trade.NormalizeHSCode(string(req.HSCode))
	mfg := trade.NormalizeCountry(string(req.ManufacturingCountry))
	dest := trade.NormalizeCountry(string(req.DestinationCountry))

	if hs == "" {
		return Result{}, trade.Validationf("hs_code is required")
	}
	if !mfg.Valid() {
		return Result{}, trade.Validationf("manufacturing_country %q is not an ISO2 code", req.ManufacturingCountry)
	}
	if !dest.Valid() {
		return Result{}, trade.Validationf("destination_country %q is not an ISO2 code", req.DestinationCountry)
	}
	if req.DeclaredValue.IsNegative() {
		return Result{}, trade.Validationf("declared_value must be >= 0, got %s", req.DeclaredValue)
	}

	res := Result{
		HSCode:        hs,
		DeclaredValue: req.DeclaredValue,
		Currency:      req.Currency,
	}

	// the code must resolve even on a domestic lane
	base, source, ok := e.ref.TariffRate(hs, dest)
	if !ok {
		return Result{}, trade.UnknownHSCode(hs)
	}

	if mfg == dest {
		res.RateSource = reference.RateDomestic
		res.BaseDutyPercent = decimal.Zero
		res.TotalDutyPercent = decimal.Zero
		res.DutyAmount = decimal.Zero
		return res, nil
	}

	res.BaseDutyPercent = base
	res.RateSource = source
	res.TotalDutyPercent = base

	if best, candidates := e.selectAgreement(hs, mfg, dest, base, trade.NormalizeMaterials(req.Materials)); best != nil {
		id := best.agreement.ID
		rate := best.rate
		res.AppliedAgreementID = &id
		res.AppliedAgreementName = best.agreement.Name
		res.AgreementCoverage = best.coverage.String()
		res.PreferentialDuty = &rate
		res.TotalDutyPercent = rate
		res.Considered = candidates
	}

	if res.TotalDutyPercent.GreaterThan(res.BaseDutyPercent) {
		return Result{}, trade.Invariantf("total duty %s%% exceeds base duty %s%% for %s %s->%s",
			res.TotalDutyPercent, res.BaseDutyPercent, hs, mfg, dest)
	}

	res.DutyAmount = DutyAmount(req.DeclaredValue, res.TotalDutyPercent)
	return res, nil
}

// DutyAmount returns value × percent / 100 rounded half-up to cents.
func DutyAmount(value, percent decimal.Decimal) decimal.Decimal {
	return value.Mul(percent).Div(hundred).Round(AmountPlaces)
}

type candidate struct {
	agreement *reference.TradeAgreement
	coverage  reference.Coverage
	rate      decimal.Decimal
}

// selectAgreement returns the winning agreement, if any, and the ids of every
// qualifying agreement. Ordering: exact coverage before category coverage,
// then lowest rate, then lowest id.
func (e *Engine) selectAgreement(hs trade.HSCode, mfg, dest trade.CountryCode, base decimal.Decimal, materials []trade.Material) (*candidate, []string) {
	category := e.ref.Category(hs)
	agreements := e.ref.Agreements()

	var qualified []candidate
	for i := range agreements {
		a := &agreements[i]
		if !a.IsMember(mfg) || !a.IsMember(dest) {
			continue
		}
		cov := a.Covers(hs, category)
		if cov == reference.CoverageNone {
			continue
		}
		if !meetsRulesOfOrigin(a, materials, mfg) {
			continue
		}
		rate := a.RateFor(base)
		// A preference never raises duty above the base rate.
		if rate.GreaterThan(base) {
			rate = base
		}
		qualified = append(qualified, candidate{agreement: a, coverage: cov, rate: rate})
	}
	if len(qualified) == 0 {
		return nil, nil
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		a, b := qualified[i], qualified[j]
		if a.coverage != b.coverage {
			return a.coverage > b.coverage
		}
		if c := a.rate.Cmp(b.rate); c != 0 {
			return c < 0
		}
		return a.agreement.ID < b.agreement.ID
	})

	ids := make([]string, len(qualified))
	for i, q := range qualified {
		ids[i] = q.agreement.ID
	}
	sort.Strings(ids)

	best := qualified[0]
	return &best, ids
}

// meetsRulesOfOrigin checks the share of materials originating in member
// countries against the agreement's threshold. Agreements with a threshold
// never qualify without a bill of materials. Materials without an origin count
// as made in the manufacturing country.
func meetsRulesOfOrigin(a *reference.TradeAgreement, materials []trade.Material, mfg trade.CountryCode) bool {
	if a.RulesOfOriginThreshold == nil {
		return true
	}
	if len(materials) == 0 {
		return false
	}
	var originating float64
	for _, m := range materials {
		origin := m.OriginCountry
		if origin == "" {
			origin = mfg
		}
		if a.IsMember(origin) {
			originating += m.Percentage
		}
	}
	return originating >= *a.RulesOfOriginThreshold
}
