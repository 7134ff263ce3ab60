package reference

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// ErrMalformed marks reference tables that violate their invariants.
var ErrMalformed = errors.New("malformed reference data")

// Store is the immutable snapshot of the three reference tables. It is built
// once by NewStore and only read afterwards, so it is safe for concurrent use
// without locking.
type Store struct {
	globalDefault *decimal.Decimal
	lines         map[trade.HSCode]TariffLine
	agreements    []TradeAgreement
	risk          map[trade.CountryCode]CountryRisk
	defaultRisk   *float64
	hsCodes       []trade.HSCode
}

// NewStore normalizes and validates t and returns the read-only store.
func NewStore(t Tables) (*Store, error) {
	if t.Tariffs.HSCodes == nil {
		return nil, fmt.Errorf("%w: tariff schedule has no hs_codes table", ErrMalformed)
	}
	if t.CountryRisk.Countries == nil {
		return nil, fmt.Errorf("%w: country risk profile has no countries table", ErrMalformed)
	}

	s := &Store{
		lines: make(map[trade.HSCode]TariffLine, len(t.Tariffs.HSCodes)),
		risk:  make(map[trade.CountryCode]CountryRisk, len(t.CountryRisk.Countries)),
	}

	if g := t.Tariffs.GlobalDefault; g != nil {
		if g.IsNegative() {
			return nil, fmt.Errorf("%w: global default rate %s is negative", ErrMalformed, g)
		}
		v := *g
		s.globalDefault = &v
	}

	for rawCode, line := range t.Tariffs.HSCodes {
		code := trade.NormalizeHSCode(string(rawCode))
		if code == "" {
			return nil, fmt.Errorf("%w: empty hs code key", ErrMalformed)
		}
		if _, dup := s.lines[code]; dup {
			return nil, fmt.Errorf("%w: duplicate hs code %q", ErrMalformed, code)
		}
		if line.Default != nil && line.Default.IsNegative() {
			return nil, fmt.Errorf("%w: hs code %q default rate is negative", ErrMalformed, code)
		}
		rates := make(map[trade.CountryCode]decimal.Decimal, len(line.Rates))
		for c, r := range line.Rates {
			if r.IsNegative() {
				return nil, fmt.Errorf("%w: hs code %q rate for %s is negative", ErrMalformed, code, c)
			}
			rates[trade.NormalizeCountry(string(c))] = r
		}
		line.Rates = rates
		line.Category = strings.TrimSpace(line.Category)
		if line.Category == "" {
			line.Category = code.Chapter()
		}
		s.lines[code] = line
		s.hsCodes = append(s.hsCodes, code)
	}
	slices.Sort(s.hsCodes)

	seen := make(map[string]bool, len(t.Agreements))
	for _, a := range t.Agreements {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("%w: trade agreement without id", ErrMalformed)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: duplicate trade agreement %q", ErrMalformed, a.ID)
		}
		seen[a.ID] = true
		if err := validateAgreement(&a); err != nil {
			return nil, err
		}
		s.agreements = append(s.agreements, a)
	}
	sort.Slice(s.agreements, func(i, j int) bool { return s.agreements[i].ID < s.agreements[j].ID })

	for c, r := range t.CountryRisk.Countries {
		code := trade.NormalizeCountry(string(c))
		if !code.Valid() {
			return nil, fmt.Errorf("%w: country risk key %q is not ISO2", ErrMalformed, c)
		}
		if r.Risk < 0 || r.Risk > 100 {
			return nil, fmt.Errorf("%w: country %s risk %v out of range [0,100]", ErrMalformed, code, r.Risk)
		}
		s.risk[code] = r
	}
	if d := t.CountryRisk.DefaultRisk; d != nil {
		if *d < 0 || *d > 100 {
			return nil, fmt.Errorf("%w: default country risk %v out of range [0,100]", ErrMalformed, *d)
		}
		v := *d
		s.defaultRisk = &v
	}

	return s, nil
}

func validateAgreement(a *TradeAgreement) error {
	if len(a.Members) < 2 {
		return fmt.Errorf("%w: agreement %q needs at least two members", ErrMalformed, a.ID)
	}
	members := make([]trade.CountryCode, len(a.Members))
	for i, m := range a.Members {
		members[i] = trade.NormalizeCountry(string(m))
		if !members[i].Valid() {
			return fmt.Errorf("%w: agreement %q member %q is not ISO2", ErrMalformed, a.ID, m)
		}
	}
	a.Members = members

	codes := make([]trade.HSCode, len(a.HSCodes))
	for i, c := range a.HSCodes {
		codes[i] = trade.NormalizeHSCode(string(c))
	}
	a.HSCodes = codes
	if len(a.HSCodes) == 0 && len(a.Categories) == 0 {
		return fmt.Errorf("%w: agreement %q covers no hs codes or categories", ErrMalformed, a.ID)
	}

	switch {
	case a.ReductionFraction != nil && a.PreferentialRate != nil:
		return fmt.Errorf("%w: agreement %q sets both reduction_fraction and preferential_rate", ErrMalformed, a.ID)
	case a.ReductionFraction != nil:
		f := *a.ReductionFraction
		if f.IsNegative() || f.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: agreement %q reduction_fraction %s outside [0,1]", ErrMalformed, a.ID, f)
		}
	case a.PreferentialRate != nil:
		if a.PreferentialRate.IsNegative() {
			return fmt.Errorf("%w: agreement %q preferential_rate is negative", ErrMalformed, a.ID)
		}
	default:
		return fmt.Errorf("%w: agreement %q sets neither reduction_fraction nor preferential_rate", ErrMalformed, a.ID)
	}

	if t := a.RulesOfOriginThreshold; t != nil && (*t < 0 || *t > 100) {
		return fmt.Errorf("%w: agreement %q rules_of_origin_threshold %v outside [0,100]", ErrMalformed, a.ID, *t)
	}
	return nil
}

// TariffRate resolves the base duty for hs shipped to dest through the
// fallback chain exact → hs default → global default.
func (s *Store) TariffRate(hs trade.HSCode, dest trade.CountryCode) (decimal.Decimal, RateSource, bool) {
	if line, ok := s.lines[hs]; ok {
		if r, ok := line.Rates[dest]; ok {
			return r, RateExact, true
		}
		if line.Default != nil {
			return *line.Default, RateHSDefault, true
		}
	}
	if s.globalDefault != nil {
		return *s.globalDefault, RateGlobalDefault, true
	}
	return decimal.Zero, "", false
}

// Category returns the coverage category of hs.
func (s *Store) Category(hs trade.HSCode) string {
	if line, ok := s.lines[hs]; ok {
		return line.Category
	}
	return hs.Chapter()
}

// Description returns the schedule's description of hs, if any.
func (s *Store) Description(hs trade.HSCode) string {
	return s.lines[hs].Description
}

// Agreements returns the catalog sorted by id. Callers must not modify the
// returned agreements.
func (s *Store) Agreements() []TradeAgreement {
	return s.agreements
}

// CountryRisk returns the risk value of c and whether the profile knows it.
func (s *Store) CountryRisk(c trade.CountryCode) (float64, bool) {
	r, ok := s.risk[c]
	return r.Risk, ok
}

// CountryName returns the profile's display name for c.
func (s *Store) CountryName(c trade.CountryCode) string {
	return s.risk[c].Name
}

// DefaultCountryRisk returns the table's default risk, if the table sets one.
func (s *Store) DefaultCountryRisk() (float64, bool) {
	if s.defaultRisk == nil {
		return 0, false
	}
	return *s.defaultRisk, true
}

// SupportedHSCodes lists the schedule's codes in sorted order.
func (s *Store) SupportedHSCodes() []trade.HSCode {
	return slices.Clone(s.hsCodes)
}

// Stats summarizes table sizes for startup logging and health checks.
type Stats struct {
	Tariffs    int `json:"tariffs"`
	Agreements int `json:"agreements"`
	Countries  int `json:"countries"`
}

func (s *Store) Stats() Stats {
	return Stats{Tariffs: len(s.lines), Agreements: len(s.agreements), Countries: len(s.risk)}
}
