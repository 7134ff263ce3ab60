package tariff

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	threshold := 60.0
	store, err := reference.NewStore(reference.Tables{
		Tariffs: reference.TariffSchedule{
			HSCodes: map[trade.HSCode]reference.TariffLine{
				"8501.10": {
					Default: dp("2.8"),
					Rates:   map[trade.CountryCode]decimal.Decimal{"US": d("5"), "DE": d("2.7")},
				},
				"8504.40": {Rates: map[trade.CountryCode]decimal.Decimal{"US": d("8")}},
				"6109.10": {Rates: map[trade.CountryCode]decimal.Decimal{"US": d("16.5")}},
			},
		},
		Agreements: []reference.TradeAgreement{
			{ID: "USMCA", Members: []trade.CountryCode{"US", "MX", "CA"}, HSCodes: []trade.HSCode{"8501.10"}, Categories: []string{"85"}, ReductionFraction: dp("1")},
			{ID: "KORUS", Members: []trade.CountryCode{"US", "KR"}, Categories: []string{"85"}, ReductionFraction: dp("0.5")},
			{ID: "KR-FIXED", Members: []trade.CountryCode{"US", "KR"}, Categories: []string{"85"}, PreferentialRate: dp("3")},
			{ID: "AA-TIE", Members: []trade.CountryCode{"US", "KR"}, Categories: []string{"85"}, PreferentialRate: dp("4")},
			{ID: "ORIGIN", Members: []trade.CountryCode{"US", "CO"}, Categories: []string{"61"}, ReductionFraction: dp("0.75"), RulesOfOriginThreshold: &threshold},
			{ID: "HIGHER", Members: []trade.CountryCode{"US", "JP"}, HSCodes: []trade.HSCode{"8504.40"}, PreferentialRate: dp("12")},
		},
		CountryRisk: reference.CountryRiskProfile{Countries: map[trade.CountryCode]reference.CountryRisk{}},
	})
	s.Require().NoError(err)
	s.engine = NewEngine(store)
}

func (s *EngineSuite) TestNoAgreementUsesBaseRate() {
	res, err := s.engine.Calculate("8501.10", "VN", "US", d("1000"))
	s.Require().NoError(err)

	s.True(res.BaseDutyPercent.Equal(d("5")))
	s.True(res.TotalDutyPercent.Equal(d("5")))
	s.True(res.DutyAmount.Equal(d("50")))
	s.Nil(res.AppliedAgreementID)
	s.Nil(res.PreferentialDuty)
	s.Equal(reference.RateExact, res.RateSource)
}

func (s *EngineSuite) TestFullReductionAgreement() {
	res, err := s.engine.Calculate("8501.10", "MX", "US", d("1000"))
	s.Require().NoError(err)

	s.Require().NotNil(res.AppliedAgreementID)
	s.Equal("USMCA", *res.AppliedAgreementID)
	s.Equal("hs_code", res.AgreementCoverage)
	s.True(res.TotalDutyPercent.IsZero())
	s.True(res.DutyAmount.IsZero())
	s.True(res.BaseDutyPercent.Equal(d("5")))
}

func (s *EngineSuite) TestUnknownHSCode() {
	_, err := s.engine.Calculate("9999.99", "VN", "US", d("1000"))
	s.Require().Error(err)
	s.ErrorIs(err, trade.ErrUnknownHSCode)
	s.Equal(trade.CategoryUnknownReference, trade.CategoryOf(err))
}

func (s *EngineSuite) TestHSDefaultFallback() {
	res, err := s.engine.Calculate("8501.10", "VN", "FR", d("200"))
	s.Require().NoError(err)
	s.Equal(reference.RateHSDefault, res.RateSource)
	s.True(res.DutyAmount.Equal(d("5.6")))
}

func (s *EngineSuite) TestLowestRateWinsAmongCategoryMatches() {
	// 8504.40 base 8%: KORUS halves to 4, KR-FIXED gives 3, AA-TIE gives 4.
	res, err := s.engine.Calculate("8504.40", "KR", "US", d("100"))
	s.Require().NoError(err)
	s.Require().NotNil(res.AppliedAgreementID)
	s.Equal("KR-FIXED", *res.AppliedAgreementID)
	s.Equal([]string{"AA-TIE", "KORUS", "KR-FIXED"}, res.Considered)
	s.True(res.DutyAmount.Equal(d("3")))
}

func (s *EngineSuite) TestLowestIDBreaksRateTie() {
	// 8501.10 to US base 5%: KORUS 2.5, KR-FIXED 3, AA-TIE 4 -> KORUS by rate.
	res, err := s.engine.Calculate("8501.10", "KR", "US", d("100"))
	s.Require().NoError(err)
	s.Equal("KORUS", *res.AppliedAgreementID)

	// Base 6: KORUS and KR-FIXED tie at 3, the lower id wins.
	winner, _ := s.engine.selectAgreement("8504.40", "KR", "US", d("6"), nil)
	s.Require().NotNil(winner)
	s.Equal("KORUS", winner.agreement.ID)
	s.True(winner.rate.Equal(d("3")))
}

func (s *EngineSuite) TestExactCoverageBeatsCheaperCategory() {
	threshold := 0.0
	store, err := reference.NewStore(reference.Tables{
		Tariffs: reference.TariffSchedule{HSCodes: map[trade.HSCode]reference.TariffLine{
			"8501.10": {Rates: map[trade.CountryCode]decimal.Decimal{"US": d("5")}},
		}},
		Agreements: []reference.TradeAgreement{
			{ID: "EXACT", Members: []trade.CountryCode{"US", "KR"}, HSCodes: []trade.HSCode{"8501.10"}, PreferentialRate: dp("2")},
			{ID: "BROAD", Members: []trade.CountryCode{"US", "KR"}, Categories: []string{"*"}, PreferentialRate: dp("0"), RulesOfOriginThreshold: &threshold},
		},
		CountryRisk: reference.CountryRiskProfile{Countries: map[trade.CountryCode]reference.CountryRisk{}},
	})
	s.Require().NoError(err)

	res, err := NewEngine(store).Quote(Request{
		HSCode: "8501.10", ManufacturingCountry: "KR", DestinationCountry: "US", DeclaredValue: d("100"),
		Materials: []trade.Material{{Name: "copper", Percentage: 100, OriginCountry: "KR"}},
	})
	s.Require().NoError(err)
	s.Equal("EXACT", *res.AppliedAgreementID)
	s.True(res.TotalDutyPercent.Equal(d("2")))
}

func (s *EngineSuite) TestPreferenceNeverRaisesDuty() {
	res, err := s.engine.Calculate("8504.40", "JP", "US", d("100"))
	s.Require().NoError(err)
	s.Require().NotNil(res.AppliedAgreementID)
	s.Equal("HIGHER", *res.AppliedAgreementID)
	s.True(res.TotalDutyPercent.Equal(res.BaseDutyPercent))
}

func (s *EngineSuite) TestRulesOfOrigin() {
	req := Request{HSCode: "6109.10", ManufacturingCountry: "CO", DestinationCountry: "US", DeclaredValue: d("100")}

	res, err := s.engine.Quote(req)
	s.Require().NoError(err)
	s.Nil(res.AppliedAgreementID, "threshold agreements need a bill of materials")

	req.Materials = []trade.Material{
		{Name: "cotton", Percentage: 50, OriginCountry: "CN"},
		{Name: "dye", Percentage: 50, OriginCountry: "co"},
	}
	res, err = s.engine.Quote(req)
	s.Require().NoError(err)
	s.Nil(res.AppliedAgreementID, "half the content is non-member, below the 60 threshold")

	req.Materials = []trade.Material{
		{Name: "cotton", Percentage: 70, OriginCountry: "US"},
		{Name: "labour", Percentage: 30},
	}
	res, err = s.engine.Quote(req)
	s.Require().NoError(err)
	s.Require().NotNil(res.AppliedAgreementID)
	s.Equal("ORIGIN", *res.AppliedAgreementID)
	s.True(res.TotalDutyPercent.Equal(d("4.125")))
	s.True(res.DutyAmount.Equal(d("4.13")))
}

func (s *EngineSuite) TestDomesticLane() {
	res, err := s.engine.Calculate("8501.10", "us", "US", d("500"))
	s.Require().NoError(err)
	s.Equal(reference.RateDomestic, res.RateSource)
	s.True(res.BaseDutyPercent.IsZero())
	s.True(res.DutyAmount.IsZero())
	s.Nil(res.AppliedAgreementID)

	_, err = s.engine.Calculate("9999.99", "US", "US", d("1000"))
	s.Require().Error(err)
	s.ErrorIs(err, trade.ErrUnknownHSCode)
}

func (s *EngineSuite) TestValidation() {
	_, err := s.engine.Calculate("8501.10", "VN", "US", d("-1"))
	s.ErrorIs(err, trade.ErrValidation)

	_, err = s.engine.Calculate("  ", "VN", "US", d("1"))
	s.ErrorIs(err, trade.ErrValidation)

	_, err = s.engine.Calculate("8501.10", "Vietnam", "US", d("1"))
	s.ErrorIs(err, trade.ErrValidation)
}

func (s *EngineSuite) TestNormalizesInputs() {
	res, err := s.engine.Calculate(" 8501.10 ", " mx", "us ", d("10"))
	s.Require().NoError(err)
	s.Equal(trade.HSCode("8501.10"), res.HSCode)
	s.Equal("USMCA", *res.AppliedAgreementID)
}

func (s *EngineSuite) TestDeterministicOutput() {
	a, err := s.engine.Calculate("8504.40", "KR", "US", d("1234.56"))
	s.Require().NoError(err)
	b, err := s.engine.Calculate("8504.40", "KR", "US", d("1234.56"))
	s.Require().NoError(err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	s.Equal(string(ja), string(jb))
}

func TestDutyAmountIsExact(t *testing.T) {
	cases := []struct{ value, percent, want string }{
		{"1000", "5", "50"},
		{"0", "37.5", "0"},
		{"19.99", "2.7", "0.54"},
		{"0.1", "100", "0.1"},
		{"123456789.12", "12.5", "15432098.64"},
		{"33.33", "33.33", "11.11"},
	}
	for _, c := range cases {
		got := DutyAmount(d(c.value), d(c.percent))
		assert.Truef(t, got.Equal(d(c.want)), "%s × %s%% = %s, want %s", c.value, c.percent, got, c.want)
	}
}

func TestTotalNeverExceedsBase(t *testing.T) {
	store, err := reference.NewStore(reference.Tables{
		Tariffs: reference.TariffSchedule{
			GlobalDefault: dp("6"),
			HSCodes:       map[trade.HSCode]reference.TariffLine{},
		},
		Agreements: []reference.TradeAgreement{
			{ID: "A", Members: []trade.CountryCode{"US", "MX"}, Categories: []string{"*"}, PreferentialRate: dp("9")},
			{ID: "B", Members: []trade.CountryCode{"US", "CA"}, Categories: []string{"*"}, ReductionFraction: dp("0.25")},
		},
		CountryRisk: reference.CountryRiskProfile{Countries: map[trade.CountryCode]reference.CountryRisk{}},
	})
	require.NoError(t, err)
	e := NewEngine(store)

	for _, lane := range [][2]trade.CountryCode{{"MX", "US"}, {"CA", "US"}, {"CN", "US"}} {
		res, err := e.Calculate("0101.21", lane[0], lane[1], d("100"))
		require.NoError(t, err)
		assert.True(t, res.TotalDutyPercent.LessThanOrEqual(res.BaseDutyPercent), "lane %v", lane)
		if res.AppliedAgreementID == nil {
			assert.True(t, res.TotalDutyPercent.Equal(res.BaseDutyPercent))
		}
	}
}
