package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/bryanwahyu/tradelane/internal/application"
	domain "github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/risk"
	"github.com/bryanwahyu/tradelane/internal/domain/tariff"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
	"github.com/bryanwahyu/tradelane/internal/infra/flow"
	"github.com/bryanwahyu/tradelane/internal/infra/memstore"
)

func dp(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// ==== fakes ====

type fakeClassifier struct {
	calls atomic.Int32
	out   domain.Classification
	err   error
}

func (f *fakeClassifier) Classify(context.Context, domain.ClassifyInput) (domain.Classification, error) {
	f.calls.Add(1)
	return f.out, f.err
}

type failingStore struct{ domain.Store }

func (failingStore) Save(context.Context, *domain.Record) error { return errors.New("disk full") }

type recordingArchive struct {
	mu   sync.Mutex
	ids  []domain.ID
	fail bool
}

func (a *recordingArchive) Save(_ context.Context, r *domain.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("archive down")
	}
	a.ids = append(a.ids, r.ID)
	return nil
}

type recordingExporter struct {
	mu  sync.Mutex
	ids []domain.ID
}

func (e *recordingExporter) Export(_ context.Context, id domain.ID, _ domain.FlowGraph) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return "http://minio/flows/" + string(id) + ".json", nil
}

type fakeReporter struct{ err error }

func (f fakeReporter) Report(_ context.Context, r *domain.Record) (domain.Report, error) {
	if f.err != nil {
		return domain.Report{}, f.err
	}
	return domain.Report{SummaryText: "model summary", Source: "model:test"}, nil
}

// ==== suite ====

type ServiceSuite struct {
	suite.Suite
	svc        *Service
	classifier *fakeClassifier
	store      *memstore.Store
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ref, err := reference.NewStore(reference.Tables{
		Tariffs: reference.TariffSchedule{HSCodes: map[trade.HSCode]reference.TariffLine{
			"8501.10": {Rates: map[trade.CountryCode]decimal.Decimal{"US": decimal.NewFromInt(5)}},
		}},
		Agreements: []reference.TradeAgreement{
			{ID: "USMCA", Members: []trade.CountryCode{"US", "MX", "CA"}, Categories: []string{"85"}, ReductionFraction: dp("1")},
		},
		CountryRisk: reference.CountryRiskProfile{Countries: map[trade.CountryCode]reference.CountryRisk{
			"CN": {Risk: 90}, "US": {Risk: 20}, "MX": {Risk: 40}, "VN": {Risk: 45},
		}},
	})
	s.Require().NoError(err)
	riskEngine, err := risk.NewEngine(ref, risk.DefaultWeights())
	s.Require().NoError(err)

	s.classifier = &fakeClassifier{out: domain.Classification{
		HSCode:     "8501.10",
		Confidence: 0.9,
		Materials: []trade.Material{
			{ID: "m1", Name: "steel", Percentage: 100, OriginCountry: "CN"},
		},
		Model: "fake",
	}}
	s.store = memstore.New()

	var n atomic.Int32
	s.svc = &Service{
		Classifier: s.classifier,
		Tariffs:    tariff.NewEngine(ref),
		Risk:       riskEngine,
		Visualizer: flow.New(ref),
		Store:      s.store,
		Clock:      application.FixedClock{T: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		NewID: func() domain.ID {
			return domain.ID(fmt.Sprintf("id-%d", n.Add(1)))
		},
	}
}

func (s *ServiceSuite) analyzeCmd() AnalyzeCommand {
	return AnalyzeCommand{
		ProductName:          "Motor",
		Description:          "small electric motor",
		ManufacturingCountry: "vn",
		DestinationCountry:   "US",
		DeclaredValue:        decimal.NewFromInt(1000),
		Currency:             "usd",
	}
}

func (s *ServiceSuite) TestAnalyzeRunsPipeline() {
	rec, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)

	s.Equal(domain.ID("id-1"), rec.ID)
	s.Equal(trade.CountryCode("VN"), rec.Parameters.ManufacturingCountry)
	s.Equal("USD", rec.Parameters.Currency)
	s.True(rec.Tariff.DutyAmount.Equal(decimal.NewFromInt(50)))
	s.InDelta(68.5, rec.Risk.Value, 1e-9)
	s.Equal(risk.BandHigh, rec.Risk.Band)
	s.NotEmpty(rec.Flow.Nodes)
	s.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), rec.CreatedAt)

	got, err := s.svc.Get(context.Background(), rec.ID)
	s.Require().NoError(err)
	s.Same(rec, got)
}

func (s *ServiceSuite) TestCallerClassificationSkipsClassifier() {
	cmd := s.analyzeCmd()
	cmd.HSCode = "8501.10"
	cmd.Materials = []trade.Material{
		{Name: "copper", Percentage: 50, OriginCountry: "US"},
		{Name: "steel", Percentage: 50, OriginCountry: "MX"},
	}
	rec, err := s.svc.Analyze(context.Background(), cmd)
	s.Require().NoError(err)

	s.Zero(s.classifier.calls.Load())
	s.Equal("caller", rec.Classification.Model)
	s.Equal(1.0, rec.Classification.Confidence)
}

func (s *ServiceSuite) TestInvalidCallerMaterialsFailAtClassification() {
	cmd := s.analyzeCmd()
	cmd.HSCode = "8501.10"
	cmd.Materials = []trade.Material{{Name: "copper", Percentage: 40}}

	_, err := s.svc.Analyze(context.Background(), cmd)
	s.Require().Error(err)
	s.ErrorIs(err, trade.ErrValidation)
	stage, ok := domain.StageOf(err)
	s.True(ok)
	s.Equal(domain.StageClassification, stage)
}

func (s *ServiceSuite) TestClassifierFailureShortCircuits() {
	s.classifier.err = domain.ClassificationError("upstream down", errors.New("503"))

	_, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().Error(err)
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StageClassification, stage)
	s.Equal(trade.CategoryExternal, trade.CategoryOf(err))
	s.Zero(s.store.Len(), "no partial record")
}

func (s *ServiceSuite) TestUnknownHSCodeFailsAtTariff() {
	s.classifier.out.HSCode = "9999.99"

	_, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().Error(err)
	s.ErrorIs(err, trade.ErrUnknownHSCode)
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StageTariff, stage)
	s.Zero(s.store.Len())
}

func (s *ServiceSuite) TestBadClassifierMaterialsFailAtRisk() {
	s.classifier.out.Materials = []trade.Material{{Name: "steel", Percentage: 70, OriginCountry: "CN"}}

	_, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().Error(err)
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StageRisk, stage)
	s.ErrorIs(err, trade.ErrValidation)
}

func (s *ServiceSuite) TestPersistenceFailureIsTagged() {
	s.svc.Store = failingStore{Store: s.store}

	_, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().Error(err)
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StagePersistence, stage)
}

func (s *ServiceSuite) TestPartialCallerClassificationIsRejected() {
	cmd := s.analyzeCmd()
	cmd.HSCode = "8501.10"
	_, err := s.svc.Analyze(context.Background(), cmd)
	s.Require().Error(err)
	s.ErrorIs(err, trade.ErrValidation)
	stage, ok := domain.StageOf(err)
	s.True(ok)
	s.Equal(domain.StageClassification, stage)

	cmd = s.analyzeCmd()
	cmd.Materials = []trade.Material{{Name: "steel", Percentage: 100, OriginCountry: "CN"}}
	_, err = s.svc.Analyze(context.Background(), cmd)
	s.ErrorIs(err, trade.ErrValidation)

	s.Zero(s.classifier.calls.Load())
	s.Zero(s.store.Len())
}

func (s *ServiceSuite) TestMissingInputsAreValidationErrors() {
	cmd := s.analyzeCmd()
	cmd.Description = ""
	_, err := s.svc.Analyze(context.Background(), cmd)
	s.ErrorIs(err, trade.ErrValidation)

	cmd = s.analyzeCmd()
	cmd.ProductName = " "
	_, err = s.svc.Analyze(context.Background(), cmd)
	s.ErrorIs(err, trade.ErrValidation)
	s.Zero(s.classifier.calls.Load())
}

func (s *ServiceSuite) TestIdenticalRequestsGetDistinctRecords() {
	a, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)
	b, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)

	s.NotEqual(a.ID, b.ID)
	s.Equal(a.Tariff, b.Tariff)
	s.Equal(2, s.store.Len())
}

func (s *ServiceSuite) TestRecalculateCreatesChildRecord() {
	parent, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)

	child, err := s.svc.Recalculate(context.Background(), parent.ID, RecalculateCommand{
		ManufacturingCountry: "mx",
		Materials: []trade.Material{
			{Name: "steel", Percentage: 100, OriginCountry: "US"},
		},
	})
	s.Require().NoError(err)

	s.NotEqual(parent.ID, child.ID)
	s.Equal(parent.ID, child.ParentID)
	s.Require().NotNil(child.Tariff.AppliedAgreementID)
	s.Equal("USMCA", *child.Tariff.AppliedAgreementID)
	s.True(child.Tariff.DutyAmount.IsZero())

	// parent untouched
	s.Equal(trade.CountryCode("VN"), parent.Parameters.ManufacturingCountry)
	s.Equal(trade.CountryCode("CN"), parent.Classification.Materials[0].OriginCountry)
	s.Equal(int32(1), s.classifier.calls.Load())
}

func (s *ServiceSuite) TestRecalculateUnknownID() {
	_, err := s.svc.Recalculate(context.Background(), "missing", RecalculateCommand{})
	s.ErrorIs(err, trade.ErrNotFound)
}

func (s *ServiceSuite) TestQuote() {
	res, err := s.svc.Quote(context.Background(), QuoteCommand{
		HSCode: "8501.10", ManufacturingCountry: "VN", DestinationCountry: "US", DeclaredValue: decimal.NewFromInt(200),
	})
	s.Require().NoError(err)
	s.True(res.Tariff.DutyAmount.Equal(decimal.NewFromInt(10)))
	s.Nil(res.Risk)

	res, err = s.svc.Quote(context.Background(), QuoteCommand{
		HSCode: "8501.10", ManufacturingCountry: "VN", DestinationCountry: "US", DeclaredValue: decimal.NewFromInt(200),
		Materials: []trade.Material{{Name: "a", Percentage: 100, OriginCountry: "VN"}},
	})
	s.Require().NoError(err)
	s.Require().NotNil(res.Risk)
	s.Zero(s.store.Len(), "quotes are not stored")

	_, err = s.svc.Quote(context.Background(), QuoteCommand{HSCode: "0000.00", ManufacturingCountry: "VN", DestinationCountry: "US"})
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StageTariff, stage)
}

func (s *ServiceSuite) TestListPaginates() {
	for i := 0; i < 3; i++ {
		_, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
		s.Require().NoError(err)
	}
	page, err := s.svc.List(context.Background(), 1, 2)
	s.Require().NoError(err)
	s.Len(page.Data, 2)
	s.EqualValues(3, page.Total)
	s.Equal(2, page.TotalPages)

	empty, err := s.svc.List(context.Background(), 5, 2)
	s.Require().NoError(err)
	s.NotNil(empty.Data)
	s.Empty(empty.Data)
}

func (s *ServiceSuite) TestReportFallsBackToRules() {
	rec, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)

	rep, err := s.svc.Report(context.Background(), rec.ID)
	s.Require().NoError(err)
	s.Equal(ReportSourceRules, rep.Source)
	s.Equal(rec.ID, rep.AnalysisID)
	s.Contains(rep.SummaryText, "8501.10")
	s.Contains(rep.RiskAdvisory, "high")
	s.NotEmpty(rep.OptimizationSuggestions)
}

func (s *ServiceSuite) TestReportUsesReporter() {
	rec, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err)

	s.svc.Reporter = fakeReporter{}
	rep, err := s.svc.Report(context.Background(), rec.ID)
	s.Require().NoError(err)
	s.Equal("model summary", rep.SummaryText)
	s.Equal(rec.ID, rep.AnalysisID)
	s.False(rep.GeneratedAt.IsZero())

	s.svc.Reporter = fakeReporter{err: trade.External(trade.CodeExternal, "llm down", nil)}
	_, err = s.svc.Report(context.Background(), rec.ID)
	stage, _ := domain.StageOf(err)
	s.Equal(domain.StageReport, stage)
}

func (s *ServiceSuite) TestSideEffectsAreBestEffort() {
	archive := &recordingArchive{fail: true}
	exporter := &recordingExporter{}
	s.svc.Archive = archive
	s.svc.Flows = exporter

	rec, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
	s.Require().NoError(err, "archive failure is not surfaced")
	s.svc.Wait()

	s.Empty(archive.ids)
	s.Equal([]domain.ID{rec.ID}, exporter.ids)
}

func TestConcurrentAnalyzeKeepsEveryRecord(t *testing.T) {
	s := new(ServiceSuite)
	s.SetT(t)
	s.SetupTest()
	s.svc.NewID = nil // real uuids

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan domain.ID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.svc.Analyze(context.Background(), s.analyzeCmd())
			if assert.NoError(t, err) {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[domain.ID]bool{}
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, s.store.Len())
}
