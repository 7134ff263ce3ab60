package analysis

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/application"
	domain "github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/risk"
	"github.com/bryanwahyu/tradelane/internal/domain/tariff"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
	"github.com/bryanwahyu/tradelane/internal/metrics"
)

// sideEffectTimeout bounds the best-effort archive and export calls.
const sideEffectTimeout = 10 * time.Second

// Service orchestrates classification → tariff → risk → visualization →
// persistence. It is safe for concurrent use; the engines are stateless and
// the store is the only shared mutable resource.
type Service struct {
	Classifier domain.Classifier
	Tariffs    *tariff.Engine
	Risk       *risk.Engine
	Visualizer domain.Visualizer
	Store      domain.Store

	// Optional collaborators.
	Archive  domain.Archive
	Flows    domain.FlowExporter
	Reporter domain.Reporter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Clock application.Clock
	NewID func() domain.ID

	background sync.WaitGroup
}

//
// ==== USE CASES ====
//

// AnalyzeCommand is one product analysis request. HSCode and Materials go
// together: when both are supplied the classifier is not called, and
// supplying only one is a validation error.
type AnalyzeCommand struct {
	ProductName          string
	Description          string
	ImageBase64          string
	ManufacturingCountry string
	DestinationCountry   string
	DeclaredValue        decimal.Decimal
	Currency             string

	HSCode    string
	Materials []trade.Material
}

// RecalculateCommand re-runs the local stages of a stored analysis with
// edited inputs. Zero fields keep the parent's values.
type RecalculateCommand struct {
	HSCode               string
	ManufacturingCountry string
	DestinationCountry   string
	DeclaredValue        *decimal.Decimal
	Materials            []trade.Material
}

// QuoteCommand asks for tariff and, when materials are given, risk without
// classification or persistence.
type QuoteCommand struct {
	HSCode               string
	ManufacturingCountry string
	DestinationCountry   string
	DeclaredValue        decimal.Decimal
	Currency             string
	Materials            []trade.Material
}

// QuoteResult is the answer to a QuoteCommand.
type QuoteResult struct {
	Tariff tariff.Result `json:"tariff_summary"`
	Risk   *risk.Score   `json:"risk_score,omitempty"`
}

// Analyze runs the full pipeline and stores a new record. Every call gets a
// new id, identical inputs included.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (*domain.Record, error) {
	params := domain.Parameters{
		ProductName:          strings.TrimSpace(cmd.ProductName),
		Description:          strings.TrimSpace(cmd.Description),
		ManufacturingCountry: trade.NormalizeCountry(cmd.ManufacturingCountry),
		DestinationCountry:   trade.NormalizeCountry(cmd.DestinationCountry),
		DeclaredValue:        cmd.DeclaredValue,
		Currency:             strings.ToUpper(strings.TrimSpace(cmd.Currency)),
	}

	cls, err := s.classify(ctx, cmd)
	if err != nil {
		return nil, s.fail(domain.StageClassification, err)
	}
	return s.compute(ctx, "", params, cls)
}

// Recalculate derives a new record from parent id with the overrides in cmd.
// The parent record is left untouched.
func (s *Service) Recalculate(ctx context.Context, id domain.ID, cmd RecalculateCommand) (*domain.Record, error) {
	parent, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	params := parent.Parameters
	if v := strings.TrimSpace(cmd.ManufacturingCountry); v != "" {
		params.ManufacturingCountry = trade.NormalizeCountry(v)
	}
	if v := strings.TrimSpace(cmd.DestinationCountry); v != "" {
		params.DestinationCountry = trade.NormalizeCountry(v)
	}
	if cmd.DeclaredValue != nil {
		params.DeclaredValue = *cmd.DeclaredValue
	}

	cls := parent.Classification
	cls.Materials = append([]trade.Material(nil), parent.Classification.Materials...)
	if v := strings.TrimSpace(cmd.HSCode); v != "" {
		cls.HSCode = trade.NormalizeHSCode(v)
	}
	if cmd.Materials != nil {
		cls.Materials = trade.NormalizeMaterials(cmd.Materials)
	}
	s.Metrics.ObserveStage(string(domain.StageClassification), "skipped", 0)

	return s.compute(ctx, parent.ID, params, cls)
}

// Quote computes tariff and risk for a lane without storing anything.
func (s *Service) Quote(_ context.Context, cmd QuoteCommand) (QuoteResult, error) {
	materials := trade.NormalizeMaterials(cmd.Materials)
	tr, err := s.Tariffs.Quote(tariff.Request{
		HSCode:               trade.NormalizeHSCode(cmd.HSCode),
		ManufacturingCountry: trade.NormalizeCountry(cmd.ManufacturingCountry),
		DestinationCountry:   trade.NormalizeCountry(cmd.DestinationCountry),
		DeclaredValue:        cmd.DeclaredValue,
		Currency:             strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Materials:            materials,
	})
	if err != nil {
		return QuoteResult{}, domain.AtStage(domain.StageTariff, err)
	}
	out := QuoteResult{Tariff: tr}
	if len(materials) == 0 {
		return out, nil
	}
	sc, err := s.Risk.Calculate(trade.NormalizeCountry(cmd.ManufacturingCountry), trade.NormalizeCountry(cmd.DestinationCountry), tr.TotalDutyPercent, materials)
	if err != nil {
		return QuoteResult{}, domain.AtStage(domain.StageRisk, err)
	}
	out.Risk = &sc
	return out, nil
}

// Get ambil 1 analysis by id
func (s *Service) Get(ctx context.Context, id domain.ID) (*domain.Record, error) {
	return s.Store.Get(ctx, id)
}

// List returns one page of records, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	data, total, err := s.Store.List(ctx, page, pageSize)
	if err != nil {
		return domain.PaginatedResult{}, err
	}
	if data == nil {
		data = []*domain.Record{}
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return domain.PaginatedResult{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
	}, nil
}

// Report builds the narrative report for a stored record. Without a
// configured Reporter the deterministic summary is returned.
func (s *Service) Report(ctx context.Context, id domain.ID) (domain.Report, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if s.Reporter == nil {
		return BuildReport(rec, s.now()), nil
	}
	rep, err := s.Reporter.Report(ctx, rec)
	if err != nil {
		return domain.Report{}, s.fail(domain.StageReport, err)
	}
	rep.AnalysisID = rec.ID
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = s.now()
	}
	return rep, nil
}

// Wait blocks until background archive/export work has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// compute runs tariff → risk → visualization → persistence for an already
// classified product.
func (s *Service) compute(ctx context.Context, parent domain.ID, params domain.Parameters, cls domain.Classification) (*domain.Record, error) {
	start := time.Now()
	tr, err := s.Tariffs.Quote(tariff.Request{
		HSCode:               cls.HSCode,
		ManufacturingCountry: params.ManufacturingCountry,
		DestinationCountry:   params.DestinationCountry,
		DeclaredValue:        params.DeclaredValue,
		Currency:             params.Currency,
		Materials:            cls.Materials,
	})
	if err != nil {
		return nil, s.fail(domain.StageTariff, err)
	}
	s.Metrics.ObserveStage(string(domain.StageTariff), "ok", time.Since(start))

	start = time.Now()
	sc, err := s.Risk.Calculate(params.ManufacturingCountry, params.DestinationCountry, tr.TotalDutyPercent, cls.Materials)
	if err != nil {
		return nil, s.fail(domain.StageRisk, err)
	}
	s.Metrics.ObserveStage(string(domain.StageRisk), "ok", time.Since(start))
	s.Metrics.IncrementBand(string(sc.Band))

	start = time.Now()
	flow := s.Visualizer.Generate(tr.HSCode, params.ManufacturingCountry, params.DestinationCountry, cls.Materials)
	s.Metrics.ObserveStage(string(domain.StageVisualization), "ok", time.Since(start))

	cls.HSCode = tr.HSCode
	rec := &domain.Record{
		ID:             s.newID(),
		ParentID:       parent,
		Parameters:     params,
		Classification: cls,
		Tariff:         tr,
		Risk:           sc,
		Flow:           flow,
		CreatedAt:      s.now(),
	}

	start = time.Now()
	if err := s.Store.Save(ctx, rec); err != nil {
		return nil, s.fail(domain.StagePersistence, err)
	}
	s.Metrics.ObserveStage(string(domain.StagePersistence), "ok", time.Since(start))
	s.Metrics.SetStored(s.Store.Len())

	s.logger().Info("analysis stored",
		slog.String("analysis_id", string(rec.ID)),
		slog.String("hs_code", string(rec.Tariff.HSCode)),
		slog.String("lane", string(params.ManufacturingCountry)+"->"+string(params.DestinationCountry)),
		slog.String("total_duty_percent", tr.TotalDutyPercent.String()),
		slog.Float64("risk", sc.Value),
	)

	s.afterSave(ctx, rec)
	return rec, nil
}

func (s *Service) classify(ctx context.Context, cmd AnalyzeCommand) (domain.Classification, error) {
	start := time.Now()
	hs := strings.TrimSpace(cmd.HSCode)
	if (hs != "") != (len(cmd.Materials) > 0) {
		return domain.Classification{}, trade.Validationf("hs_code and materials must be supplied together")
	}
	if hs != "" {
		materials := trade.NormalizeMaterials(cmd.Materials)
		if err := trade.ValidateMaterials(materials); err != nil {
			return domain.Classification{}, err
		}
		s.Metrics.ObserveStage(string(domain.StageClassification), "skipped", 0)
		return domain.Classification{
			HSCode:              trade.NormalizeHSCode(hs),
			Confidence:          1,
			Explanation:         "classification supplied by caller",
			Materials:           materials,
			ResolvedDescription: strings.TrimSpace(cmd.Description),
			Model:               "caller",
		}, nil
	}

	if strings.TrimSpace(cmd.ProductName) == "" {
		return domain.Classification{}, trade.Validationf("product_name is required")
	}
	if strings.TrimSpace(cmd.Description) == "" && cmd.ImageBase64 == "" {
		return domain.Classification{}, trade.Validationf("description or image is required")
	}
	if s.Classifier == nil {
		return domain.Classification{}, domain.ClassificationError("classifier not configured", nil)
	}

	cls, err := s.Classifier.Classify(ctx, domain.ClassifyInput{
		ProductName: strings.TrimSpace(cmd.ProductName),
		Description: strings.TrimSpace(cmd.Description),
		ImageBase64: cmd.ImageBase64,
	})
	if err != nil {
		return domain.Classification{}, err
	}
	cls.HSCode = trade.NormalizeHSCode(string(cls.HSCode))
	cls.Materials = trade.NormalizeMaterials(cls.Materials)
	s.Metrics.ObserveStage(string(domain.StageClassification), "ok", time.Since(start))
	return cls, nil
}

// afterSave archives the record and exports its flow graph in the
// background. Failures are logged and counted, never returned.
func (s *Service) afterSave(ctx context.Context, rec *domain.Record) {
	if s.Archive == nil && s.Flows == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()

		if s.Archive != nil {
			err := s.Archive.Save(ctx, rec)
			s.Metrics.ObserveSideEffect("archive", err)
			if err != nil {
				s.logger().Warn("archive analysis failed", slog.String("analysis_id", string(rec.ID)), slog.Any("error", err))
			}
		}
		if s.Flows != nil {
			url, err := s.Flows.Export(ctx, rec.ID, rec.Flow)
			s.Metrics.ObserveSideEffect("flow_export", err)
			if err != nil {
				s.logger().Warn("export flow graph failed", slog.String("analysis_id", string(rec.ID)), slog.Any("error", err))
				return
			}
			s.logger().Debug("flow graph exported", slog.String("analysis_id", string(rec.ID)), slog.String("url", url))
		}
	}()
}

func (s *Service) fail(stage domain.Stage, err error) error {
	s.Metrics.ObserveStage(string(stage), "error", 0)
	s.logger().Warn("analysis stage failed",
		slog.String("analysis_stage", string(stage)),
		slog.String("category", string(trade.CategoryOf(err))),
		slog.Any("error", err),
	)
	return domain.AtStage(stage, err)
}

func (s *Service) newID() domain.ID {
	if s.NewID != nil {
		return s.NewID()
	}
	return domain.ID(uuid.New().String())
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
