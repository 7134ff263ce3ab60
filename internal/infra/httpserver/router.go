package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	appanalysis "github.com/bryanwahyu/tradelane/internal/application/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
	"github.com/bryanwahyu/tradelane/internal/metrics"
	"github.com/bryanwahyu/tradelane/internal/middleware"
)

// Options wires the outer shell. Zero values switch the matching feature off.
type Options struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	APIKeys      map[string]string
	Limiter      *middleware.RateLimiter
	CORSOrigins  []string
	MaxBodyBytes int64
	Checkers     map[string]middleware.HealthChecker
}

type Router struct {
	svc     *appanalysis.Service
	ref     *reference.Store
	logger  *slog.Logger
	maxBody int64
}

func NewRouter(svc *appanalysis.Service, ref *reference.Store, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 12 << 20
	}
	r := &Router{svc: svc, ref: ref, logger: logger, maxBody: maxBody}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Metrics(opts.Metrics))
	mux.Use(middleware.Logging(logger))
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}
	if len(opts.APIKeys) > 0 {
		mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	}
	if opts.Limiter != nil {
		mux.Use(middleware.RateLimit(opts.Limiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/ready", middleware.ReadinessHandler)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Post("/quote", r.wrap(r.handleQuote))
		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Post("/analyses/{id}/recalculate", r.wrap(r.handleRecalculate))
		rt.Post("/analyses/{id}/report", r.wrap(r.handleReport))
		rt.Get("/reference/hs-codes", r.wrap(r.handleHSCodes))
	})

	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrorBody{Code: trade.CodeNotFound, Message: "route not found"})
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, middleware.ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			r.writeError(w, req, err)
		}
	}
}

// writeError maps the error taxonomy onto HTTP. Internal details of invariant
// and untyped errors stay in the log.
func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	body := middleware.ErrorBody{Code: trade.CodeInternal, Message: "internal error"}
	if stage, ok := analysis.StageOf(err); ok {
		body.Stage = string(stage)
	}

	status := http.StatusInternalServerError
	var te *trade.Error
	if errors.As(err, &te) {
		body.Code = te.Code
		switch te.Category {
		case trade.CategoryValidation:
			status, body.Message = http.StatusBadRequest, te.Message
		case trade.CategoryUnknownReference:
			status, body.Message = http.StatusUnprocessableEntity, te.Message
		case trade.CategoryExternal:
			status, body.Message = http.StatusBadGateway, te.Message
		case trade.CategoryNotFound:
			status, body.Message = http.StatusNotFound, te.Message
		default:
			body.Code = trade.CodeInvariant
		}
	}

	if status >= 500 {
		r.logger.Error("request failed",
			slog.String("path", req.URL.Path),
			slog.String("request_id", chimw.GetReqID(req.Context())),
			slog.String("code", body.Code),
			slog.Any("error", err),
		)
	}
	middleware.WriteError(w, status, body)
}

func (r *Router) decode(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, r.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return trade.Validationf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return trade.Validationf("request body is empty")
		default:
			return trade.Validationf("invalid JSON body: %v", err)
		}
	}
	return nil
}

// ==== request bodies ====

type analyzeBody struct {
	ProductName          string           `json:"product_name"`
	Description          string           `json:"description"`
	ImageBase64          string           `json:"image_base64"`
	ManufacturingCountry string           `json:"manufacturing_country"`
	DestinationCountry   string           `json:"destination_country"`
	DeclaredValue        *decimal.Decimal `json:"declared_value"`
	Currency             string           `json:"currency"`
	HSCode               string           `json:"hs_code"`
	Materials            []trade.Material `json:"materials"`
}

type quoteBody struct {
	HSCode               string           `json:"hs_code"`
	ManufacturingCountry string           `json:"manufacturing_country"`
	DestinationCountry   string           `json:"destination_country"`
	DeclaredValue        *decimal.Decimal `json:"declared_value"`
	Currency             string           `json:"currency"`
	Materials            []trade.Material `json:"materials"`
}

type recalculateBody struct {
	HSCode               string           `json:"hs_code"`
	ManufacturingCountry string           `json:"manufacturing_country"`
	DestinationCountry   string           `json:"destination_country"`
	DeclaredValue        *decimal.Decimal `json:"declared_value"`
	Materials            []trade.Material `json:"materials"`
}

func validateLane(mfg, dest string, value *decimal.Decimal) error {
	if err := middleware.ValidateCountry("manufacturing_country", mfg); err != nil {
		return trade.Validationf("%v", err)
	}
	if err := middleware.ValidateCountry("destination_country", dest); err != nil {
		return trade.Validationf("%v", err)
	}
	if value == nil {
		return trade.Validationf("declared_value is required")
	}
	return nil
}

// POST /v1/analyze
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body analyzeBody
	if err := r.decode(w, req, &body); err != nil {
		return err
	}
	if err := validateLane(body.ManufacturingCountry, body.DestinationCountry, body.DeclaredValue); err != nil {
		return err
	}
	if err := middleware.ValidateHSCode(body.HSCode); err != nil {
		return trade.Validationf("%v", err)
	}
	if err := middleware.ValidateImageBase64(body.ImageBase64); err != nil {
		return trade.Validationf("%v", err)
	}

	rec, err := r.svc.Analyze(req.Context(), appanalysis.AnalyzeCommand{
		ProductName:          middleware.SanitizeString(body.ProductName),
		Description:          middleware.SanitizeString(body.Description),
		ImageBase64:          body.ImageBase64,
		ManufacturingCountry: body.ManufacturingCountry,
		DestinationCountry:   body.DestinationCountry,
		DeclaredValue:        *body.DeclaredValue,
		Currency:             body.Currency,
		HSCode:               body.HSCode,
		Materials:            body.Materials,
	})
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusCreated, rec)
	return nil
}

// POST /v1/quote
func (r *Router) handleQuote(w http.ResponseWriter, req *http.Request) error {
	var body quoteBody
	if err := r.decode(w, req, &body); err != nil {
		return err
	}
	if err := validateLane(body.ManufacturingCountry, body.DestinationCountry, body.DeclaredValue); err != nil {
		return err
	}
	if err := middleware.ValidateHSCode(body.HSCode); err != nil {
		return trade.Validationf("%v", err)
	}

	res, err := r.svc.Quote(req.Context(), appanalysis.QuoteCommand{
		HSCode:               body.HSCode,
		ManufacturingCountry: body.ManufacturingCountry,
		DestinationCountry:   body.DestinationCountry,
		DeclaredValue:        *body.DeclaredValue,
		Currency:             body.Currency,
		Materials:            body.Materials,
	})
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, res)
	return nil
}

// GET /v1/analyses?page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	page := middleware.ValidatePage(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.svc.List(req.Context(), page, middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

func analysisID(req *http.Request) (analysis.ID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return "", trade.Validationf("%v", err)
	}
	return analysis.ID(id), nil
}

// GET /v1/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	rec, err := r.svc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
	return nil
}

// POST /v1/analyses/{id}/recalculate
func (r *Router) handleRecalculate(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	var body recalculateBody
	if err := r.decode(w, req, &body); err != nil {
		return err
	}
	for field, v := range map[string]string{
		"manufacturing_country": body.ManufacturingCountry,
		"destination_country":   body.DestinationCountry,
	} {
		if v == "" {
			continue
		}
		if err := middleware.ValidateCountry(field, v); err != nil {
			return trade.Validationf("%v", err)
		}
	}
	if err := middleware.ValidateHSCode(body.HSCode); err != nil {
		return trade.Validationf("%v", err)
	}

	rec, err := r.svc.Recalculate(req.Context(), id, appanalysis.RecalculateCommand{
		HSCode:               body.HSCode,
		ManufacturingCountry: body.ManufacturingCountry,
		DestinationCountry:   body.DestinationCountry,
		DeclaredValue:        body.DeclaredValue,
		Materials:            body.Materials,
	})
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusCreated, rec)
	return nil
}

// POST /v1/analyses/{id}/report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	rep, err := r.svc.Report(req.Context(), id)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
	return nil
}

type hsCodeEntry struct {
	HSCode      trade.HSCode `json:"hs_code"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category"`
}

// GET /v1/reference/hs-codes
func (r *Router) handleHSCodes(w http.ResponseWriter, _ *http.Request) error {
	if r.ref == nil {
		return fmt.Errorf("reference store not wired")
	}
	codes := r.ref.SupportedHSCodes()
	out := make([]hsCodeEntry, len(codes))
	for i, c := range codes {
		out[i] = hsCodeEntry{HSCode: c, Description: r.ref.Description(c), Category: r.ref.Category(c)}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"hs_codes": out,
		"stats":    r.ref.Stats(),
	})
	return nil
}
