// Package metrics holds the Prometheus collectors of the service. All methods
// are safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	StageOutcomes *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	RiskBands     *prometheus.CounterVec
	StoredRecords prometheus.Gauge
	SideEffects   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelane_http_requests_total",
			Help: "HTTP requests by route pattern, method and status class",
		}, []string{"route", "method", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradelane_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),

		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradelane_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),

		StageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelane_analysis_stage_total",
			Help: "Analysis pipeline stage outcomes",
		}, []string{"stage", "outcome"}), // outcome: ok, error, skipped

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradelane_analysis_stage_duration_seconds",
			Help:    "Duration of analysis pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		RiskBands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelane_risk_band_total",
			Help: "Risk scores produced by band",
		}, []string{"band"}),

		StoredRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradelane_analysis_records",
			Help: "Analysis records held in memory",
		}),

		SideEffects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelane_side_effect_total",
			Help: "Best-effort archive and export outcomes",
		}, []string{"target", "outcome"}),
	}
}

func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m != nil {
		m.RequestsTotal.WithLabelValues(route, method, status).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
	}
}

func (m *Metrics) InFlight(delta float64) {
	if m != nil {
		m.RequestsInFlight.Add(delta)
	}
}

// ObserveStage records one pipeline stage.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m != nil {
		m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
		if outcome != "skipped" {
			m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
		}
	}
}

func (m *Metrics) IncrementBand(band string) {
	if m != nil {
		m.RiskBands.WithLabelValues(band).Inc()
	}
}

func (m *Metrics) SetStored(n int) {
	if m != nil {
		m.StoredRecords.Set(float64(n))
	}
}

func (m *Metrics) ObserveSideEffect(target string, err error) {
	if m != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.SideEffects.WithLabelValues(target, outcome).Inc()
	}
}
