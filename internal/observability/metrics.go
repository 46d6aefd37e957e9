package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunMetrics holds the prometheus collectors for pipeline runs on a private
// registry, so several instances can coexist in tests.
type RunMetrics struct {
	reg *prometheus.Registry

	SalesExtracted   *prometheus.CounterVec
	DimensionRows    *prometheus.CounterVec
	DimensionErrors  *prometheus.CounterVec
	FactsInserted    prometheus.Counter
	FactsDropped     *prometheus.CounterVec
	FactsFailed      prometheus.Counter
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastSuccess      prometheus.Gauge
	LastFactRowCount prometheus.Gauge
}

// NewRunMetrics creates and registers the run collectors.
func NewRunMetrics() *RunMetrics {
	r := prometheus.NewRegistry()
	m := &RunMetrics{
		reg: r,
		SalesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesetl_sales_extracted_total",
			Help: "Enriched sales produced per extractor.",
		}, []string{"source"}),
		DimensionRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesetl_dimension_rows_upserted_total",
			Help: "Dimension rows upserted per table.",
		}, []string{"table"}),
		DimensionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesetl_dimension_load_errors_total",
			Help: "Failed dimension loads per table.",
		}, []string{"table"}),
		FactsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salesetl_fact_rows_inserted_total",
			Help: "Fact rows inserted.",
		}),
		FactsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesetl_fact_rows_dropped_total",
			Help: "Sales dropped from the fact table per unresolved key.",
		}, []string{"reason"}),
		FactsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salesetl_fact_rows_failed_total",
			Help: "Fact rows rejected by the warehouse.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesetl_runs_total",
			Help: "Pipeline runs by final state.",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesetl_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salesetl_last_success_timestamp_seconds",
			Help: "Unix time of the last run that reached Done.",
		}),
		LastFactRowCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salesetl_last_fact_rows",
			Help: "Fact rows written by the most recent run.",
		}),
	}

	r.MustRegister(
		m.SalesExtracted, m.DimensionRows, m.DimensionErrors,
		m.FactsInserted, m.FactsDropped, m.FactsFailed,
		m.Runs, m.RunDuration, m.LastSuccess, m.LastFactRowCount,
	)
	return m
}

// ObserveExtract records the sales one extractor contributed.
func (m *RunMetrics) ObserveExtract(source string, sales int) {
	m.SalesExtracted.WithLabelValues(source).Add(float64(sales))
}

// ObserveDimension records one dimension load.
func (m *RunMetrics) ObserveDimension(table string, rows int, err error) {
	if err != nil {
		m.DimensionErrors.WithLabelValues(table).Inc()
		return
	}
	m.DimensionRows.WithLabelValues(table).Add(float64(rows))
}

// ObserveFacts records a fact load outcome.
func (m *RunMetrics) ObserveFacts(inserted int, dropped map[string]int, failed int) {
	m.FactsInserted.Add(float64(inserted))
	m.FactsFailed.Add(float64(failed))
	for reason, n := range dropped {
		m.FactsDropped.WithLabelValues(reason).Add(float64(n))
	}
	m.LastFactRowCount.Set(float64(inserted))
}

// ObserveRun records the end of a run.
func (m *RunMetrics) ObserveRun(state string, started, finished time.Time, succeeded bool) {
	m.Runs.WithLabelValues(state).Inc()
	m.RunDuration.Observe(finished.Sub(started).Seconds())
	if succeeded {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *RunMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
