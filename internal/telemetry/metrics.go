package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты dispatch для метки result.
const (
	DispatchSubmitted = "submitted"
	DispatchFailed    = "failed"
	DispatchSkipped   = "skipped"
	DispatchDryRun    = "dry_run"
)

// Результаты stage-out для метки result.
const (
	StageOutStaged        = "staged"
	StageOutFailed        = "failed"
	StageOutAlreadyStaged = "already_staged"
)

// Metrics — Prometheus метрики starter'а и stage-out scanner'а.
//
// Все методы безопасно вызывать на nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	dispatchTotal   *prometheus.CounterVec
	eligibleRecords *prometheus.GaugeVec
	stageOutTotal   *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	lastSuccess     *prometheus.GaugeVec
}

// NewMetrics создаёт метрики в отдельном registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpd_dispatch_total",
			Help: "Downstream dispatch attempts by site and result.",
		}, []string{"site", "result"}),
		eligibleRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpd_eligible_records",
			Help: "Records eligible for dispatch in the last poll.",
		}, []string{"site"}),
		stageOutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpd_stage_out_total",
			Help: "Stage-out worker invocations by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpd_cycle_duration_seconds",
			Help:    "Duration of a poll or scan cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpd_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without a fatal error.",
		}, []string{"job"}),
	}

	m.registry.MustRegister(
		m.dispatchTotal,
		m.eligibleRecords,
		m.stageOutTotal,
		m.cycleDuration,
		m.lastSuccess,
	)
	return m
}

// Registry возвращает registry метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile записывает метрики в файл для textfile collector'а node_exporter.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// ObserveDispatch учитывает одну попытку dispatch.
func (m *Metrics) ObserveDispatch(site, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(site, result).Inc()
}

// SetEligible фиксирует число подходящих записей в последнем poll.
func (m *Metrics) SetEligible(site string, n int) {
	if m == nil {
		return
	}
	m.eligibleRecords.WithLabelValues(site).Set(float64(n))
}

// ObserveStageOut учитывает один вызов stage-out worker'а.
func (m *Metrics) ObserveStageOut(result string) {
	if m == nil {
		return
	}
	m.stageOutTotal.WithLabelValues(result).Inc()
}

// ObserveCycle фиксирует длительность цикла и, при успехе, время завершения.
func (m *Metrics) ObserveCycle(job string, started time.Time, ok bool) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	if ok {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
