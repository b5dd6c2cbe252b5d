package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// Metrics holds the worker's Prometheus collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	assessments    *prometheus.CounterVec
	scores         prometheus.Histogram
	failures       prometheus.Counter
	recalibrations prometheus.Counter
	ruleUpdates    *prometheus.CounterVec
	ruleVersion    *prometheus.GaugeVec
	retrains       prometheus.Counter
	sseClients     prometheus.GaugeFunc
}

// NewMetrics registers the worker collectors. clients reports the number
// of connected SSE clients.
func NewMetrics(clients func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inspectrisk",
			Name:      "assessments_total",
			Help:      "Risk assessments produced, by category.",
		}, []string{"category"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inspectrisk",
			Name:      "risk_score",
			Help:      "Distribution of composite risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inspectrisk",
			Name:      "scoring_failures_total",
			Help:      "Records that could not be scored.",
		}),
		recalibrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inspectrisk",
			Name:      "categorizer_recalibrations_total",
			Help:      "Categorizer threshold recalibrations.",
		}),
		ruleUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inspectrisk",
			Name:      "rule_updates_total",
			Help:      "Rule set updates, by impact tag.",
		}, []string{"impact"}),
		ruleVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inspectrisk",
			Name:      "rule_set_info",
			Help:      "Current rule set version, always 1.",
		}, []string{"version"}),
		retrains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inspectrisk",
			Name:      "baseline_retrains_total",
			Help:      "Successful baseline model retrainings.",
		}),
		sseClients: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "inspectrisk",
			Name:      "sse_clients",
			Help:      "Connected event stream clients.",
		}, func() float64 { return float64(clients()) }),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.assessments, m.scores, m.failures, m.recalibrations,
		m.ruleUpdates, m.ruleVersion, m.retrains, m.sseClients,
	)
	for _, c := range models.AllCategories {
		m.assessments.WithLabelValues(string(c))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAssessment records one produced assessment.
func (m *Metrics) ObserveAssessment(res *models.RiskAssessmentResult) {
	m.assessments.WithLabelValues(string(res.Category)).Inc()
	m.scores.Observe(res.Score)
}

// ObserveFailures counts records that failed to score.
func (m *Metrics) ObserveFailures(n int) {
	if n > 0 {
		m.failures.Add(float64(n))
	}
}

// ObserveRecalibration counts one categorizer recalibration.
func (m *Metrics) ObserveRecalibration() {
	m.recalibrations.Inc()
}

// ObserveRuleSet records the active rule set version and, for updates,
// the impact of the change.
func (m *Metrics) ObserveRuleSet(version, impact string) {
	m.ruleVersion.Reset()
	m.ruleVersion.WithLabelValues(version).Set(1)
	if impact != "" {
		m.ruleUpdates.WithLabelValues(impact).Inc()
	}
}

// ObserveRetrain counts one successful retraining.
func (m *Metrics) ObserveRetrain() {
	m.retrains.Inc()
}
