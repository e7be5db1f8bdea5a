package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can coexist in one process.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	Mutations       *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PublishFailures prometheus.Counter
	MirroredSlots   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	UnpaidDues      prometheus.Gauge
	Balance         prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidat_mutations_total",
			Help: "Ledger mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidat_persist_failures_total",
			Help: "Failed slot writes to the primary store",
		}, []string{"slot"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "aidat_publish_failures_total",
			Help: "Slot change events that could not be published",
		}),
		MirroredSlots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidat_mirrored_slots_total",
			Help: "Slots copied to the mirror store by outcome",
		}, []string{"slot", "outcome"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aidat_http_request_duration_seconds",
			Help:    "Latency of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		UnpaidDues: f.NewGauge(prometheus.GaugeOpts{
			Name: "aidat_unpaid_dues",
			Help: "Unpaid payment entries across all periods",
		}),
		Balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "aidat_balance_lira",
			Help: "All-time paid dues minus all-time expenses",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Mutations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncrementPersistFailure(slot string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(slot).Inc()
}

func (m *Metrics) IncrementPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) ObserveMirror(slot string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.MirroredSlots.WithLabelValues(slot, outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route, http.StatusText(status)).Observe(time.Since(start).Seconds())
}

// SetLedgerGauges publishes the headline figures of the current snapshot.
func (m *Metrics) SetLedgerGauges(unpaid int, balance float64) {
	if m == nil {
		return
	}
	m.UnpaidDues.Set(float64(unpaid))
	m.Balance.Set(balance)
}
