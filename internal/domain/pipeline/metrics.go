package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "receipt_normalizer"

// Metrics holds the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	receipts        prometheus.Counter
	items           prometheus.Counter
	reviews         prometheus.Counter
	classifications *prometheus.CounterVec
	matches         *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	batchDuration   prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg. A nil registerer
// leaves them unregistered, which tests use to read values directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		receipts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_processed_total",
			Help:      "Receipts run through the pipeline.",
		}),
		items: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_items_processed_total",
			Help:      "Line items leaving the pipeline, after merges.",
		}),
		reviews: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_items_needs_review_total",
			Help:      "Line items flagged for manual review.",
		}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications by deciding stage.",
		}, []string{"stage"}),
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_matches_total",
			Help:      "Catalog match attempts by strategy; misses use strategy \"none\".",
		}, []string{"strategy"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Amount reconciler outcomes.",
		}, []string{"outcome"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a pipeline batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeClassification(stage string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeMatch(strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.matches.WithLabelValues(strategy).Inc()
}

func (m *Metrics) observeReceipt(r ReceiptReport) {
	if m == nil {
		return
	}
	m.receipts.Inc()
	m.items.Add(float64(r.Items))
	m.reviews.Add(float64(r.NeedsReview))
	m.reconciliations.WithLabelValues("fixed").Add(float64(r.Fixed))
	m.reconciliations.WithLabelValues("flagged").Add(float64(r.Flagged))
	m.reconciliations.WithLabelValues("merged").Add(float64(r.Merged))
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}
