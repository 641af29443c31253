/*
Package metrics exports reconciliation telemetry to Prometheus.

PURPOSE:
  Collector implements reconcile.Observer. Attach it to an engine and mount
  promhttp on the same registry to expose /metrics.

METRICS:
  recon_runs_total{result}             completed, skipped or failed runs
  recon_reconciled_days                days rewritten by the last completed run
  recon_run_duration_seconds           wall time of completed runs
  recon_unknown_products_total{feed}   feed rows dropped by identifier resolution
  recon_expired_units_total            ad units that expired unmatched
  recon_expired_secondary_total        secondary quantity that expired unmatched
  recon_matched_units_total            ad units matched to actual sales
  recon_matched_secondary_total        secondary quantity matched to actual sales

SEE ALSO:
  - reconcile/store.go: Observer interface
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/attribution-engine/reconcile"
)

const namespace = "recon"

// Run results used as the "result" label.
const (
	ResultCompleted = "completed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Collector records engine callbacks as Prometheus metrics.
type Collector struct {
	runs             *prometheus.CounterVec
	reconciledDays   prometheus.Gauge
	duration         prometheus.Histogram
	unknownProducts  *prometheus.CounterVec
	expiredUnits     prometheus.Counter
	expiredSecondary prometheus.Counter
	matchedUnits     prometheus.Counter
	matchedSecondary prometheus.Counter
}

var _ reconcile.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),
		reconciledDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciled_days",
			Help:      "Number of days rewritten by the last completed run.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of completed reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		unknownProducts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_products_total",
			Help:      "Feed rows skipped because their identifier did not resolve.",
		}, []string{"feed"}),
		expiredUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_units_total",
			Help:      "Ad-attributed units that left the lookback window unmatched.",
		}),
		expiredSecondary: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_secondary_total",
			Help:      "Ad-attributed secondary quantity that left the lookback window unmatched.",
		}),
		matchedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_units_total",
			Help:      "Actual units matched to ad clicks.",
		}),
		matchedSecondary: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_secondary_total",
			Help:      "Actual secondary quantity matched to ad clicks.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.runs, c.reconciledDays, c.duration, c.unknownProducts,
		c.expiredUnits, c.expiredSecondary, c.matchedUnits, c.matchedSecondary,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	// Pre-create the label values so dashboards see zeros before the first run.
	for _, r := range []string{ResultCompleted, ResultSkipped, ResultFailed} {
		c.runs.WithLabelValues(r)
	}
	for _, f := range []reconcile.FeedName{reconcile.FeedAds, reconcile.FeedActualSales} {
		c.unknownProducts.WithLabelValues(string(f))
	}
	return c, nil
}

func (c *Collector) RunSkipped(string) {
	c.runs.WithLabelValues(ResultSkipped).Inc()
}

func (c *Collector) RunCompleted(result reconcile.Result, seconds float64) {
	c.runs.WithLabelValues(ResultCompleted).Inc()
	c.reconciledDays.Set(float64(result.ReconciledDays))
	c.duration.Observe(seconds)
}

func (c *Collector) RunFailed() {
	c.runs.WithLabelValues(ResultFailed).Inc()
}

func (c *Collector) UnknownProduct(feed reconcile.FeedName) {
	c.unknownProducts.WithLabelValues(string(feed)).Inc()
}

func (c *Collector) LotsExpired(units, secondary int64) {
	c.expiredUnits.Add(float64(units))
	c.expiredSecondary.Add(float64(secondary))
}

func (c *Collector) UnitsMatched(units, secondary int64) {
	c.matchedUnits.Add(float64(units))
	c.matchedSecondary.Add(float64(secondary))
}
