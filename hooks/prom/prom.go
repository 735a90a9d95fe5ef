// Package prom exports coordinator events and near cache sizes as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/nearcache"
)

const metricNS = "nearcache"

// Hooks counts coordinator events. Every series carries a constant "node" label so
// several coordinators can share one registry.
type Hooks struct {
	reads         *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	subLost       *prometheus.CounterVec
	resyncFixed   *prometheus.CounterVec
	downtime      *prometheus.HistogramVec
}

var _ nearcache.Hooks = (*Hooks)(nil)

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer, node string) (*Hooks, error) {
	labels := prometheus.Labels{"node": node}
	h := &Hooks{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "reads_total",
			Help:        "Reads by namespace and outcome (hit, miss, coalesced).",
			ConstLabels: labels,
		}, []string{"namespace", "outcome"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "backend_errors_total",
			Help:        "Store operations that failed after retries.",
			ConstLabels: labels,
		}, []string{"namespace", "op"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "evictions_total",
			Help:        "Near entries dropped by reason.",
			ConstLabels: labels,
		}, []string{"namespace", "reason"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "invalidations_total",
			Help:        "Invalidation events received, by whether they changed a local entry.",
			ConstLabels: labels,
		}, []string{"namespace", "applied"}),
		subLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "subscription_lost_total",
			Help:        "Invalidation stream drops.",
			ConstLabels: labels,
		}, []string{"namespace"}),
		resyncFixed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricNS,
			Name:        "resync_corrections_total",
			Help:        "Near entries corrected by resync after a reconnect.",
			ConstLabels: labels,
		}, []string{"namespace"}),
		downtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricNS,
			Name:        "subscription_downtime_seconds",
			Help:        "Time between losing and restoring an invalidation stream.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 8),
			ConstLabels: labels,
		}, []string{"namespace"}),
	}
	for _, c := range []prometheus.Collector{
		h.reads, h.backendErrors, h.evictions, h.invalidations, h.subLost, h.resyncFixed, h.downtime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) NearHit(ns string)   { h.reads.WithLabelValues(ns, "hit").Inc() }
func (h *Hooks) NearMiss(ns string)  { h.reads.WithLabelValues(ns, "miss").Inc() }
func (h *Hooks) Coalesced(ns string) { h.reads.WithLabelValues(ns, "coalesced").Inc() }

func (h *Hooks) BackendError(ns, op string, _ error) {
	h.backendErrors.WithLabelValues(ns, op).Inc()
}

func (h *Hooks) Evicted(ns, reason string) { h.evictions.WithLabelValues(ns, reason).Inc() }

func (h *Hooks) Invalidation(ns string, applied bool) {
	v := "false"
	if applied {
		v = "true"
	}
	h.invalidations.WithLabelValues(ns, v).Inc()
}

func (h *Hooks) SubscriptionLost(ns string, _ error) { h.subLost.WithLabelValues(ns).Inc() }

func (h *Hooks) SubscriptionRestored(ns string, downtime time.Duration) {
	h.downtime.WithLabelValues(ns).Observe(downtime.Seconds())
}

func (h *Hooks) Resynced(ns string, _, changed int) {
	h.resyncFixed.WithLabelValues(ns).Add(float64(changed))
}

// StatsCollector reports near cache size and stream health at scrape time.
type StatsCollector struct {
	cache    nearcache.Cache
	entries  *prometheus.Desc
	bytes    *prometheus.Desc
	inflight *prometheus.Desc
	verified *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

func NewStatsCollector(c nearcache.Cache, node string) *StatsCollector {
	labels := prometheus.Labels{"node": node}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricNS, "", name), help, []string{"namespace"}, labels)
	}
	return &StatsCollector{
		cache:    c,
		entries:  desc("near_entries", "Entries held in the near cache."),
		bytes:    desc("near_bytes", "Key and value bytes held in the near cache."),
		inflight: desc("inflight_fetches", "Store fetches currently in flight."),
		verified: desc("namespace_verified", "1 when the invalidation stream is live and resynced."),
	}
}

func (s *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.entries
	ch <- s.bytes
	ch <- s.inflight
	ch <- s.verified
}

func (s *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ns := range s.cache.Namespaces() {
		st, err := s.cache.Stats(ns)
		if err != nil {
			continue
		}
		verified := 0.0
		if st.Verified {
			verified = 1
		}
		ch <- prometheus.MustNewConstMetric(s.entries, prometheus.GaugeValue, float64(st.Entries), ns)
		ch <- prometheus.MustNewConstMetric(s.bytes, prometheus.GaugeValue, float64(st.Bytes), ns)
		ch <- prometheus.MustNewConstMetric(s.inflight, prometheus.GaugeValue, float64(st.InFlight), ns)
		ch <- prometheus.MustNewConstMetric(s.verified, prometheus.GaugeValue, verified, ns)
	}
}
