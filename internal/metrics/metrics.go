package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type WatcherMetrics struct {
	PendingSeen           prometheus.Counter
	LookupMisses          prometheus.Counter
	WatchedDetected       prometheus.Counter
	EvaluationFailures    prometheus.Counter
	ReplacementsBroadcast prometheus.Counter
	BroadcastFailures     prometheus.Counter
	RacesCompleted        prometheus.Counter
	ActiveRaces           prometheus.Gauge
	ReplacementGasPrice   prometheus.Histogram
}

func NewWatcherMetrics() *WatcherMetrics {
	return &WatcherMetrics{
		PendingSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_pending_seen_total",
			Help: "Pending transaction hashes received from the feed",
		}),
		LookupMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_lookup_misses_total",
			Help: "Pending hashes whose transaction could not be fetched",
		}),
		WatchedDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_watched_detected_total",
			Help: "Pending transactions sent from the watched account",
		}),
		EvaluationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_evaluation_failures_total",
			Help: "Balance queries that failed during evaluation",
		}),
		ReplacementsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_replacements_broadcast_total",
			Help: "Replacement transactions accepted by the node",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_broadcast_failures_total",
			Help: "Replacement transactions rejected by the node",
		}),
		RacesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonceguard_races_completed_total",
			Help: "Replacements that reached the required confirmation depth",
		}),
		ActiveRaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nonceguard_active_races",
			Help: "Replacements currently being tracked",
		}),
		ReplacementGasPrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nonceguard_replacement_gas_price_gwei",
			Help:    "Gas price of broadcast replacements in gwei",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *WatcherMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.PendingSeen, m.LookupMisses, m.WatchedDetected, m.EvaluationFailures,
		m.ReplacementsBroadcast, m.BroadcastFailures, m.RacesCompleted,
		m.ActiveRaces, m.ReplacementGasPrice,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
