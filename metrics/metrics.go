package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bundler"

// Metrics holds the instrumented Prometheus counters/gauges the bundler
// updates as it processes user operations: mempool size, bundle outcomes,
// and reputation transitions.
type Metrics struct {
	mempoolSize      *prometheus.GaugeVec
	opsAdded         *prometheus.CounterVec
	opsReplaced      *prometheus.CounterVec
	opsPurged        *prometheus.CounterVec
	bundlesSent      *prometheus.CounterVec
	bundlesFailed    *prometheus.CounterVec
	opsIncluded      *prometheus.CounterVec
	reputationStatus *prometheus.GaugeVec
	entitiesBanned   *prometheus.CounterVec
}

// New registers every bundler metric against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		mempoolSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mempool_size",
				Help:      "Number of user operations currently pending per chain.",
			}, []string{"chain_id"}),

		opsAdded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_added_total",
				Help:      "User operations accepted into the mempool.",
			}, []string{"chain_id"}),

		opsReplaced: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_replaced_total",
				Help:      "User operations that replaced an existing mempool entry for the same sender/nonce.",
			}, []string{"chain_id"}),

		opsPurged: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_purged_total",
				Help:      "User operations dropped from the mempool without being included (failed re-simulation, banned entity).",
			}, []string{"chain_id", "reason"}),

		bundlesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_sent_total",
				Help:      "handleOps transactions submitted successfully.",
			}, []string{"chain_id", "entry_point"}),

		bundlesFailed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_failed_total",
				Help:      "handleOps transactions that reverted or failed to submit.",
			}, []string{"chain_id", "entry_point"}),

		opsIncluded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_included_total",
				Help:      "User operations included in a mined bundle.",
			}, []string{"chain_id"}),

		reputationStatus: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reputation_status",
				Help:      "Current reputation status per entity (0=OK, 1=THROTTLED, 2=BANNED).",
			}, []string{"chain_id", "address"}),

		entitiesBanned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_banned_total",
				Help:      "Entities quarantined by crashedHandleOps.",
			}, []string{"chain_id"}),
	}
}

func (m *Metrics) SetMempoolSize(chainID string, n int) {
	m.mempoolSize.WithLabelValues(chainID).Set(float64(n))
}

func (m *Metrics) IncOpsAdded(chainID string) {
	m.opsAdded.WithLabelValues(chainID).Inc()
}

func (m *Metrics) IncOpsReplaced(chainID string) {
	m.opsReplaced.WithLabelValues(chainID).Inc()
}

func (m *Metrics) IncOpsPurged(chainID, reason string) {
	m.opsPurged.WithLabelValues(chainID, reason).Inc()
}

func (m *Metrics) IncBundleSent(chainID, entryPoint string, opCount int) {
	m.bundlesSent.WithLabelValues(chainID, entryPoint).Inc()
	m.opsIncluded.WithLabelValues(chainID).Add(float64(opCount))
}

func (m *Metrics) IncBundleFailed(chainID, entryPoint string) {
	m.bundlesFailed.WithLabelValues(chainID, entryPoint).Inc()
}

func (m *Metrics) SetReputationStatus(chainID, address string, status int) {
	m.reputationStatus.WithLabelValues(chainID, address).Set(float64(status))
}

func (m *Metrics) IncEntityBanned(chainID string) {
	m.entitiesBanned.WithLabelValues(chainID).Inc()
}
