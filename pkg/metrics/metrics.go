package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Directory/document metrics
	DirectoriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_directories_total",
			Help: "Total number of directories loaded",
		},
	)

	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authly_services_total",
			Help: "Total number of service entities by directory",
		},
		[]string{"directory"},
	)

	PersonasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_personas_total",
			Help: "Total number of persona entities",
		},
	)

	PoliciesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authly_policies_total",
			Help: "Total number of policies by directory",
		},
		[]string{"directory"},
	)

	DocumentApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_document_apply_total",
			Help: "Total number of document compile/apply attempts by result",
		},
		[]string{"result"},
	)

	DocumentApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_document_apply_duration_seconds",
			Help:    "Time taken to compile and apply a directory document",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftSnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_raft_snapshot_duration_seconds",
			Help:    "Time taken to take or restore a Raft FSM snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// gRPC API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authly_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Auth metrics
	AccessTokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_access_tokens_issued_total",
			Help: "Total number of access tokens issued by entity kind",
		},
		[]string{"kind"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_sessions_active",
			Help: "Current number of live persona sessions",
		},
	)

	AuthenticationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_authentication_total",
			Help: "Total number of authentication attempts by method and result",
		},
		[]string{"method", "result"},
	)

	PolicyEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_policy_eval_duration_seconds",
			Help:    "Time taken to evaluate a policy binding",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Certificate metrics
	CertsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_certs_issued_total",
			Help: "Total number of identity certificates issued by kind",
		},
		[]string{"kind"},
	)

	CertIssueDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authly_cert_issue_duration_seconds",
			Help:    "Time taken to sign an identity certificate",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Mandate metrics
	MandatesGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authly_mandates_granted_total",
			Help: "Total number of authority mandates granted",
		},
	)

	// K8s/tunnel metrics (SPEC_FULL.md §13 items 4-5)
	K8sAuthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authly_k8s_auth_requests_total",
			Help: "Total number of Kubernetes service account token exchanges by result",
		},
		[]string{"result"},
	)

	TunnelConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authly_tunnel_connections_active",
			Help: "Current number of active reverse tunnel connections",
		},
	)
)

func init() {
	prometheus.MustRegister(DirectoriesTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(PersonasTotal)
	prometheus.MustRegister(PoliciesTotal)
	prometheus.MustRegister(DocumentApplyTotal)
	prometheus.MustRegister(DocumentApplyDuration)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(RaftSnapshotDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(AccessTokensIssuedTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(AuthenticationTotal)
	prometheus.MustRegister(PolicyEvalDuration)

	prometheus.MustRegister(CertsIssuedTotal)
	prometheus.MustRegister(CertIssueDuration)

	prometheus.MustRegister(MandatesGrantedTotal)

	prometheus.MustRegister(K8sAuthRequestsTotal)
	prometheus.MustRegister(TunnelConnectionsActive)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
