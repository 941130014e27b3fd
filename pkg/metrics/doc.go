/*
Package metrics provides Prometheus metrics and HTTP health endpoints for Authly.

Every metric is a package-level variable registered with the Prometheus
default registry in init(); Handler exposes them in the Prometheus text
format. All histograms use prometheus.DefBuckets.

# Metrics Catalog

Directory/document:
  - authly_directories_total (gauge)
  - authly_services_total{directory} (gauge)
  - authly_personas_total (gauge)
  - authly_policies_total{directory} (gauge)
  - authly_document_apply_total{result} (counter)
  - authly_document_apply_duration_seconds (histogram)

Raft:
  - authly_raft_is_leader (gauge, 1 = leader, 0 = follower)
  - authly_raft_peers_total (gauge)
  - authly_raft_log_index, authly_raft_applied_index (gauges)
  - authly_raft_apply_duration_seconds, authly_raft_commit_duration_seconds,
    authly_raft_snapshot_duration_seconds (histograms)

API:
  - authly_api_requests_total{method, status} (counter)
  - authly_api_request_duration_seconds{method} (histogram)

Auth:
  - authly_access_tokens_issued_total{kind} (counter)
  - authly_sessions_active (gauge)
  - authly_authentication_total{method, result} (counter)
  - authly_policy_eval_duration_seconds (histogram)

Certificates and mandates:
  - authly_certs_issued_total{kind} (counter)
  - authly_cert_issue_duration_seconds (histogram)
  - authly_mandates_granted_total (counter)

Kubernetes auth and tunnel:
  - authly_k8s_auth_requests_total{result} (counter)
  - authly_tunnel_connections_active (gauge)

# Usage

	import "github.com/protojour/authly/pkg/metrics"

	timer := metrics.NewTimer()
	// ... sign a certificate ...
	timer.ObserveDuration(metrics.CertIssueDuration)
	metrics.CertsIssuedTotal.WithLabelValues("identity").Inc()

	timer = metrics.NewTimer()
	// ... handle an RPC ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "ApplyDocument")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/manager: MetricsCollector samples directory and Raft gauges
  - pkg/reconcile: records identity-certificate rotations
  - Prometheus: Scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (IDs, timestamps)
  - Document label values in metric description
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any Authly package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Histogram buckets: ~50 bytes each
  - Total: ~1-5MB for a typical Authly instance

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - HTTP response: ~10ms for typical metric set
  - Recommendation: Scrape interval ≥ 15s
  - Concurrent scrapes: Safe (read-only)

Cardinality Management:
  - Low cardinality: role, status, state (< 10 values)
  - Medium cardinality: method, host (< 100 values)
  - Avoid: task IDs, timestamps (unbounded)
  - Best practice: Aggregate high-cardinality in logs

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using IDs or unbounded values as labels
  - Check: Label cardinality (count unique combinations)
  - Solution: Remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: No data in desired percentiles
  - Cause: Buckets don't cover observed value range
  - Check: Histogram sum / count for average
  - Solution: Customize buckets for value range

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code not calling metric update methods
  - Check: Add logging around metric updates
  - Solution: Instrument code paths correctly

# Monitoring

Prometheus Queries (PromQL):

API Performance:
  - Request rate: rate(authly_api_requests_total[1m])
  - p95 latency: histogram_quantile(0.95, authly_api_request_duration_seconds_bucket)
  - p99 latency: histogram_quantile(0.99, authly_api_request_duration_seconds_bucket)

Raft Health:
  - Has leader: max(authly_raft_is_leader) > 0
  - Leader changes: changes(authly_raft_is_leader[10m])
  - Log lag: authly_raft_log_index - authly_raft_applied_index
  - Peer count: authly_raft_peers_total

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
