// Package metrics provides the centralized Prometheus metrics registry
// for apibackuper. All metrics are defined in their respective packages
// (transport, ratelimit, cache, archive, runner) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by apibackuper.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - apibackuper_requests_total{status} (Counter): Page requests by HTTP status or error kind
//   - apibackuper_request_duration_seconds (Histogram): Page request duration
//   - apibackuper_transport_errors_total{kind} (Counter): Transport errors by kind
//
// Retry Metrics (pkg/transport):
//   - apibackuper_retries_total (Counter): Retry attempts
//   - apibackuper_retry_exhausted_total (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - apibackuper_rate_limit_wait_seconds (Histogram): Time spent waiting for quota
//   - apibackuper_rate_limit_acquires_total (Counter): Granted acquisitions
//
// Cache Metrics (pkg/cache):
//   - apibackuper_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - apibackuper_cache_misses_total (Counter): Cache misses
//   - apibackuper_cache_size_bytes{layer="redis"} (Gauge): Current cache size in bytes
//   - apibackuper_304_responses_total (Counter): 304 Not Modified responses
//   - apibackuper_conditional_requests_total (Counter): Conditional requests sent
//   - apibackuper_cache_errors_total{operation} (Counter): Cache operation errors
//
// Archive Metrics (pkg/archive):
//   - apibackuper_archive_entries_written_total (Counter): Entries appended
//   - apibackuper_archive_checkpoints_total (Counter): Durable checkpoints
//   - apibackuper_archive_size_bytes (Gauge): Container size
//
// Run Metrics (pkg/runner):
//   - apibackuper_pages_fetched_total (Counter): Pages fetched
//   - apibackuper_records_written_total (Counter): Records written
//   - apibackuper_records_skipped_total (Counter): Records skipped as archived or unchanged
//   - apibackuper_runs_total{status} (Counter): Runs by terminal status
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apibackuper_cache_hits_total[5m])) /
//   (sum(rate(apibackuper_cache_hits_total[5m])) + sum(rate(apibackuper_cache_misses_total[5m])))
//
//   # Retry Pressure
//   rate(apibackuper_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(apibackuper_request_duration_seconds_bucket[5m]))
//
//   # Write Throughput
//   rate(apibackuper_records_written_total[5m])
