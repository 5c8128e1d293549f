// Package metrics provides the centralized Prometheus registry reference for
// the ODS client. All metrics are defined in their respective packages
// (client, paginate, bulk, tokencache) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the ODS client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ods_requests_total{method, status} (Counter): Total requests by method and HTTP status
//   - ods_request_duration_seconds{method} (Histogram): Request duration by method
//   - ods_errors_total{class} (Counter): Errors by class (client, server, rate_limit, auth, network)
//   - ods_token_refreshes_total (Counter): OAuth token fetches performed by the session
//
// Retry Metrics (pkg/client):
//   - ods_retries_total{error_class} (Counter): Retry attempts by error class
//   - ods_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ods_retry_exhausted_total{error_class} (Counter): Calls that exhausted max retries
//   - ods_reauthentications_total (Counter): Re-authentications forced by 401 outcomes
//
// Pagination Metrics (pkg/paginate):
//   - ods_pages_total{mode} (Counter): Pages retrieved by traversal mode (forward, reverse)
//   - ods_rows_total (Counter): Rows yielded by paginated scans
//
// Bulk Mutation Metrics (pkg/bulk):
//   - ods_mutation_outcomes_total{status} (Counter): Bulk mutation outcomes by status key
//
// Token Cache Metrics (pkg/tokencache):
//   - ods_token_cache_hits_total (Counter): Valid tokens adopted from the shared cache
//   - ods_token_cache_misses_total (Counter): Cache lookups finding no usable token
//   - ods_token_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(ods_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ods_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure by Class
//   sum by (error_class) (rate(ods_retries_total[5m]))
//
//   # Token Cache Hit Rate
//   sum(rate(ods_token_cache_hits_total[5m])) /
//   (sum(rate(ods_token_cache_hits_total[5m])) + sum(rate(ods_token_cache_misses_total[5m])))
//
//   # Bulk Failure Outcomes
//   sum(rate(ods_mutation_outcomes_total{status!~"2.."}[5m]))
