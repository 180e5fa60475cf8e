// Package metrics counts recognition activity and exposes it in the
// Prometheus text exposition format on GET /metrics.
package metrics
