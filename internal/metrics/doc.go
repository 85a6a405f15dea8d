// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Poll cycles and their duration
//   - Per-target errors by kind and skipped targets by reason
//   - Bars added/replaced and the watermark of every series
//   - Quarantined files and mirror write failures
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics
