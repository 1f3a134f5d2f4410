// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream connection state, frame rates and reconnect counts
//   - Bridge connectivity and normalized event throughput
//   - Engine process restarts
//   - Recorder batch inserts and errors
package metrics
