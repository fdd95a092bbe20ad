// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and a run-statistics repository writer. Each
// satisfies progress.Sink.
package sinks
