// Package progress tracks crawl counters, cuts checkpoints, and streams
// progress events through a non-blocking batching hub to pluggable sinks such
// as structured logs, Prometheus collectors, or a run-statistics store.
package progress
