// Package crawler defines the work items, ad records, outcomes, and collaborator
// interfaces shared by the frontier, worker pool, extraction engine, and sinks.
package crawler
