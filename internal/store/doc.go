// Package store defines interfaces for persisting run bookkeeping. Drivers
// live elsewhere; this package must not import database clients.
package store
