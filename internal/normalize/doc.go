// Package normalize holds the pure text, number, and URL helpers used across
// listing parsing and field extraction, plus the structural fingerprint used to
// detect markup drift between runs.
package normalize
