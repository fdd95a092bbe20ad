// Package governor owns the shared backoff state every worker consults before
// issuing a request, the randomized inter-request jitter, and the retry policy
// fetchers apply to low-level transport failures.
package governor
