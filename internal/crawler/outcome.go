package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies the result of handling a single work item.
type ErrorKind int

// Error kinds, from the least to the most specific.
const (
	ErrorKindNone ErrorKind = iota
	ErrorKindTransport
	ErrorKindRateLimited
	ErrorKindBlocked
	ErrorKindNotFound
	ErrorKindStructureMismatch
	ErrorKindUnexpected
)

// String returns the label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "ok"
	case ErrorKindTransport:
		return "transport"
	case ErrorKindRateLimited:
		return "rate_limited"
	case ErrorKindBlocked:
		return "blocked"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindStructureMismatch:
		return "structure_mismatch"
	case ErrorKindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// StatusBlocked is the non-standard status the library returns when it refuses
// an identity outright.
const StatusBlocked = 999

// ErrNoResponse is reported when a fetch returned neither a body nor an error.
var ErrNoResponse = errors.New("fetch returned no response")

// Outcome is the explicit result of one fetch attempt. The frontier decides
// between requeue and drop from Kind alone.
type Outcome struct {
	Kind   ErrorKind
	Status int
	Err    error
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.Kind == ErrorKindNone
}

// Retryable reports whether the item should be requeued rather than dropped.
func (o Outcome) Retryable() bool {
	return o.Kind == ErrorKindRateLimited || o.Kind == ErrorKindBlocked
}

// Error implements error so an Outcome can be logged or wrapped directly.
func (o Outcome) Error() string {
	if o.Err != nil {
		return fmt.Sprintf("%s (status %d): %v", o.Kind, o.Status, o.Err)
	}
	return fmt.Sprintf("%s (status %d)", o.Kind, o.Status)
}

// Unwrap exposes the underlying transport error.
func (o Outcome) Unwrap() error {
	return o.Err
}

// blockMarkers identify login walls and challenge pages served with a 200.
var blockMarkers = [][]byte{
	[]byte("/checkpoint/challenge"),
	[]byte("captcha-internal"),
	[]byte("challengeId"),
}

// ClassifyResponse maps a fetch result onto an Outcome.
func ClassifyResponse(resp FetchResponse, err error) Outcome {
	if err != nil {
		return Outcome{Kind: ErrorKindTransport, Status: resp.StatusCode, Err: err}
	}
	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return Outcome{Kind: ErrorKindRateLimited, Status: status}
	case status == StatusBlocked || status == http.StatusForbidden || status == http.StatusUnauthorized:
		return Outcome{Kind: ErrorKindBlocked, Status: status}
	case status == http.StatusNotFound || status == http.StatusGone:
		return Outcome{Kind: ErrorKindNotFound, Status: status}
	case status >= 200 && status < 300:
		if len(resp.Body) == 0 {
			return Outcome{Kind: ErrorKindTransport, Status: status, Err: ErrNoResponse}
		}
		if isChallenge(resp) {
			return Outcome{Kind: ErrorKindBlocked, Status: status}
		}
		return Outcome{Kind: ErrorKindNone, Status: status}
	default:
		return Outcome{Kind: ErrorKindTransport, Status: status, Err: fmt.Errorf("unexpected status %d", status)}
	}
}

func isChallenge(resp FetchResponse) bool {
	if strings.Contains(resp.URL, "/authwall") || strings.Contains(resp.URL, "/checkpoint/") {
		return true
	}
	head := resp.Body
	if len(head) > 4096 {
		head = head[:4096]
	}
	for _, marker := range blockMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}
