package governor

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 0, 0)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 0, want: false},
		{name: "generic error", err: errors.New("boom"), attempt: 0, want: true},
		{name: "last attempt", err: errors.New("boom"), attempt: 2, want: false},
		{name: "canceled", err: context.Canceled, attempt: 0, want: false},
		{name: "deadline", err: context.DeadlineExceeded, attempt: 0, want: false},
		{name: "net timeout", err: timeoutErr{timeout: true}, attempt: 1, want: true},
		{name: "net refused", err: timeoutErr{timeout: false}, attempt: 0, want: true},
		{name: "unknown host", err: &net.DNSError{Err: "no such host", IsNotFound: true}, attempt: 0, want: false},
		{name: "dns timeout", err: &net.DNSError{Err: "timeout", IsTimeout: true}, attempt: 0, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := range 8 {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Equal(t, 5, p.MaxAttempts())
}
