package crawler

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyResponse(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("connection reset")
	tests := []struct {
		name      string
		resp      FetchResponse
		err       error
		want      ErrorKind
		retryable bool
	}{
		{name: "ok", resp: FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html></html>")}, want: ErrorKindNone},
		{name: "transport error", resp: FetchResponse{}, err: transportErr, want: ErrorKindTransport},
		{name: "rate limited", resp: FetchResponse{StatusCode: http.StatusTooManyRequests}, want: ErrorKindRateLimited, retryable: true},
		{name: "blocked 999", resp: FetchResponse{StatusCode: StatusBlocked}, want: ErrorKindBlocked, retryable: true},
		{name: "forbidden", resp: FetchResponse{StatusCode: http.StatusForbidden}, want: ErrorKindBlocked, retryable: true},
		{name: "not found", resp: FetchResponse{StatusCode: http.StatusNotFound}, want: ErrorKindNotFound},
		{name: "gone", resp: FetchResponse{StatusCode: http.StatusGone}, want: ErrorKindNotFound},
		{name: "empty body", resp: FetchResponse{StatusCode: http.StatusOK}, want: ErrorKindTransport},
		{name: "server error", resp: FetchResponse{StatusCode: http.StatusBadGateway}, want: ErrorKindTransport},
		{
			name: "authwall redirect",
			resp: FetchResponse{URL: "https://example.com/authwall?trk=x", StatusCode: http.StatusOK, Body: []byte("<html/>")},
			want: ErrorKindBlocked, retryable: true,
		},
		{
			name: "challenge marker",
			resp: FetchResponse{StatusCode: http.StatusOK, Body: []byte(`<form action="/checkpoint/challenge">`)},
			want: ErrorKindBlocked, retryable: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyResponse(tt.resp, tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.want == ErrorKindNone, got.OK())
			assert.Equal(t, tt.retryable, got.Retryable())
		})
	}
}

func TestClassifyResponseIgnoresMarkersPastHead(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", 5000) + "captcha-internal"
	got := ClassifyResponse(FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}, nil)
	assert.True(t, got.OK())
}

func TestOutcomeErrorWrapsTransport(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: timeout")
	out := ClassifyResponse(FetchResponse{StatusCode: 0}, cause)
	require.ErrorIs(t, out, cause)
	assert.Contains(t, out.Error(), "transport")
	assert.Equal(t, "rate_limited (status 429)", Outcome{Kind: ErrorKindRateLimited, Status: 429}.Error())
}

func TestKindPriorityAndLabels(t *testing.T) {
	t.Parallel()

	assert.Greater(t, KindListing.Priority(), KindDetail.Priority())
	assert.Equal(t, "listing", KindListing.String())
	assert.Equal(t, "detail", KindDetail.String())
	assert.Equal(t, "unknown", Kind(7).String())
	assert.Equal(t, "unknown", ErrorKind(42).String())
}

func TestNotificationKeyAndAttributes(t *testing.T) {
	t.Parallel()

	rec := Notification{Event: NotifyRecord, RunID: "run-1", AdID: "9", CreativeType: "VIDEO"}
	assert.Equal(t, "9", rec.Key())
	assert.Equal(t, map[string]string{
		"event": "record", "run_id": "run-1", "ad_id": "9", "creative_type": "VIDEO",
	}, rec.Attributes())

	cp := Notification{Event: NotifyCheckpoint, RunID: "run-1"}
	assert.Equal(t, "run-1", cp.Key())
	assert.Equal(t, map[string]string{"event": "checkpoint", "run_id": "run-1"}, cp.Attributes())
}
