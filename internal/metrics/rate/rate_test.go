package rate

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"cryptodash/logger"
)

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{http.StatusTooManyRequests, "", true},
		{http.StatusOK, `{"status":{"error_code":429,"error_message":"You've exceeded the Rate Limit."}}`, true},
		{http.StatusServiceUnavailable, "Throttled", true},
		{http.StatusInternalServerError, "boom", false},
		{http.StatusOK, "[]", false},
	}
	for _, c := range cases {
		if got := IsRateLimited(c.status, c.body); got != c.want {
			t.Errorf("IsRateLimited(%d, %q) = %v, want %v", c.status, c.body, got, c.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if RetryAfter(h) != 0 {
		t.Fatalf("missing header should be zero")
	}
	h.Set("Retry-After", "60")
	if got := RetryAfter(h); got != time.Minute {
		t.Fatalf("unexpected retry after: %s", got)
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if RetryAfter(h) != 0 {
		t.Fatalf("http dates are not supported")
	}
}

func TestReportLimitFromResponse(t *testing.T) {
	log := logger.Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"30"}}}
	if !ReportLimitFromResponse(log, "coingecko", "/coins/markets", resp, "") {
		t.Fatalf("expected rate limit to be reported")
	}
	if !bytes.Contains(buf.Bytes(), []byte("rate limit exceeded")) {
		t.Fatalf("warning not logged: %s", buf.String())
	}

	ok := &http.Response{StatusCode: http.StatusOK}
	if ReportLimitFromResponse(log, "coingecko", "/coins/markets", ok, "[]") {
		t.Fatalf("ok response reported as rate limited")
	}
	if ReportLimitFromResponse(log, "coingecko", "/coins/markets", nil, "") {
		t.Fatalf("nil response reported as rate limited")
	}
}
