package rate

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"cryptodash/logger"
)

// ReportRateLimitExceeded records a rate limit rejection from an upstream
// source and logs it at warn level.
func ReportRateLimitExceeded(log *logger.Log, source, endpoint string, retryAfter time.Duration) {
	component := strings.ToLower(source) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"source":   strings.ToLower(source),
		"endpoint": endpoint,
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)

	if retryAfter > 0 {
		fields["retry_after"] = retryAfter.String()
	}
	l.WithFields(fields).Warn("rate limit exceeded")
}

// IsRateLimited inspects a response status and body for the signals public
// market APIs use when throttling callers.
func IsRateLimited(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "throttled")
}

// RetryAfter parses a Retry-After header given in seconds. Zero is returned
// when the header is missing or not numeric.
func RetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ReportLimitFromResponse records a rate limit event when the response
// signals one and reports whether it did.
func ReportLimitFromResponse(log *logger.Log, source, endpoint string, resp *http.Response, body string) bool {
	if resp == nil || !IsRateLimited(resp.StatusCode, body) {
		return false
	}
	ReportRateLimitExceeded(log, source, endpoint, RetryAfter(resp.Header))
	return true
}
