package outcome

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKind_Retryable(t *testing.T) {
	assert.False(t, Success.Retryable())
	assert.True(t, RateLimited.Retryable())
	assert.True(t, TransientNetworkError.Retryable())
	assert.False(t, PermanentError.Retryable())
}

func TestFromHTTPStatus_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   Kind
	}{
		{"ok", 200, Success},
		{"created", 201, Success},
		{"too many requests", 429, RateLimited},
		{"request timeout", 408, TransientNetworkError},
		{"unauthorized", 401, PermanentError},
		{"forbidden", 403, PermanentError},
		{"not found", 404, PermanentError},
		{"bad request", 400, PermanentError},
		{"server error", 500, TransientNetworkError},
		{"bad gateway", 502, TransientNetworkError},
		{"service unavailable", 503, TransientNetworkError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := FromHTTPStatus(tc.status, nil, errors.New("boom"))
			assert.Equal(t, tc.want, out.Kind)
		})
	}
}

func TestFromHTTPStatus_UnrecognizedStatusIsTransient(t *testing.T) {
	// Given response shapes the engine does not recognize
	for _, status := range []int{0, -1, 99, 310, 418, 451, 999} {
		// Then classification is defensive: transient, never a crash
		out := FromHTTPStatus(status, nil, nil)
		assert.Equal(t, TransientNetworkError, out.Kind, "status %d", status)
	}
}

func TestFromHTTPStatus_RateLimitCarriesRetryAfterHint(t *testing.T) {
	// Given a 429 with an integer Retry-After header
	header := http.Header{}
	header.Set("Retry-After", "42")

	// When classified
	out := FromHTTPStatus(429, header, nil)

	// Then the hint rides along with the outcome
	assert.Equal(t, RateLimited, out.Kind)
	assert.Equal(t, 42*time.Second, out.RetryAfter)
}

func TestParseRetryAfter_Forms(t *testing.T) {
	// Integer seconds
	h := http.Header{}
	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, ParseRetryAfter(h))

	// HTTP-date in the future
	h = http.Header{}
	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	got := ParseRetryAfter(h)
	assert.InDelta(t, 90, got.Seconds(), 3)

	// X-RateLimit-Reset as a Unix timestamp
	h = http.Header{}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
	got = ParseRetryAfter(h)
	assert.InDelta(t, 60, got.Seconds(), 3)

	// No headers at all
	assert.Equal(t, time.Duration(0), ParseRetryAfter(nil))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(http.Header{}))

	// Negative and garbage values yield no hint
	h = http.Header{}
	h.Set("Retry-After", "-5")
	assert.Equal(t, time.Duration(0), ParseRetryAfter(h))
	h.Set("Retry-After", "soon")
	assert.Equal(t, time.Duration(0), ParseRetryAfter(h))
}

func TestParseRetryAfter_HintIsCapped(t *testing.T) {
	// Given an absurd server hint
	h := http.Header{}
	h.Set("Retry-After", "999999")

	// Then the hint is capped to a sane maximum
	assert.Equal(t, maxRetryAfter, ParseRetryAfter(h))
}

func TestFromError_Classification(t *testing.T) {
	// Timeouts and cancellation are transient
	assert.Equal(t, TransientNetworkError, FromError(context.DeadlineExceeded).Kind)
	assert.Equal(t, TransientNetworkError, FromError(context.Canceled).Kind)

	// Connection-level failures are transient
	assert.Equal(t, TransientNetworkError, FromError(errors.New("read tcp: connection reset by peer")).Kind)
	assert.Equal(t, TransientNetworkError, FromError(errors.New("dial tcp: connection refused")).Kind)

	// Unknown errors default to transient, never a crash
	assert.Equal(t, TransientNetworkError, FromError(errors.New("weird upstream response")).Kind)

	// No error means success
	assert.Equal(t, Success, FromError(nil).Kind)
}

func TestOutcome_Reason(t *testing.T) {
	assert.Equal(t, "permanent-error: auth failed", Permanent(errors.New("auth failed")).Reason())
	assert.Equal(t, "rate-limited", Throttled(0, nil).Reason())
}

func TestConstructors(t *testing.T) {
	ok := Ok("payload")
	assert.Equal(t, Success, ok.Kind)
	assert.Equal(t, "payload", ok.Payload)

	throttled := Throttled(5*time.Second, errors.New("quota"))
	assert.Equal(t, RateLimited, throttled.Kind)
	assert.Equal(t, 5*time.Second, throttled.RetryAfter)
	assert.True(t, throttled.Retryable())
}
