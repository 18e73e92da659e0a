package outcome

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter caps server-provided throttle hints so a misbehaving
// response cannot stall a credential for hours
const maxRetryAfter = 30 * time.Minute

// FromHTTPStatus classifies an HTTP status code and response headers
// into an outcome. Classification is defensive: any status the engine
// does not recognize is treated as transient, never a crash.
func FromHTTPStatus(status int, header http.Header, err error) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Outcome{Kind: Success}
	case status == http.StatusTooManyRequests:
		return Throttled(ParseRetryAfter(header), err)
	case status == http.StatusRequestTimeout:
		return Transient(err)
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusBadRequest,
		status == http.StatusMethodNotAllowed,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return Permanent(err)
	case status >= 500 && status < 600:
		return Transient(err)
	default:
		// Unrecognized response shape: retryable, not fatal
		return Transient(err)
	}
}

// FromError classifies a transport-level error into an outcome.
// Timeouts and cancellation map to transient; an unknown error is
// also transient so a malformed upstream response never crashes a run.
func FromError(err error) Outcome {
	if err == nil {
		return Outcome{Kind: Success}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	if errors.Is(err, context.Canceled) {
		return Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe") {
		return Transient(err)
	}

	return Transient(err)
}

// ParseRetryAfter extracts a throttle hint from a Retry-After or
// X-RateLimit-Reset header. Returns zero when no usable hint exists.
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}

	// Integer seconds form of Retry-After
	if raw := strings.TrimSpace(header.Get("Retry-After")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return capHint(time.Duration(seconds) * time.Second)
		}
		// HTTP-date form
		if t, err := http.ParseTime(raw); err == nil {
			if d := time.Until(t); d > 0 {
				return capHint(d)
			}
		}
	}

	// X-RateLimit-Reset as a Unix timestamp
	if raw := strings.TrimSpace(header.Get("X-RateLimit-Reset")); raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil && ts > 0 {
			if d := time.Until(time.Unix(ts, 0)); d > 0 {
				return capHint(d)
			}
		}
	}

	return 0
}

func capHint(d time.Duration) time.Duration {
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
