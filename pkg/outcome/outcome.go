package outcome

import (
	"fmt"
	"time"
)

// Kind classifies the result of one remote call. Every remote-call
// adapter must map its raw response into exactly one of these values
// before the engine sees it.
type Kind int

const (
	// Success means the call completed and produced a usable payload
	Success Kind = iota
	// RateLimited means the server rejected the call for quota reasons
	RateLimited
	// TransientNetworkError covers timeouts, resets, and ambiguous
	// responses that are worth retrying
	TransientNetworkError
	// PermanentError covers auth failures, malformed requests and
	// not-found responses; retrying cannot help
	PermanentError
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate-limited"
	case TransientNetworkError:
		return "transient-network-error"
	case PermanentError:
		return "permanent-error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether the kind is eligible for automatic retry
func (k Kind) Retryable() bool {
	return k == RateLimited || k == TransientNetworkError
}

// Outcome is the closed tagged-variant result of one remote call
type Outcome struct {
	Kind    Kind
	Payload any
	Err     error

	// RetryAfter is a server-provided throttle hint, zero when absent
	RetryAfter time.Duration
}

// Ok returns a Success outcome carrying the given payload
func Ok(payload any) Outcome {
	return Outcome{Kind: Success, Payload: payload}
}

// Throttled returns a RateLimited outcome with an optional server hint
func Throttled(retryAfter time.Duration, err error) Outcome {
	return Outcome{Kind: RateLimited, RetryAfter: retryAfter, Err: err}
}

// Transient returns a TransientNetworkError outcome
func Transient(err error) Outcome {
	return Outcome{Kind: TransientNetworkError, Err: err}
}

// Permanent returns a PermanentError outcome
func Permanent(err error) Outcome {
	return Outcome{Kind: PermanentError, Err: err}
}

// Retryable reports whether the outcome is eligible for automatic retry
func (o Outcome) Retryable() bool {
	return o.Kind.Retryable()
}

// Reason returns a short description of a non-success outcome
func (o Outcome) Reason() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %s", o.Kind, o.Err.Error())
	}
	return o.Kind.String()
}
