package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kestrelops/pacer/pkg/credpool"
	"github.com/kestrelops/pacer/pkg/gate"
	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/outcome"
	"github.com/kestrelops/pacer/pkg/pacing"
)

// Call performs one remote invocation using the selected credential and
// maps its raw response into the closed outcome set. The engine never
// inspects payloads; adapters own that mapping.
type Call func(ctx context.Context, cred *credpool.Credential) outcome.Outcome

// Failure describes why a call ultimately failed
type Failure struct {
	Kind      outcome.Kind
	Message   string
	Retryable bool
}

// Result is the final, post-retry outcome of one governed call.
// Retryable errors are absorbed inside the executor up to the retry
// ceiling; callers only ever see the final result.
type Result struct {
	Success  bool
	Attempts int
	Payload  any
	Failure  *Failure
}

// Executor orchestrates one logical call: admission slot, credential
// selection, pacing wait, invocation, outcome classification, feedback
// into the pacing controller and credential pool, and bounded retries
// with exponential backoff.
type Executor struct {
	MaxAttempts int
	Timeout     time.Duration

	Gate  *gate.Gate
	Pool  *credpool.Pool
	Pacer *pacing.Controller

	Logger *logging.Logger
}

// New creates an executor wired to the given gate, pool and controller
func New(g *gate.Gate, pool *credpool.Pool, pacer *pacing.Controller, logger *logging.Logger) *Executor {
	return &Executor{
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
		Gate:        g,
		Pool:        pool,
		Pacer:       pacer,
		Logger:      logging.OrDiscard(logger).WithComponent("executor"),
	}
}

// Execute runs one governed call for the given operation class. It is
// the single-call path; batch fan-out lives in the batch runner.
func (e *Executor) Execute(ctx context.Context, class string, call Call) *Result {
	permit, err := e.Gate.Acquire(ctx)
	if err != nil {
		return canceledResult(0, err)
	}
	defer permit.Release()

	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var avoid *credpool.Credential
	var lastFailure *Failure

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := e.selectCredential(ctx, avoid)
		if err != nil {
			if errors.Is(err, credpool.ErrNoneAvailable) {
				return &Result{
					Attempts: attempt,
					Failure: &Failure{
						Kind:      outcome.RateLimited,
						Message:   "no credential available",
						Retryable: true,
					},
				}
			}
			return canceledResult(attempt, err)
		}

		// Pacing wait before the call, per the class's delay state
		if err := sleepCtx(ctx, e.Pacer.NextDelay(class)); err != nil {
			return canceledResult(attempt, err)
		}

		out, latency := e.invoke(ctx, cred, call)
		e.Pacer.RecordOutcome(class, latency, out.Kind)

		switch out.Kind {
		case outcome.Success:
			e.Pool.MarkHealthy(cred)
			return &Result{
				Success:  true,
				Attempts: attempt,
				Payload:  out.Payload,
			}

		case outcome.RateLimited:
			e.Pool.MarkThrottled(cred, out.RetryAfter)
			e.Logger.Info("call rate limited",
				"class", class,
				"attempt", attempt,
				"credential", cred.Masked(),
				"retry_after", out.RetryAfter.String())

		case outcome.TransientNetworkError:
			e.Logger.Debug("transient call failure",
				"class", class,
				"attempt", attempt,
				"reason", out.Reason())

		case outcome.PermanentError:
			// Not retryable; surface immediately
			return &Result{
				Attempts: attempt,
				Failure: &Failure{
					Kind:      outcome.PermanentError,
					Message:   out.Reason(),
					Retryable: false,
				},
			}
		}

		lastFailure = &Failure{
			Kind:      out.Kind,
			Message:   out.Reason(),
			Retryable: true,
		}

		if attempt == maxAttempts {
			break
		}

		// Prefer a different credential on the next attempt
		avoid = cred

		if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
			return canceledResult(attempt, err)
		}
	}

	if lastFailure == nil {
		lastFailure = &Failure{
			Kind:      outcome.TransientNetworkError,
			Message:   "retries exhausted",
			Retryable: true,
		}
	}
	lastFailure.Message = fmt.Sprintf("max retries reached (%s)", lastFailure.Message)
	return &Result{
		Attempts: maxAttempts,
		Failure:  lastFailure,
	}
}

// selectCredential retries pool acquisition a bounded number of times,
// pausing briefly while every credential is throttled
func (e *Executor) selectCredential(ctx context.Context, avoid *credpool.Credential) (*credpool.Credential, error) {
	for try := 1; try <= credentialSelectAttempts; try++ {
		var cred *credpool.Credential
		var err error
		if avoid != nil {
			cred, err = e.Pool.AcquirePreferring(avoid)
		} else {
			cred, err = e.Pool.Acquire()
		}
		if err == nil {
			return cred, nil
		}
		if try == credentialSelectAttempts {
			return nil, err
		}
		if err := sleepCtx(ctx, credentialSelectWait); err != nil {
			return nil, err
		}
	}
	return nil, credpool.ErrNoneAvailable
}

// invoke runs the call with the per-call timeout and defensively
// normalizes its outcome: a panic or an expired deadline classifies as
// a transient network error, never a crash.
func (e *Executor) invoke(ctx context.Context, cred *credpool.Credential, call Call) (out outcome.Outcome, latency time.Duration) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		latency = time.Since(start)
		if r := recover(); r != nil {
			e.Logger.Warn("call adapter panicked", "panic", fmt.Sprint(r))
			out = outcome.Transient(fmt.Errorf("call panicked: %v", r))
		}
		if callCtx.Err() == context.DeadlineExceeded && out.Kind == outcome.Success {
			out = outcome.Transient(context.DeadlineExceeded)
		}
	}()

	out = call(callCtx, cred)
	return
}

// backoffDelay returns the exponential wait before retry attempt+1
func backoffDelay(attempt int) time.Duration {
	delay := float64(backoffBase) * math.Pow(backoffMultiplier, float64(attempt-1))
	if delay > float64(backoffCap) {
		return backoffCap
	}
	return time.Duration(delay)
}

// sleepCtx waits for d or until the context is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// canceledResult wraps a context error as a non-retryable failure so
// cancellation stops work without masquerading as an application error
func canceledResult(attempts int, err error) *Result {
	return &Result{
		Attempts: attempts,
		Failure: &Failure{
			Kind:      outcome.TransientNetworkError,
			Message:   err.Error(),
			Retryable: false,
		},
	}
}
