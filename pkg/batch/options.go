package batch

import (
	"time"

	"github.com/kestrelops/pacer/pkg/credpool"
	"github.com/kestrelops/pacer/pkg/executor"
	"github.com/kestrelops/pacer/pkg/gate"
	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/pacing"
)

// Options configures a batch run: which concurrency ceiling applies,
// the per-call timeout, and the retry budget per item
type Options struct {
	// Concurrency is the normal-mode admission ceiling
	Concurrency int
	// FastConcurrency is the high-throughput admission ceiling
	FastConcurrency int
	// Fast selects the high-throughput ceiling
	Fast bool
	// Timeout bounds each individual remote call
	Timeout time.Duration
	// MaxAttempts bounds retries of retryable outcomes per item
	MaxAttempts int
}

// Ceiling resolves the admission ceiling for the selected mode
func (o Options) Ceiling() int {
	if o.Fast {
		if o.FastConcurrency > 0 {
			return o.FastConcurrency
		}
		return gate.FastCeiling
	}
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return gate.DefaultCeiling
}

// NewRunnerWithOptions assembles a runner and its call executor from
// run options, a credential pool and a pacing controller
func NewRunnerWithOptions(pool *credpool.Pool, pacer *pacing.Controller, logger *logging.Logger, opts Options) *Runner {
	exec := executor.New(gate.New(opts.Ceiling()), pool, pacer, logger)
	if opts.Timeout > 0 {
		exec.Timeout = opts.Timeout
	}
	if opts.MaxAttempts > 0 {
		exec.MaxAttempts = opts.MaxAttempts
	}
	return NewRunner(exec, logger)
}
