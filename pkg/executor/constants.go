package executor

import "time"

const (
	// DefaultMaxAttempts bounds retries of retryable outcomes per call
	DefaultMaxAttempts = 5

	// DefaultTimeout is the per-call timeout when none is configured
	DefaultTimeout = 30 * time.Second

	// credentialSelectAttempts bounds how many times credential
	// selection is retried before the call fails as unavailable
	credentialSelectAttempts = 5

	// credentialSelectWait is the pause between selection attempts
	// while every credential is throttled
	credentialSelectWait = 250 * time.Millisecond

	// backoffBase and backoffCap shape the exponential retry backoff
	backoffBase       = 500 * time.Millisecond
	backoffMultiplier = 2.0
	backoffCap        = 30 * time.Second
)
