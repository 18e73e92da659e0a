package credpool

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kestrelops/pacer/pkg/logging"
)

// ErrNoneAvailable is returned when every credential in the pool is
// currently throttled. The caller decides whether to wait, fail the
// item, or serialize; the pool itself never blocks.
var ErrNoneAvailable = errors.New("no credential available: all throttled")

// DefaultThrottleDuration is used when the server provides no
// retry-after hint with a quota-exceeded response
const DefaultThrottleDuration = 60 * time.Second

// Credential is one interchangeable API credential with independent
// throttle state. The token itself is opaque to the engine and is only
// ever logged in masked form.
type Credential struct {
	token string

	mu             sync.Mutex
	throttledUntil time.Time // zero = healthy
}

// Token returns the raw credential for use in a remote call
func (c *Credential) Token() string {
	return c.token
}

// Masked returns a display-safe preview of the credential
func (c *Credential) Masked() string {
	return Mask(c.token)
}

// Throttled reports whether the credential is currently throttled
func (c *Credential) Throttled(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.throttledUntil.IsZero() && now.Before(c.throttledUntil)
}

// Mask returns a display-safe preview of a secret: the first four
// runes followed by a fixed-width mask. Short secrets are fully masked.
func Mask(token string) string {
	const visible = 4
	runes := []rune(token)
	if len(runes) <= visible {
		return strings.Repeat("*", 8)
	}
	return string(runes[:visible]) + "****"
}

// Pool selects an eligible credential per call, rotating round-robin
// among credentials whose throttled-until has passed
type Pool struct {
	mu              sync.Mutex
	creds           []*Credential
	next            int
	defaultThrottle time.Duration
	now             func() time.Time

	logger *logging.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithDefaultThrottle sets the throttle duration applied when the
// server provides no hint
func WithDefaultThrottle(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.defaultThrottle = d
		}
	}
}

// WithLogger sets the pool's logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// withClock overrides the pool's clock; used by tests
func withClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// NewPool creates a credential pool from raw tokens. Empty tokens are
// dropped; an empty pool is legal but Acquire always fails.
func NewPool(tokens []string, opts ...Option) *Pool {
	p := &Pool{
		defaultThrottle: DefaultThrottleDuration,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger).WithComponent("credpool")

	for _, token := range tokens {
		if strings.TrimSpace(token) == "" {
			continue
		}
		p.creds = append(p.creds, &Credential{token: token})
	}
	return p
}

// Size returns the number of credentials in the pool
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Acquire returns the next eligible credential in round-robin order,
// or ErrNoneAvailable when every credential is throttled
func (p *Pool) Acquire() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.creds); i++ {
		cred := p.creds[p.next%len(p.creds)]
		p.next = (p.next + 1) % len(p.creds)
		if !cred.Throttled(now) {
			return cred, nil
		}
	}
	return nil, ErrNoneAvailable
}

// AcquirePreferring behaves like Acquire but skips the given credential
// when any other eligible credential exists. Used by retry paths that
// want to rotate away from a credential that just got throttled.
func (p *Pool) AcquirePreferring(avoid *Credential) (*Credential, error) {
	first, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	if first != avoid {
		return first, nil
	}

	second, err := p.Acquire()
	if err != nil || second == avoid {
		// avoid is the only eligible credential; use it anyway
		return first, nil
	}
	return second, nil
}

// MarkThrottled records a quota-exceeded outcome for the credential.
// The throttle duration derives from the server hint when present,
// otherwise the pool's default.
func (p *Pool) MarkThrottled(cred *Credential, retryAfter time.Duration) {
	if cred == nil {
		return
	}
	if retryAfter <= 0 {
		retryAfter = p.defaultThrottle
	}
	until := p.now().Add(retryAfter)

	cred.mu.Lock()
	cred.throttledUntil = until
	cred.mu.Unlock()

	p.logger.Info("credential throttled",
		"credential", cred.Masked(),
		"retry_after", retryAfter.String())
}

// MarkHealthy clears any throttle state after a successful call
func (p *Pool) MarkHealthy(cred *Credential) {
	if cred == nil {
		return
	}
	cred.mu.Lock()
	wasThrottled := !cred.throttledUntil.IsZero()
	cred.throttledUntil = time.Time{}
	cred.mu.Unlock()

	if wasThrottled {
		p.logger.Debug("credential healthy again", "credential", cred.Masked())
	}
}

// EligibleCount returns how many credentials are currently usable
func (p *Pool) EligibleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	count := 0
	for _, cred := range p.creds {
		if !cred.Throttled(now) {
			count++
		}
	}
	return count
}
