package pacing

import (
	"math"
	"sync"
	"time"

	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/outcome"
)

const (
	// DefaultGain is the smoothing factor substituted whenever a
	// stored or configured gain fails validation
	DefaultGain = 0.3

	// DefaultFloor and DefaultCeiling bound the per-class delay
	DefaultFloor   = 100 * time.Millisecond
	DefaultCeiling = 30 * time.Second

	// rateLimitMultiplier is applied on a quota-exceeded outcome
	rateLimitMultiplier = 2.0
	// transientMultiplier is the moderate increase for network errors
	transientMultiplier = 1.5

	// historyLimit bounds the rolling outcome history per class
	historyLimit = 50
)

// Record is one entry in a class's rolling outcome history
type Record struct {
	Kind           string  `json:"kind"`
	LatencySeconds float64 `json:"latency_seconds"`
	Timestamp      int64   `json:"timestamp"`
}

// DelayState is the persistable pacing state for one operation class
type DelayState struct {
	DelaySeconds float64   `json:"delay_seconds"`
	Gain         float64   `json:"gain"`
	History      []Record  `json:"history,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// classState holds live pacing state for one class under its own lock
// so no single global lock serializes calls across classes
type classState struct {
	mu        sync.Mutex
	delay     float64 // seconds, bounded [floor, ceiling]
	gain      float64
	history   []Record
	updatedAt time.Time
}

// Controller is a damped feedback controller computing the pacing wait
// before the next call of a given operation class. Success nudges the
// delay down toward the floor by the gain factor; rate limiting doubles
// it up to the ceiling; transient network errors apply a moderate
// increase. Classes are created on first use.
type Controller struct {
	floor       float64 // seconds
	ceiling     float64 // seconds
	defaultGain float64
	initial     float64 // seconds, starting delay for a new class

	mu      sync.RWMutex // guards the classes map, not the states
	classes map[string]*classState

	logger *logging.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithBounds sets the delay floor and ceiling
func WithBounds(floor, ceiling time.Duration) Option {
	return func(c *Controller) {
		c.floor = floor.Seconds()
		c.ceiling = ceiling.Seconds()
	}
}

// WithGain sets the default gain factor for new classes
func WithGain(gain float64) Option {
	return func(c *Controller) {
		c.defaultGain = gain
	}
}

// WithInitialDelay sets the starting delay for classes with no history
func WithInitialDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.initial = d.Seconds()
	}
}

// WithLogger sets the controller's logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a pacing controller with the given options
func NewController(opts ...Option) *Controller {
	c := &Controller{
		floor:       DefaultFloor.Seconds(),
		ceiling:     DefaultCeiling.Seconds(),
		defaultGain: DefaultGain,
		initial:     1.0,
		classes:     make(map[string]*classState),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger).WithComponent("pacing")

	if c.floor <= 0 {
		c.floor = DefaultFloor.Seconds()
	}
	if c.ceiling < c.floor {
		c.ceiling = DefaultCeiling.Seconds()
	}
	c.defaultGain = sanitizeGain(c.defaultGain, nil, "")
	if c.initial < c.floor {
		c.initial = c.floor
	}
	if c.initial > c.ceiling {
		c.initial = c.ceiling
	}
	return c
}

// NextDelay returns the pacing wait to apply before the next call of
// the given class
func (c *Controller) NextDelay(class string) time.Duration {
	st := c.state(class)
	st.mu.Lock()
	defer st.mu.Unlock()
	return secondsToDuration(c.clamp(st.delay))
}

// RecordOutcome feeds one call result back into the class's delay state
func (c *Controller) RecordOutcome(class string, latency time.Duration, kind outcome.Kind) {
	st := c.state(class)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Revalidate the gain before every arithmetic use; one corrupted
	// value must not poison all future pacing for the class
	st.gain = sanitizeGain(st.gain, c.logger, class)

	switch kind {
	case outcome.Success:
		st.delay -= st.gain * (st.delay - c.floor)
	case outcome.RateLimited:
		st.delay *= rateLimitMultiplier
	case outcome.TransientNetworkError:
		st.delay *= transientMultiplier
	case outcome.PermanentError:
		// Permanent failures say nothing about pacing
	}
	st.delay = c.clamp(st.delay)

	st.history = append(st.history, Record{
		Kind:           kind.String(),
		LatencySeconds: latency.Seconds(),
		Timestamp:      time.Now().Unix(),
	})
	if len(st.history) > historyLimit {
		st.history = st.history[len(st.history)-historyLimit:]
	}
	st.updatedAt = time.Now()
}

// Seed loads persisted delay states, typically from the metrics store
// at startup. Invalid values are repaired rather than propagated.
func (c *Controller) Seed(states map[string]DelayState) {
	for class, ds := range states {
		st := c.state(class)
		st.mu.Lock()
		st.gain = sanitizeGain(ds.Gain, c.logger, class)
		st.delay = c.clamp(sanitizeDelay(ds.DelaySeconds, c.initial))
		if len(ds.History) > historyLimit {
			ds.History = ds.History[len(ds.History)-historyLimit:]
		}
		st.history = append([]Record(nil), ds.History...)
		st.updatedAt = ds.UpdatedAt
		st.mu.Unlock()
	}
}

// Snapshot returns a copy of every class's delay state for persistence
func (c *Controller) Snapshot() map[string]DelayState {
	c.mu.RLock()
	classes := make(map[string]*classState, len(c.classes))
	for name, st := range c.classes {
		classes[name] = st
	}
	c.mu.RUnlock()

	snapshot := make(map[string]DelayState, len(classes))
	for name, st := range classes {
		st.mu.Lock()
		snapshot[name] = DelayState{
			DelaySeconds: st.delay,
			Gain:         st.gain,
			History:      append([]Record(nil), st.history...),
			UpdatedAt:    st.updatedAt,
		}
		st.mu.Unlock()
	}
	return snapshot
}

// state returns the class's live state, creating it on first use
func (c *Controller) state(class string) *classState {
	c.mu.RLock()
	st, ok := c.classes[class]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.classes[class]; ok {
		return st
	}
	st = &classState{
		delay:     c.initial,
		gain:      c.defaultGain,
		updatedAt: time.Now(),
	}
	c.classes[class] = st
	return st
}

func (c *Controller) clamp(delay float64) float64 {
	if math.IsNaN(delay) || math.IsInf(delay, 0) {
		return c.floor
	}
	if delay < c.floor {
		return c.floor
	}
	if delay > c.ceiling {
		return c.ceiling
	}
	return delay
}

// sanitizeGain validates a gain factor: it must be finite and strictly
// inside (0,1). Anything else is replaced by DefaultGain so a corrupted
// persisted value is repaired instead of propagated.
func sanitizeGain(gain float64, logger *logging.Logger, class string) float64 {
	if math.IsNaN(gain) || math.IsInf(gain, 0) || gain <= 0 || gain >= 1 {
		if logger != nil {
			logger.Warn("invalid gain factor repaired",
				"class", class, "gain", gain, "default", DefaultGain)
		}
		return DefaultGain
	}
	return gain
}

func sanitizeDelay(delay, fallback float64) float64 {
	if math.IsNaN(delay) || math.IsInf(delay, 0) || delay <= 0 {
		return fallback
	}
	return delay
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
