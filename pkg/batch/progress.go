package batch

import (
	"sync"
	"time"

	"github.com/kestrelops/pacer/pkg/logging"
)

const (
	// DefaultEveryN reports progress every N completed items
	DefaultEveryN = 25
	// DefaultInterval reports progress at least this often while items
	// are completing, even when fewer than EveryN have finished
	DefaultInterval = 10 * time.Second
)

// Progress emits coarse-grained batch progress: every N items or every
// interval, whichever comes first. Per-item reporting is deliberately
// not offered; large batches would drown the log.
type Progress struct {
	EveryN   int
	Interval time.Duration

	logger *logging.Logger

	mu           sync.Mutex
	lastReported int
	lastTime     time.Time
}

// NewProgress creates a progress reporter with default granularity
func NewProgress(logger *logging.Logger) *Progress {
	return &Progress{
		EveryN:   DefaultEveryN,
		Interval: DefaultInterval,
		logger:   logging.OrDiscard(logger),
		lastTime: time.Now(),
	}
}

// Completed records that done of total items have finished and emits a
// progress line when a reporting threshold has been crossed
func (p *Progress) Completed(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	everyN := p.EveryN
	if everyN <= 0 {
		everyN = DefaultEveryN
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	if done-p.lastReported < everyN && time.Since(p.lastTime) < interval {
		return
	}
	p.lastReported = done
	p.lastTime = time.Now()
	p.logger.Info("batch progress", "completed", done, "total", total)
}

// Final emits the closing progress line for a batch
func (p *Progress) Final(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReported = done
	p.lastTime = time.Now()
	p.logger.Info("batch finished", "completed", done, "total", total)
}
