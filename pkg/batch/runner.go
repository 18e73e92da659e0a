package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelops/pacer/pkg/credpool"
	"github.com/kestrelops/pacer/pkg/executor"
	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/outcome"
)

// Item is one unit of batch work: an identifier, the operation class
// that scopes its pacing, and an opaque input for the worker
type Item struct {
	ID    string
	Class string
	Input any
}

// ItemResult pairs an item with its final post-retry result
type ItemResult struct {
	Item     Item
	Attempts int
	Payload  any
	Failure  *executor.Failure
}

// BatchResult reports every completed item, split by final status.
// One item's failure never aborts its siblings.
type BatchResult struct {
	Succeeded []ItemResult
	Failed    []ItemResult
}

// Summary returns a one-line description of the batch outcome
func (r *BatchResult) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
}

// Worker performs the remote call for one item and maps the raw
// response into the closed outcome set
type Worker func(ctx context.Context, item Item, cred *credpool.Credential) outcome.Outcome

// collector accumulates results the moment each item finishes, so an
// interruption still yields every already-completed result. Results are
// never held only in worker-local state.
type collector struct {
	mu        sync.Mutex
	succeeded []ItemResult
	failed    []ItemResult
}

func (c *collector) add(res ItemResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Failure == nil {
		c.succeeded = append(c.succeeded, res)
	} else {
		c.failed = append(c.failed, res)
	}
}

func (c *collector) snapshot() *BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &BatchResult{
		Succeeded: append([]ItemResult(nil), c.succeeded...),
		Failed:    append([]ItemResult(nil), c.failed...),
	}
}

func (c *collector) done() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.succeeded) + len(c.failed)
}

// Runner fans work items across concurrent call executors. Concurrency
// is bounded by the executor's admission gate; the runner merely sizes
// its worker loop to match the ceiling.
type Runner struct {
	Executor *executor.Executor
	Logger   *logging.Logger
	Progress *Progress
}

// NewRunner creates a batch runner over the given executor
func NewRunner(exec *executor.Executor, logger *logging.Logger) *Runner {
	l := logging.OrDiscard(logger).WithComponent("batch")
	return &Runner{
		Executor: exec,
		Logger:   l,
		Progress: NewProgress(l),
	}
}

// RunAll executes every item through the governed call executor and
// returns all accumulated results. Cancellation is cooperative: no new
// items are launched, in-flight items finish, and every result
// collected so far is returned.
func (r *Runner) RunAll(ctx context.Context, items []Item, worker Worker) *BatchResult {
	results := &collector{}
	if len(items) == 0 {
		return results.snapshot()
	}

	queue := make(chan Item)
	var wg sync.WaitGroup

	workers := r.Executor.Gate.Ceiling()
	if workers > len(items) {
		workers = len(items)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				r.runItem(ctx, item, worker, results)
				if r.Progress != nil {
					r.Progress.Completed(results.done(), len(items))
				}
			}
		}()
	}

	// Feed items until done or canceled; cancellation stops launching
	// without discarding anything already collected
feed:
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		select {
		case queue <- item:
		case <-ctx.Done():
			r.Logger.Warn("batch canceled, draining in-flight items",
				"completed", results.done(), "total", len(items))
			break feed
		}
	}
	close(queue)
	wg.Wait()

	if r.Progress != nil {
		r.Progress.Final(results.done(), len(items))
	}
	return results.snapshot()
}

// runItem executes one item, converting any worker panic that escapes
// the executor into a Failed entry instead of tearing down the batch
func (r *Runner) runItem(ctx context.Context, item Item, worker Worker, results *collector) {
	defer func() {
		if rec := recover(); rec != nil {
			results.add(ItemResult{
				Item: item,
				Failure: &executor.Failure{
					Kind:      outcome.PermanentError,
					Message:   fmt.Sprintf("worker panicked: %v", rec),
					Retryable: false,
				},
			})
		}
	}()

	res := r.Executor.Execute(ctx, item.Class, func(ctx context.Context, cred *credpool.Credential) outcome.Outcome {
		return worker(ctx, item, cred)
	})

	results.add(ItemResult{
		Item:     item,
		Attempts: res.Attempts,
		Payload:  res.Payload,
		Failure:  res.Failure,
	})
}
