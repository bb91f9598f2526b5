package publish

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
)

// Cleanup is a stack of undo steps for a publish run. Steps registered with
// Always run after every run; steps registered with OnFailure run only when
// the run failed. Steps run in reverse registration order.
type Cleanup struct {
	logger *log.Logger

	mu    sync.Mutex
	steps []cleanupStep
}

type cleanupStep struct {
	name      string
	onFailure bool
	fn        func(context.Context) error
}

// NewCleanup returns an empty cleanup stack.
func NewCleanup(logger *log.Logger) *Cleanup {
	if logger == nil {
		logger = log.Default()
	}
	return &Cleanup{logger: logger}
}

// Always registers a step that runs regardless of the outcome.
func (c *Cleanup) Always(name string, fn func(context.Context) error) {
	c.push(cleanupStep{name: name, fn: fn})
}

// OnFailure registers a step that runs only after a failure.
func (c *Cleanup) OnFailure(name string, fn func(context.Context) error) {
	c.push(cleanupStep{name: name, onFailure: true, fn: fn})
}

func (c *Cleanup) push(s cleanupStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, s)
}

// Run executes the registered steps and returns cause unchanged. Step
// failures are logged. Steps run on a context detached from ctx's
// cancellation so an interrupted run still cleans up.
func (c *Cleanup) Run(ctx context.Context, cause error) error {
	c.mu.Lock()
	steps := slices.Clone(c.steps)
	c.steps = nil
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs *multierror.Error
	for _, s := range slices.Backward(steps) {
		if s.onFailure && cause == nil {
			continue
		}
		if err := s.fn(ctx); err != nil {
			errs = multierror.Append(errs, err)
			c.logger.Warn("cleanup failed", "step", s.name, "error", err)
		}
	}
	if errs.ErrorOrNil() != nil && cause == nil {
		c.logger.Warn("cleanup finished with errors", "count", errs.Len())
	}
	return cause
}
