package runner

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
)

type releaseStep struct {
	name    string
	release func() error
}

// teardownStack records releases as resources are acquired and runs them in
// reverse order. Every step runs even if an earlier one fails or panics.
type teardownStack struct {
	log   log.Logger
	mu    sync.Mutex
	steps []releaseStep
	done  bool
}

func newTeardownStack(logger log.Logger) *teardownStack {
	return &teardownStack{log: logger}
}

// push registers a release. Pushing after unwind runs the release immediately.
func (t *teardownStack) push(name string, release func() error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		t.log.Warn("Resource acquired after teardown, releasing now", "resource", name)
		_ = runStep(releaseStep{name: name, release: release})
		return
	}
	t.steps = append(t.steps, releaseStep{name: name, release: release})
	t.mu.Unlock()
}

// unwind releases everything in reverse order and aggregates the failures.
// Only the first call does any work.
func (t *teardownStack) unwind() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	steps := t.steps
	t.steps = nil
	t.mu.Unlock()

	t.log.Info("Tearing down", "resources", len(steps))

	var errs *multierror.Error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := runStep(step); err != nil {
			t.log.Error("Release failed", "resource", step.name, "err", err)
			errs = multierror.Append(errs, fmt.Errorf("release %s: %w", step.name, err))
			continue
		}
		t.log.Debug("Released", "resource", step.name)
	}
	return errs.ErrorOrNil()
}

func runStep(step releaseStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.release()
}
