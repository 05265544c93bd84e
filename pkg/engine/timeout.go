package engine

import (
	"context"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
)

// DefaultTimeout is the hard limit for a single compilation.
const DefaultTimeout = 5 * time.Second

// waitWithTimeout waits for a result from ch, but gives up when budget
// expires or parent is cancelled.
//
// On timeout the evaluation goroutine may still be running; its buffered
// send completes later and the value is dropped. The interpreter checks the
// cancelled context on every function call and unwinds at the next one.
func waitWithTimeout(parent, budget context.Context, ch <-chan Result, limit time.Duration) Result {
	select {
	case res := <-ch:
		if res.OK() || budget.Err() == nil {
			return res
		}
		// The script failed because a builtin saw the expired context.
		return expired(parent, limit)
	case <-budget.Done():
		return expired(parent, limit)
	}
}

func expired(parent context.Context, limit time.Duration) Result {
	if parent.Err() != nil {
		return Failure(caderr.Wrap(caderr.Cancelled, parent.Err(), "compilation cancelled"))
	}
	return Failure(caderr.New(caderr.Timeout, "compilation exceeded %s", limit))
}
