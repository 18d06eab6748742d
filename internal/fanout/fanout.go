// Package fanout runs independent units of work concurrently with a
// join-all barrier. One unit failing (or panicking) never cancels or
// blocks its siblings; every outcome is collected into an explicit
// per-unit report so callers can assert exact failure counts instead of
// relying on suppressed logs.
package fanout

import (
	"context"
	"fmt"
	"sync"
)

// Unit is one independent piece of work. Key identifies the unit in the
// report, typically the team/problem pair it operates on.
type Unit struct {
	Key string
	Run func(ctx context.Context) error
}

type Result struct {
	Key string
	Err error
}

type Report struct {
	Results []Result
}

// Run executes every unit in its own goroutine and returns once all of
// them have finished. The context is passed through as-is: sibling
// failures do not cancel it.
func Run(ctx context.Context, units []Unit) Report {
	results := make([]Result, len(units))

	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Result{Key: u.Key, Err: runUnit(ctx, u)}
		}()
	}
	wg.Wait()

	return Report{Results: results}
}

func runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s panicked: %v", u.Key, r)
		}
	}()
	return u.Run(ctx)
}

// Failed returns the results that carry an error.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r Report) FailureCount() int {
	return len(r.Failed())
}
