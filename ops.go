package rft

import (
	"context"
	"time"
)

// pollInterval is the small sleep substituted for the source's literal
// zero-timeout busy-wait, per spec.md §5: "an implementation may substitute
// a small sleep ... without changing observable behavior."
const pollInterval = time.Millisecond

// spinUntil repeatedly calls step (normally a single Update plus a
// caller-supplied "are we done" check folded into its return value) until
// it reports done, ctx is cancelled, or step returns an error.
func spinUntil(ctx context.Context, step func() (done bool, err error)) error {
	for {
		done, err := step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
