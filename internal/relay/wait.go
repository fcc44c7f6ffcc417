package relay

import (
	"context"
	"time"
)

const pollInterval = 500 * time.Millisecond

// waitTick sleeps one poll interval or returns false if ctx is done first.
func waitTick(ctx context.Context) bool {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
