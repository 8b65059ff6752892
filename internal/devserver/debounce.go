package devserver

import (
	"context"
	"time"
)

// debounce calls fn once the trigger channel has been quiet for wait. fn runs
// on the calling goroutine, so triggers arriving while it runs are coalesced
// by the channel buffer into a single follow-up call.
func debounce(ctx context.Context, trigger <-chan struct{}, wait time.Duration, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
		quiet:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-trigger:
					timer.Reset(wait)
				case <-timer.C:
					break quiet
				}
			}
		}

		fn()
	}
}

// signal performs a non-blocking send, dropping the trigger if one is
// already pending.
func signal(trigger chan<- struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
	}
}
