// Package shutdown turns termination signals into a callback.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Watch calls fn for every termination signal until ctx ends or the
// returned stop is called. Signal handling reverts to the default after
// stop.
func Watch(ctx context.Context, fn func(os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case sig := <-ch:
				fn(sig)
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
