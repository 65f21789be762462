// Package notify delivers stream catalog change notifications to the
// routing engine manager.
package notify

import (
	"context"
)

// Notifier calls fire whenever the stream catalog changes. Run blocks until
// ctx is cancelled or the notifier fails.
type Notifier interface {
	Run(ctx context.Context, fire func()) error
}

// Noop never fires. Used when catalog changes are only picked up by restarts,
// signals or the admin rebuild endpoint.
type Noop struct{}

// Run blocks until ctx is done.
func (Noop) Run(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return nil
}

// Channel adapts a notifier into a signal channel suitable for
// manager.Watch. The channel is buffered by one so bursts coalesce.
func Channel(ctx context.Context, n Notifier, onErr func(error)) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		err := n.Run(ctx, func() {
			select {
			case ch <- struct{}{}:
			default:
			}
		})
		if err != nil && ctx.Err() == nil && onErr != nil {
			onErr(err)
		}
	}()
	return ch
}
