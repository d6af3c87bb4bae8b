// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// RunFunc runs chromedp actions against a tab under an operational context.
type RunFunc func(ctx context.Context, actions ...chromedp.Action) error

// CombineContext returns a context derived from ctx1 that is also canceled
// when ctx2 is done. Values come from ctx1 only, so a chromedp tab context
// can be combined with a per-operation deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()
	return combinedCtx, cancel
}

// TabRunner returns a RunFunc bound to tabCtx, the context chromedp.NewContext
// returned for the tab. Each call is bounded by both contexts.
func TabRunner(tabCtx context.Context) RunFunc {
	return func(ctx context.Context, actions ...chromedp.Action) error {
		runCtx, cancel := CombineContext(tabCtx, ctx)
		defer cancel()
		return chromedp.Run(runCtx, actions...)
	}
}

// valueOnlyContext keeps the values of its parent but none of its deadline
// or cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying the values of ctx that is never canceled.
// Cleanup that must outlive an aborted execution, like closing tabs, runs on it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
