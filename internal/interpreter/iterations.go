// internal/interpreter/iterations.go
package interpreter

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/databridge"
	"github.com/xkilldash9x/scraperflow/internal/execinfo"
)

// IterationFunc receives the log of each finished run.
type IterationFunc func(iteration int, log *execinfo.Log)

// ExecuteIterations runs instructions once per position of the bridge's
// iterator, advancing it between runs. Each run gets its own log and its own
// browser. It stops after the last position or the first failed run, and
// returns the number of runs made. With LeavePagesOpen only the browser of
// the final run stays open; earlier ones close before the next run starts.
func (i *Interpreter) ExecuteIterations(ctx context.Context, instructions schemas.Instructions, bridge databridge.Bridge, opts Options, fn IterationFunc) (int, error) {
	opts.Log = nil
	for n := 0; ; n++ {
		hold := newRunHold()
		opts.hold = hold
		log := i.Execute(ctx, instructions, bridge, opts)
		if fn != nil {
			fn(n, log)
		}
		if !log.Succeeded() {
			return n + 1, fmt.Errorf("iteration %d failed: %s", n, failureMessage(log))
		}
		if bridge.IsLastIteration() {
			return n + 1, nil
		}
		if opts.LeavePagesOpen {
			close(hold.release)
			select {
			case <-hold.closed:
			case <-ctx.Done():
			}
		}
		bridge.NextIteration()
	}
}

func failureMessage(log *execinfo.Log) string {
	rec, ok := log.Terminal()
	if !ok {
		return "no terminal record"
	}
	if info, ok := rec.Data.(schemas.ErrorInfo); ok {
		return info.Message
	}
	return string(rec.Type)
}
