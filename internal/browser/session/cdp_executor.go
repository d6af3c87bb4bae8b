// internal/browser/session/cdp_executor.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser/humanoid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RefAttribute marks the elements of the latest snapshot of a page.
const RefAttribute = "data-scraperflow-ref"

// DefaultInputTimeout bounds a single input dispatch when no timeout is configured.
const DefaultInputTimeout = 10 * time.Second

// ErrNoBox is returned when an element has no clickable area.
var ErrNoBox = errors.New("element is detached or has no layout box")

// Executor dispatches low-level input and scripts to one tab over CDP.
type Executor struct {
	logger  *zap.Logger
	run     RunFunc
	timeout time.Duration
}

var _ humanoid.Executor = (*Executor)(nil)

// NewExecutor creates an Executor that runs its actions through run. A
// non-positive timeout selects DefaultInputTimeout.
func NewExecutor(run RunFunc, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultInputTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger.Named("cdp_executor"), run: run, timeout: timeout}
}

// runBounded runs actions under the executor timeout and names timeouts in the error.
func (e *Executor) runBounded(ctx context.Context, op string, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.run(opCtx, actions...)
	if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		e.logger.Debug("CDP operation timed out.", zap.String("op", op), zap.Duration("timeout", e.timeout))
		return fmt.Errorf("%s timed out after %v: %w", op, e.timeout, opCtx.Err())
	}
	return err
}

// Sleep pauses for d, returning early when ctx is done.
func (e *Executor) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DispatchMouseEvent dispatches a single mouse event.
func (e *Executor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	if data.Type == schemas.MouseWheel {
		p = p.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}
	return e.runBounded(ctx, "dispatch mouse event", p)
}

// SendKeys types keys as native key events.
func (e *Executor) SendKeys(ctx context.Context, keys string) error {
	return e.runBounded(ctx, "send keys", chromedp.KeyEvent(keys))
}

// DispatchStructuredKey presses and releases a key with modifiers, e.g. Ctrl+A.
func (e *Executor) DispatchStructuredKey(ctx context.Context, data schemas.KeyEventData) error {
	var mods input.Modifier
	if data.Modifiers&schemas.ModAlt != 0 {
		mods |= input.ModifierAlt
	}
	if data.Modifiers&schemas.ModCtrl != 0 {
		mods |= input.ModifierCtrl
	}
	if data.Modifiers&schemas.ModMeta != 0 {
		mods |= input.ModifierMeta
	}
	if data.Modifiers&schemas.ModShift != 0 {
		mods |= input.ModifierShift
	}

	keyDown := input.DispatchKeyEvent(input.KeyDown).WithModifiers(mods).WithKey(data.Key)
	keyUp := input.DispatchKeyEvent(input.KeyUp).WithModifiers(mods).WithKey(data.Key)
	if err := e.runBounded(ctx, "dispatch key "+data.Key, keyDown, keyUp); err != nil {
		return fmt.Errorf("failed to dispatch key %q: %w", data.Key, err)
	}
	return nil
}

// Evaluate runs script in the page and decodes its JSON result into out,
// which may be nil.
func (e *Executor) Evaluate(ctx context.Context, script string, out any) error {
	var res []byte
	err := e.runBounded(ctx, "evaluate",
		chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w (payload: %s)", err, string(res))
	}
	return nil
}

const boxScript = `(function(ref) {
  const el = document.querySelector('[%s="' + ref + '"]');
  if (!el || !el.isConnected) return null;
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  return {x: r.left, y: r.top, width: r.width, height: r.height};
})(%s)`

// BoxOf scrolls the element tagged ref into view and returns its viewport box.
func (e *Executor) BoxOf(ctx context.Context, ref string) (schemas.Box, error) {
	var box *schemas.Box
	if err := e.Evaluate(ctx, fmt.Sprintf(boxScript, RefAttribute, jsonEncode(ref)), &box); err != nil {
		return schemas.Box{}, fmt.Errorf("failed to read the box of element %s: %w", ref, err)
	}
	if box == nil || box.Empty() {
		return schemas.Box{}, fmt.Errorf("%w: %s", ErrNoBox, ref)
	}
	return *box, nil
}

// jsonEncode renders v as a JavaScript literal.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
