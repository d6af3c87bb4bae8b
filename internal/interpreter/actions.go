// internal/interpreter/actions.go
package interpreter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
)

// pageAction runs one page action and, when it may have changed the page,
// clears any challenge it led to.
func (ec *executionContext) pageAction(ctx context.Context, action schemas.PageAction) error {
	page, err := ec.pages.Get(ctx, action.TargetPage())
	if err != nil {
		return err
	}
	if err := ec.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := ec.dispatchAction(ctx, page, action); err != nil {
		return err
	}

	if schemas.MutatesPage(action) {
		if err := ec.interp.solver.DetectAndSolve(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

func (ec *executionContext) dispatchAction(ctx context.Context, page browser.Page, action schemas.PageAction) error {
	switch a := action.(type) {
	case schemas.Navigate:
		url := ec.bridge.ResolveSpecialString(ctx, a.URL)
		ec.logger.Debug("Navigating.", zap.Int("page_index", a.PageIndex), zap.String("url", url))
		return page.Navigate(ctx, url)

	case schemas.Click:
		h, err := ec.engine.GetElementHandle(ctx, a.Selectors, a.PageIndex, true)
		if err != nil {
			return err
		}
		return page.Click(ctx, h.Ref(), browser.ClickOptions{
			Humanoid:          a.UseGhostCursor,
			WaitForNavigation: a.WaitForNavigation,
		})

	case schemas.Type:
		h, err := ec.engine.GetElementHandle(ctx, a.Selectors, a.PageIndex, true)
		if err != nil {
			return err
		}
		v, err := ec.engine.ResolveValue(ctx, a.Value)
		if err != nil {
			return fmt.Errorf("failed to resolve the value to type: %w", err)
		}
		return page.Type(ctx, h.Ref(), schemas.ScalarString(v), browser.TypeOptions{
			Humanoid:          ec.interp.cfg.Browser().Humanoid.Enabled,
			ClearBeforeType:   a.ClearBeforeType,
			PressEnter:        a.PressEnter,
			WaitForNavigation: a.WaitForNavigation,
		})

	case schemas.Wait:
		return sleep(ctx, a.Duration.Std())

	case schemas.ScrollToTop:
		return page.Scroll(ctx, false)

	case schemas.ScrollToBottom:
		return page.Scroll(ctx, true)

	case schemas.RunAutonomousAgent:
		return ec.runAgent(ctx, page, a)

	default:
		return fmt.Errorf("unsupported page action %T", action)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
