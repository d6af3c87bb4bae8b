// internal/browser/page_context.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser/humanoid"
	"github.com/xkilldash9x/scraperflow/internal/browser/session"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PageContext is a live Chrome tab bound to one page slot. It owns the tab's
// emulated cursor.
type PageContext struct {
	index     int
	tabCtx    context.Context
	tabCancel context.CancelFunc
	// owned is false for the browser's initial tab, which is never closed.
	owned bool

	cfg      config.Interface
	logger   *zap.Logger
	run      session.RunFunc
	executor *session.Executor
	humanoid *humanoid.Humanoid
	monitor  *networkMonitor
}

var _ Page = (*PageContext)(nil)

func newPageContext(ctx context.Context, tabCtx context.Context, tabCancel context.CancelFunc, index int, cfg config.Interface, logger *zap.Logger, rng *rand.Rand) (*PageContext, error) {
	bcfg := cfg.Browser()
	log := logger.Named("page").With(zap.Int("page_index", index))
	p := &PageContext{
		index:     index,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		owned:     tabCancel != nil,
		cfg:       cfg,
		logger:    log,
		run:       session.TabRunner(tabCtx),
		monitor:   newNetworkMonitor(),
	}
	p.executor = session.NewExecutor(p.run, cfg.Network().ActionTimeout, log)
	p.humanoid = humanoid.New(bcfg.Humanoid, p.executor, log, rng)

	chromedp.ListenTarget(tabCtx, p.monitor.handle)

	setup := chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(bcfg.Viewport.Width, bcfg.Viewport.Height, 1.0, false),
	}
	if bcfg.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(bcfg.Locale))
	}
	if bcfg.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(bcfg.Timezone))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The first Run on a new tab context creates the target, which lives as
	// long as the context of that Run; it must be the tab context itself.
	if err := chromedp.Run(tabCtx, setup); err != nil {
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}
	p.humanoid.Seed(float64(bcfg.Viewport.Width), float64(bcfg.Viewport.Height))
	return p, nil
}

// Navigate loads url. A navigation timeout is logged and tolerated.
func (p *PageContext) Navigate(ctx context.Context, url string) error {
	timeout := p.cfg.Network().NavigationTimeout
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("Navigation timed out; continuing.", zap.String("url", url), zap.Duration("timeout", timeout))
			return nil
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	p.waitIdle(ctx, p.cfg.Network().NetworkIdleTimeout)
	return nil
}

// Click clicks the element tagged ref.
func (p *PageContext) Click(ctx context.Context, ref string, opts ClickOptions) error {
	var loaded <-chan struct{}
	if opts.WaitForNavigation {
		ch, stop := p.expectLoad()
		defer stop()
		loaded = ch
	}

	if err := p.click(ctx, ref, opts.Humanoid); err != nil {
		return err
	}
	if loaded != nil {
		p.waitNavigation(ctx, loaded)
	}
	return nil
}

func (p *PageContext) click(ctx context.Context, ref string, human bool) error {
	if human {
		box, err := p.executor.BoxOf(ctx, ref)
		if err != nil {
			return err
		}
		if err := p.humanoid.ClickAt(ctx, box); err != nil {
			return fmt.Errorf("humanoid click on %s failed: %w", ref, err)
		}
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, p.actionTimeout())
	defer cancel()
	if err := p.run(opCtx, chromedp.Click(refSelector(ref), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click on %s failed: %w", ref, err)
	}
	return nil
}

// Type focuses the element tagged ref and types text into it.
func (p *PageContext) Type(ctx context.Context, ref string, text string, opts TypeOptions) error {
	var loaded <-chan struct{}
	if opts.WaitForNavigation {
		ch, stop := p.expectLoad()
		defer stop()
		loaded = ch
	}

	if opts.Humanoid {
		if err := p.click(ctx, ref, true); err != nil {
			return err
		}
	} else {
		opCtx, cancel := context.WithTimeout(ctx, p.actionTimeout())
		err := p.run(opCtx, chromedp.Focus(refSelector(ref), chromedp.ByQuery))
		cancel()
		if err != nil {
			return fmt.Errorf("focus on %s failed: %w", ref, err)
		}
	}

	if opts.ClearBeforeType {
		if err := p.executor.DispatchStructuredKey(ctx, schemas.KeyEventData{Key: "a", Modifiers: schemas.ModCtrl}); err != nil {
			return err
		}
		if err := p.executor.DispatchStructuredKey(ctx, schemas.KeyEventData{Key: "Backspace"}); err != nil {
			return err
		}
	}

	if opts.Humanoid {
		if err := p.humanoid.Type(ctx, text); err != nil {
			return fmt.Errorf("typing into %s failed: %w", ref, err)
		}
		if opts.PressEnter {
			if err := p.humanoid.PressEnter(ctx); err != nil {
				return err
			}
		}
	} else {
		keys := text
		if opts.PressEnter {
			keys += humanoid.KeyEnter
		}
		if err := p.executor.SendKeys(ctx, keys); err != nil {
			return fmt.Errorf("typing into %s failed: %w", ref, err)
		}
	}

	if loaded != nil {
		p.waitNavigation(ctx, loaded)
	}
	return nil
}

// Scroll implements Page.
func (p *PageContext) Scroll(ctx context.Context, toBottom bool) error {
	script := `window.scrollTo({top: 0, behavior: 'instant'})`
	if toBottom {
		script = `window.scrollTo({top: document.documentElement.scrollHeight, behavior: 'instant'})`
	}
	return p.executor.Evaluate(ctx, script, nil)
}

// DeleteCookies clears every cookie of the browser.
func (p *PageContext) DeleteCookies(ctx context.Context) error {
	if err := p.run(ctx, network.ClearBrowserCookies()); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// Elements implements Page.
func (p *PageContext) Elements(context.Context) (selector.ElementSource, error) {
	return &snapshotSource{page: p.executor}, nil
}

// AccessibilityCheckbox implements Page.
func (p *PageContext) AccessibilityCheckbox(ctx context.Context, label string) (schemas.Box, bool, error) {
	var nodes []*accessibility.Node
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		nodes, err = accessibility.GetFullAXTree().Do(c)
		return err
	}))
	if err != nil {
		return schemas.Box{}, false, fmt.Errorf("failed to read the accessibility tree: %w", err)
	}

	id, ok := findCheckbox(nodes, label)
	if !ok {
		return schemas.Box{}, false, nil
	}

	var model *dom.BoxModel
	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(c); err != nil {
			return err
		}
		var err error
		model, err = dom.GetBoxModel().WithBackendNodeID(id).Do(c)
		return err
	}))
	if err != nil {
		return schemas.Box{}, false, fmt.Errorf("failed to read the checkbox box model: %w", err)
	}
	box, err := quadBox(model.Border)
	if err != nil {
		return schemas.Box{}, false, err
	}
	return box, true, nil
}

// ClickAt implements Page.
func (p *PageContext) ClickAt(ctx context.Context, box schemas.Box) error {
	return p.humanoid.ClickAt(ctx, box)
}

// WaitSettled implements Page.
func (p *PageContext) WaitSettled(ctx context.Context, timeout time.Duration) error {
	p.waitIdle(ctx, timeout)
	return ctx.Err()
}

// Evaluate implements Page.
func (p *PageContext) Evaluate(ctx context.Context, script string, out any) error {
	return p.executor.Evaluate(ctx, script, out)
}

// PortalURL is the DevTools inspector URL of the tab when remote debugging is enabled.
func (p *PageContext) PortalURL() string {
	port := p.cfg.Browser().RemoteDebuggingPort
	c := chromedp.FromContext(p.tabCtx)
	if port <= 0 || c == nil || c.Target == nil {
		return ""
	}
	host := "127.0.0.1:" + strconv.Itoa(port)
	return fmt.Sprintf("http://%s/devtools/inspector.html?ws=%s/devtools/page/%s", host, host, c.Target.TargetID)
}

// Reset implements Page.
func (p *PageContext) Reset(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("failed to reset page %d: %w", p.index, err)
	}
	return nil
}

// Close closes the tab. The initial tab is reset instead.
func (p *PageContext) Close(ctx context.Context) error {
	if !p.owned {
		return p.Reset(ctx)
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(p.tabCtx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close page %d: %w", p.index, err)
		}
		return nil
	case <-ctx.Done():
		p.tabCancel()
		return ctx.Err()
	}
}

func (p *PageContext) actionTimeout() time.Duration {
	if d := p.cfg.Network().ActionTimeout; d > 0 {
		return d
	}
	return session.DefaultInputTimeout
}

// expectLoad reports the next load event of the tab until stop is called.
func (p *PageContext) expectLoad() (<-chan struct{}, context.CancelFunc) {
	lctx, stop := context.WithCancel(p.tabCtx)
	ch := make(chan struct{}, 1)
	chromedp.ListenTarget(lctx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	return ch, stop
}

// waitNavigation waits for loaded and then for network idle. Timeouts are logged.
func (p *PageContext) waitNavigation(ctx context.Context, loaded <-chan struct{}) {
	timeout := p.cfg.Network().NavigationTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-loaded:
	case <-ctx.Done():
		return
	case <-timer.C:
		p.logger.Warn("Timed out waiting for navigation; continuing.", zap.Duration("timeout", timeout))
		return
	}
	p.waitIdle(ctx, p.cfg.Network().NetworkIdleTimeout)
}

func (p *PageContext) waitIdle(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if err := p.monitor.WaitIdle(ctx, networkQuietPeriod, timeout); errors.Is(err, errNetworkBusy) {
		p.logger.Warn("Network did not become idle; continuing.", zap.Duration("timeout", timeout), zap.Int("in_flight", p.monitor.active()))
	}
}

// quoteJS renders s as a JavaScript (and CSS) string literal.
func quoteJS(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
