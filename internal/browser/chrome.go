// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/internal/browser/session"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/network"
)

const shutdownGracePeriod = 15 * time.Second

// Browser is one Chrome process owned by a single execution. It implements
// Opener; page 0 reuses the blank tab Chrome starts with.
type Browser struct {
	cfg    config.Interface
	logger *zap.Logger

	forwarder     *network.Forwarder
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu          sync.Mutex
	initialUsed bool
	rng         *rand.Rand
}

// Launch starts Chrome, and the proxy forwarder when one is configured.
func Launch(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{
		cfg:    cfg,
		logger: logger.Named("browser"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	proxyAddr := ""
	if pcfg := cfg.Network().Proxy; pcfg.Enabled {
		fwd, err := network.NewForwarder(pcfg, cfg.Browser().IgnoreTLSErrors, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure proxy forwarder: %w", err)
		}
		if proxyAddr, err = fwd.Start("127.0.0.1:0"); err != nil {
			return nil, err
		}
		b.forwarder = fwd
	}

	// The browser outlives the launch call, so only ctx's values are kept.
	allocCtx, allocCancel := chromedp.NewExecAllocator(session.Detach(ctx), session.DefaultAllocatorOptions(cfg.Browser(), proxyAddr)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(zap.NewStdLog(b.logger.Named("chromedp")).Printf),
		chromedp.WithErrorf(zap.NewStdLog(b.logger.Named("chromedp")).Printf),
	)
	b.allocCancel, b.browserCtx, b.browserCancel = allocCancel, browserCtx, browserCancel

	// The first Run allocates the browser and binds its lifetime to the
	// context it gets, so it must be browserCtx itself.
	if err := chromedp.Run(browserCtx); err != nil {
		cleanupErr := b.Close(context.Background())
		return nil, errors.Join(fmt.Errorf("failed to start browser: %w", err), cleanupErr)
	}
	b.logger.Info("Browser launched.", zap.Bool("headless", cfg.Browser().Headless), zap.Bool("proxy", b.forwarder != nil))
	return b, nil
}

// Open creates the tab of slot index and prepares it for use.
func (b *Browser) Open(ctx context.Context, index int) (Page, error) {
	b.mu.Lock()
	tabCtx := b.browserCtx
	var tabCancel context.CancelFunc
	initial := index == 0 && !b.initialUsed
	if initial {
		b.initialUsed = true
	} else {
		tabCtx, tabCancel = chromedp.NewContext(b.browserCtx)
	}
	seed := b.rng.Int63()
	b.mu.Unlock()

	p, err := newPageContext(ctx, tabCtx, tabCancel, index, b.cfg, b.logger, rand.New(rand.NewSource(seed)))
	if err != nil {
		if !initial {
			tabCancel()
		}
		return nil, err
	}
	return p, nil
}

// Close stops Chrome and the forwarder.
func (b *Browser) Close(ctx context.Context) error {
	var errs []error
	if b.browserCancel != nil {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(b.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
			}
		case <-time.After(shutdownGracePeriod):
			b.logger.Warn("Browser did not close in time; killing it.")
		}
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	if b.forwarder != nil {
		if err := b.forwarder.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.logger.Info("Browser closed.")
	return errors.Join(errs...)
}
