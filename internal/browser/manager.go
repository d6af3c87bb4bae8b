// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// Manager lazily opens and caches one page per slot for a single execution.
// It is not shared across executions.
type Manager struct {
	opener      Opener
	logger      *zap.Logger
	recorder    Recorder
	middlewares []PageMiddleware

	mu    sync.Mutex
	pages map[int]Page
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets where PageOpened records go.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMiddlewares adds hooks run once per newly opened page.
func WithMiddlewares(mws ...PageMiddleware) Option {
	return func(m *Manager) { m.middlewares = append(m.middlewares, mws...) }
}

// NewManager creates a Manager opening pages through opener.
func NewManager(opener Opener, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		opener: opener,
		logger: logger.Named("page_manager"),
		pages:  make(map[int]Page),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the page of slot index, opening it on first reference. A
// PageOpened record is pushed exactly once per index.
func (m *Manager) Get(ctx context.Context, index int) (Page, error) {
	if index < 0 {
		return nil, fmt.Errorf("invalid page index %d", index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pages[index]; ok {
		return p, nil
	}

	p, err := m.opener.Open(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to open page %d: %w", index, err)
	}
	for _, mw := range m.middlewares {
		if err := mw(ctx, index, p); err != nil {
			if cerr := p.Close(context.WithoutCancel(ctx)); cerr != nil {
				m.logger.Warn("Failed to close page after middleware error.", zap.Int("page_index", index), zap.Error(cerr))
			}
			return nil, fmt.Errorf("page middleware failed on page %d: %w", index, err)
		}
	}
	m.pages[index] = p

	m.logger.Info("Page opened.", zap.Int("page_index", index))
	if m.recorder != nil {
		m.recorder.Push(schemas.NewPageOpened(index, p.PortalURL()), true)
	}
	return p, nil
}

// Elements implements selector.Pages.
func (m *Manager) Elements(ctx context.Context, index int) (selector.ElementSource, error) {
	p, err := m.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	return p.Elements(ctx)
}

// Opened returns the indices of the open pages in ascending order.
func (m *Manager) Opened() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.pages))
	for i := range m.pages {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// CloseAll navigates page 0 back to about:blank, leaving it open for
// inspection, closes every other page concurrently and forgets them all.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	pages := m.pages
	m.pages = make(map[int]Page)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for index, p := range pages {
		g.Go(func() error {
			if index == 0 {
				if err := p.Reset(gctx); err != nil {
					return fmt.Errorf("failed to reset page 0: %w", err)
				}
				return nil
			}
			if err := p.Close(gctx); err != nil {
				return fmt.Errorf("failed to close page %d: %w", index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("Not every page closed cleanly.", zap.Error(err))
		return err
	}
	m.logger.Debug("All pages closed.", zap.Int("count", len(pages)))
	return nil
}
