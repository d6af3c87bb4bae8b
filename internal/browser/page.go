// internal/browser/page.go
package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// ClickOptions tunes a Click.
type ClickOptions struct {
	// Humanoid moves the emulated cursor to the element instead of
	// dispatching a synthetic click.
	Humanoid          bool
	WaitForNavigation bool
}

// TypeOptions tunes a Type.
type TypeOptions struct {
	Humanoid          bool
	ClearBeforeType   bool
	PressEnter        bool
	WaitForNavigation bool
}

// Page is one page slot of an execution. Elements are addressed by the refs
// of the page's latest element snapshot.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, ref string, opts ClickOptions) error
	Type(ctx context.Context, ref string, text string, opts TypeOptions) error
	// Scroll scrolls to the bottom of the page, or to the top when toBottom is false.
	Scroll(ctx context.Context, toBottom bool) error
	DeleteCookies(ctx context.Context) error
	Elements(ctx context.Context) (selector.ElementSource, error)
	// AccessibilityCheckbox finds the checkbox whose accessible name contains
	// label. found is false when there is none.
	AccessibilityCheckbox(ctx context.Context, label string) (box schemas.Box, found bool, err error)
	// ClickAt clicks a randomized point inside box with the emulated cursor.
	ClickAt(ctx context.Context, box schemas.Box) error
	// WaitSettled waits up to timeout for a pending load and network idle.
	// Timing out is not an error.
	WaitSettled(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, out any) error
	// PortalURL is a URL a person can use to watch the page, or "".
	PortalURL() string
	// Reset navigates back to about:blank, keeping the tab.
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Opener creates the page of a slot.
type Opener interface {
	Open(ctx context.Context, index int) (Page, error)
}

// PageMiddleware runs once on every newly opened page, before its first use.
type PageMiddleware func(ctx context.Context, index int, page Page) error

// Recorder receives execution records.
type Recorder interface {
	Push(record schemas.ExecutionInfo, flush bool)
}
