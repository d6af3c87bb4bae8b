// File: internal/mocks/site.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

const blankDocument = "<html><head></head><body></body></html>"

// challenge is a page guarded by a checkbox that leads elsewhere once clicked.
type challenge struct {
	label  string
	box    schemas.Box
	target string
}

// Site is a set of static HTML documents served to FakePages by URL. It opens
// pages for a browser.Manager and records every interaction in order.
type Site struct {
	mu         sync.Mutex
	docs       map[string]string
	challenges map[string]challenge
	pages      map[int]*FakePage
	actions    []string
	openErr    error
}

var _ browser.Opener = (*Site)(nil)

// NewSite creates a Site serving docs, keyed by URL.
func NewSite(docs map[string]string) *Site {
	s := &Site{
		docs:       make(map[string]string, len(docs)),
		challenges: make(map[string]challenge),
		pages:      make(map[int]*FakePage),
	}
	for u, d := range docs {
		s.docs[u] = d
	}
	return s
}

// SetDocument adds or replaces the document at url.
func (s *Site) SetDocument(url, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = doc
}

// SetChallenge guards url with a checkbox named label at box. Clicking inside
// box navigates to target.
func (s *Site) SetChallenge(url, label string, box schemas.Box, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[url] = challenge{label: label, box: box, target: target}
}

// FailOpen makes every later Open fail with err.
func (s *Site) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// Actions returns the recorded interactions, formatted "p<index> <verb> <detail>".
func (s *Site) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

// Page returns the page opened for index, or nil.
func (s *Site) Page(index int) *FakePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[index]
}

// Open implements browser.Opener.
func (s *Site) Open(ctx context.Context, index int) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.openErr != nil {
		err := s.openErr
		s.mu.Unlock()
		return nil, err
	}
	p := &FakePage{site: s, index: index}
	s.pages[index] = p
	s.mu.Unlock()

	s.record(index, "open", "")
	if err := p.load("about:blank"); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Site) record(index int, verb, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := fmt.Sprintf("p%d %s", index, verb)
	if detail != "" {
		a += " " + detail
	}
	s.actions = append(s.actions, a)
}

func (s *Site) document(url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url == "about:blank" {
		return blankDocument, true
	}
	d, ok := s.docs[url]
	return d, ok
}

func (s *Site) challengeAt(url string) (challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[url]
	return c, ok
}

// FakePage is a browser.Page over the documents of a Site. Links navigate
// when clicked and typing sets the value attribute.
type FakePage struct {
	site  *Site
	index int

	mu     sync.Mutex
	url    string
	source *selector.HTMLSource
	closed bool
}

var _ browser.Page = (*FakePage)(nil)

// URL is the address of the current document.
func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Value returns the value attribute of the element matching css.
func (p *FakePage) Value(css string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.source.Document().Find(css).First().Attr("value")
	return v
}

func (p *FakePage) load(url string) error {
	doc, ok := p.site.document(url)
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	src, err := selector.NewHTMLSourceString(doc)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url, p.source = url, src
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.record(p.index, "navigate", url)
	return p.load(url)
}

func (p *FakePage) Click(ctx context.Context, ref string, opts browser.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	sel := p.source.Selection(ref)
	p.mu.Unlock()
	if sel == nil {
		return fmt.Errorf("no element with ref %s", ref)
	}
	p.site.record(p.index, "click", describe(sel.Nodes[0].Data, sel.AttrOr("id", ""), sel.Text()))
	if href, ok := sel.Attr("href"); ok {
		return p.load(href)
	}
	return nil
}

func (p *FakePage) Type(ctx context.Context, ref string, text string, opts browser.TypeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	sel := p.source.Selection(ref)
	if sel == nil {
		p.mu.Unlock()
		return fmt.Errorf("no element with ref %s", ref)
	}
	value := text
	if !opts.ClearBeforeType {
		value = sel.AttrOr("value", "") + text
	}
	sel.SetAttr("value", value)
	what := describe(sel.Nodes[0].Data, sel.AttrOr("id", ""), "")
	p.mu.Unlock()

	detail := fmt.Sprintf("%s=%q", what, text)
	if opts.PressEnter {
		detail += " +enter"
	}
	p.site.record(p.index, "type", detail)
	return nil
}

func (p *FakePage) Scroll(ctx context.Context, toBottom bool) error {
	where := "top"
	if toBottom {
		where = "bottom"
	}
	p.site.record(p.index, "scroll", where)
	return ctx.Err()
}

func (p *FakePage) DeleteCookies(ctx context.Context) error {
	p.site.record(p.index, "deleteCookies", "")
	return ctx.Err()
}

func (p *FakePage) Elements(ctx context.Context) (selector.ElementSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, nil
}

func (p *FakePage) AccessibilityCheckbox(ctx context.Context, label string) (schemas.Box, bool, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Box{}, false, err
	}
	c, ok := p.site.challengeAt(p.URL())
	if !ok || !strings.Contains(strings.ToLower(c.label), strings.ToLower(label)) {
		return schemas.Box{}, false, nil
	}
	return c.box, true, nil
}

func (p *FakePage) ClickAt(ctx context.Context, box schemas.Box) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.record(p.index, "clickAt", fmt.Sprintf("%.0f,%.0f", box.X, box.Y))
	if c, ok := p.site.challengeAt(p.URL()); ok && c.box == box {
		return p.load(c.target)
	}
	return nil
}

func (p *FakePage) WaitSettled(ctx context.Context, timeout time.Duration) error {
	return ctx.Err()
}

func (p *FakePage) Evaluate(ctx context.Context, script string, out any) error {
	return fmt.Errorf("script evaluation is not supported by a static page")
}

func (p *FakePage) PortalURL() string {
	return fmt.Sprintf("fake://page/%d", p.index)
}

func (p *FakePage) Reset(ctx context.Context) error {
	p.site.record(p.index, "reset", "")
	return p.load("about:blank")
}

func (p *FakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.site.record(p.index, "close", "")
	return nil
}

// describe names an element for the action log: #id when it has one, else
// its tag and trimmed text.
func describe(tag, id, text string) string {
	if id != "" {
		return "#" + id
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return tag
	}
	return fmt.Sprintf("%s(%s)", tag, text)
}
