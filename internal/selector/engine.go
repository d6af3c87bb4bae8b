// internal/selector/engine.go
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

var (
	// ErrAmbiguousSelector is returned when more than one visible element
	// survives the selectors. It is returned whether or not a match is required.
	ErrAmbiguousSelector = errors.New("selector matched more than one visible element")
	// ErrElementNotFound is returned for a required selector with no match.
	ErrElementNotFound = errors.New("no visible element matched the selector")
)

// Element is one DOM element of a page snapshot.
type Element struct {
	// Ref identifies the element within its page until the next snapshot.
	Ref  string
	Tag  string
	Text string
	// Attributes holds the element's attributes by name.
	Attributes map[string]string
	Visible    bool
}

// ElementSource produces element snapshots of one page.
type ElementSource interface {
	// Query returns the elements matching a CSS query in document order, or
	// every element of the page when css is empty.
	Query(ctx context.Context, css string) ([]Element, error)
}

// Pages resolves a page slot to the source of its elements.
type Pages interface {
	Elements(ctx context.Context, pageIndex int) (ElementSource, error)
}

// Data is the read side of the data bridge. databridge.Bridge satisfies it.
type Data interface {
	Get(ctx context.Context, key string) (schemas.Scalar, error)
	ResolveSpecialString(ctx context.Context, s string) string
}

// Handle points at exactly one visible element of a page.
type Handle struct {
	PageIndex int
	Element   Element
}

// Ref is the element reference, usable with the page that produced it.
func (h *Handle) Ref() string { return h.Element.Ref }

// Engine resolves selector lists into element handles.
type Engine struct {
	pages  Pages
	data   Data
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an Engine. A nil data leaves special strings untouched
// and resolves external data to its default.
func NewEngine(pages Pages, data Data, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{pages: pages, data: data, logger: logger.Named("selector"), now: time.Now}
}

// rank fixes the evaluation order of selector kinds.
func rank(s schemas.ElementSelector) int {
	switch s.(type) {
	case schemas.Query:
		return 0
	case schemas.TagName:
		return 1
	case schemas.TextContent:
		return 2
	case schemas.Attributes:
		return 3
	default:
		return 4
	}
}

// GetElementHandle resolves selectors against page pageIndex. Zero matches
// yield (nil, nil) unless required, in which case ErrElementNotFound is
// returned. More than one match always yields ErrAmbiguousSelector.
func (e *Engine) GetElementHandle(ctx context.Context, selectors schemas.Selectors, pageIndex int, required bool) (*Handle, error) {
	if len(selectors) == 0 {
		return nil, fmt.Errorf("empty selector list")
	}
	source, err := e.pages.Elements(ctx, pageIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get elements of page %d: %w", pageIndex, err)
	}

	ordered := make(schemas.Selectors, len(selectors))
	for i, s := range selectors {
		ordered[i] = e.resolve(ctx, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return rank(ordered[i]) < rank(ordered[j]) })

	candidates, err := e.collect(ctx, source, ordered)
	if err != nil {
		return nil, err
	}

	visible := candidates[:0]
	for _, el := range candidates {
		if el.Visible {
			visible = append(visible, el)
		}
	}

	switch len(visible) {
	case 0:
		if required {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, ordered)
		}
		return nil, nil
	case 1:
		return &Handle{PageIndex: pageIndex, Element: visible[0]}, nil
	default:
		e.logger.Warn("Selector is ambiguous.",
			zap.String("selectors", ordered.String()),
			zap.Int("matches", len(visible)))
		return nil, fmt.Errorf("%w: %d elements for %s", ErrAmbiguousSelector, len(visible), ordered)
	}
}

// collect builds the candidate set from the first selector and narrows it
// with the rest.
func (e *Engine) collect(ctx context.Context, source ElementSource, ordered schemas.Selectors) ([]Element, error) {
	rest := ordered
	css := ""
	if q, ok := ordered[0].(schemas.Query); ok {
		css = q.Query
		rest = ordered[1:]
	}
	candidates, err := source.Query(ctx, css)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}

	for _, s := range rest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q, ok := s.(schemas.Query); ok {
			if candidates, err = intersect(ctx, source, candidates, q.Query); err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				break
			}
			continue
		}
		keep := candidates[:0]
		for _, el := range candidates {
			ok, err := matches(el, s)
			if err != nil {
				return nil, err
			}
			if ok {
				keep = append(keep, el)
			}
		}
		candidates = keep
		if len(candidates) == 0 {
			break
		}
	}
	return candidates, nil
}

// intersect keeps the candidates that css also matches.
func intersect(ctx context.Context, source ElementSource, candidates []Element, css string) ([]Element, error) {
	matched, err := source.Query(ctx, css)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	refs := make(map[string]struct{}, len(matched))
	for _, el := range matched {
		refs[el.Ref] = struct{}{}
	}
	keep := candidates[:0]
	for _, el := range candidates {
		if _, ok := refs[el.Ref]; ok {
			keep = append(keep, el)
		}
	}
	return keep, nil
}

func matches(el Element, s schemas.ElementSelector) (bool, error) {
	switch v := s.(type) {
	case schemas.TagName:
		return strings.EqualFold(el.Tag, v.TagName), nil
	case schemas.TextContent:
		return matchText(v.Text, el.Text)
	case schemas.Attributes:
		for name, m := range v.Attributes {
			value, present := el.Attributes[name]
			if !present {
				return false, nil
			}
			ok, err := matchText(m, value)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported selector %T", s)
	}
}

func matchText(m schemas.Matcher, text string) (bool, error) {
	if !m.IsRegex() {
		return m.Literal == text, nil
	}
	re, err := m.Compile()
	if err != nil {
		return false, fmt.Errorf("invalid text pattern %s: %w", m, err)
	}
	return re.MatchString(text), nil
}

// resolve substitutes special strings in every field of a selector.
func (e *Engine) resolve(ctx context.Context, s schemas.ElementSelector) schemas.ElementSelector {
	if e.data == nil {
		return s
	}
	str := func(v string) string {
		if v == "" {
			return v
		}
		return e.data.ResolveSpecialString(ctx, v)
	}
	matcher := func(m schemas.Matcher) schemas.Matcher {
		if m.IsRegex() {
			m.Pattern = str(m.Pattern)
		} else {
			m.Literal = str(m.Literal)
		}
		return m
	}

	switch v := s.(type) {
	case schemas.Query:
		return schemas.Query{Query: str(v.Query)}
	case schemas.TagName:
		return schemas.TagName{TagName: str(v.TagName)}
	case schemas.TextContent:
		return schemas.TextContent{Text: matcher(v.Text)}
	case schemas.Attributes:
		attrs := make(map[string]schemas.Matcher, len(v.Attributes))
		for name, m := range v.Attributes {
			attrs[str(name)] = matcher(m)
		}
		return schemas.Attributes{Attributes: attrs}
	default:
		return s
	}
}

// TextOf returns the trimmed text content of the element the selectors
// resolve to, or nil when there is none.
func (e *Engine) TextOf(ctx context.Context, selectors schemas.Selectors, pageIndex int) (schemas.Scalar, error) {
	h, err := e.GetElementHandle(ctx, selectors, pageIndex, false)
	if err != nil || h == nil {
		return nil, err
	}
	return h.Element.Text, nil
}

// AttributeOf returns an attribute of the element the selectors resolve to.
// A missing element or attribute reads as nil.
func (e *Engine) AttributeOf(ctx context.Context, selectors schemas.Selectors, pageIndex int, name string) (schemas.Scalar, error) {
	h, err := e.GetElementHandle(ctx, selectors, pageIndex, false)
	if err != nil || h == nil {
		return nil, err
	}
	v, ok := h.Element.Attributes[name]
	if !ok {
		return nil, nil
	}
	return v, nil
}
