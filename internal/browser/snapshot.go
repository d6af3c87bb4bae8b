// internal/browser/snapshot.go
package browser

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scraperflow/internal/browser/session"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// evaluator runs a script in a page and decodes its result.
type evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// snapshotScript tags every candidate with a ref that stays stable across
// snapshots and reports what the selector engine needs about it.
const snapshotScript = `(function(css, attr) {
  const nodes = css ? document.querySelectorAll(css) : document.querySelectorAll('*');
  window.__scraperflowRef = window.__scraperflowRef || 0;
  const out = [];
  for (const el of nodes) {
    let ref = el.getAttribute(attr);
    if (!ref) {
      ref = 'r' + (++window.__scraperflowRef);
      el.setAttribute(attr, ref);
    }
    const attrs = {};
    for (const a of el.attributes) {
      if (a.name !== attr) attrs[a.name] = a.value;
    }
    let visible;
    if (typeof el.checkVisibility === 'function') {
      visible = el.checkVisibility({checkOpacity: true, checkVisibilityCSS: true});
    } else {
      const style = window.getComputedStyle(el);
      visible = style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
    }
    if (visible) {
      const r = el.getBoundingClientRect();
      visible = r.width > 0 && r.height > 0;
    }
    out.push({
      ref: ref,
      tag: el.tagName.toLowerCase(),
      text: (el.innerText !== undefined ? el.innerText : el.textContent || '').trim(),
      attributes: attrs,
      visible: visible
    });
  }
  return out;
})(%s, %s)`

// snapshotElement is the wire shape of one snapshotScript result.
type snapshotElement struct {
	Ref        string            `json:"ref"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Visible    bool              `json:"visible"`
}

// snapshotSource is the selector.ElementSource of a live page.
type snapshotSource struct {
	page evaluator
}

var _ selector.ElementSource = (*snapshotSource)(nil)

// Query implements selector.ElementSource.
func (s *snapshotSource) Query(ctx context.Context, css string) ([]selector.Element, error) {
	var raw []snapshotElement
	script := fmt.Sprintf(snapshotScript, quoteJS(css), quoteJS(session.RefAttribute))
	if err := s.page.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("element snapshot for %q failed: %w", css, err)
	}
	return toElements(raw), nil
}

func toElements(raw []snapshotElement) []selector.Element {
	out := make([]selector.Element, 0, len(raw))
	for _, r := range raw {
		attrs := r.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		out = append(out, selector.Element{
			Ref:        r.Ref,
			Tag:        r.Tag,
			Text:       r.Text,
			Attributes: attrs,
			Visible:    r.Visible,
		})
	}
	return out
}

// refSelector is the CSS selector of the element tagged ref.
func refSelector(ref string) string {
	return fmt.Sprintf("[%s=%s]", session.RefAttribute, quoteJS(ref))
}
