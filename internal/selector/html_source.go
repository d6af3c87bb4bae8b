// internal/selector/html_source.go
package selector

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// unrendered lists elements that never produce a box.
var unrendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"noscript": true, "title": true, "meta": true, "link": true, "base": true,
}

// HTMLSource is an ElementSource over a parsed, static HTML document.
// Visibility is approximated from markup: the hidden attribute, inline
// display:none or visibility:hidden, hidden inputs and unrendered elements,
// on the element or any ancestor.
type HTMLSource struct {
	doc   *goquery.Document
	refs  map[*html.Node]string
	byRef map[string]*goquery.Selection
}

// NewHTMLSource parses r.
func NewHTMLSource(r io.Reader) (*HTMLSource, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	s := &HTMLSource{
		doc:   doc,
		refs:  make(map[*html.Node]string),
		byRef: make(map[string]*goquery.Selection),
	}
	doc.Find("*").Each(func(i int, sel *goquery.Selection) {
		ref := "e" + strconv.Itoa(i)
		s.refs[sel.Get(0)] = ref
		s.byRef[ref] = sel
	})
	return s, nil
}

// NewHTMLSourceString parses an HTML string.
func NewHTMLSourceString(doc string) (*HTMLSource, error) {
	return NewHTMLSource(strings.NewReader(doc))
}

// Document exposes the parsed document.
func (s *HTMLSource) Document() *goquery.Document { return s.doc }

// Selection returns the element behind a ref, or nil.
func (s *HTMLSource) Selection(ref string) *goquery.Selection {
	return s.byRef[ref]
}

func (s *HTMLSource) Query(ctx context.Context, css string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sel *goquery.Selection
	if css == "" {
		sel = s.doc.Find("*")
	} else {
		matcher, err := cascadia.Compile(css)
		if err != nil {
			return nil, fmt.Errorf("invalid css query %q: %w", css, err)
		}
		sel = s.doc.FindMatcher(matcher)
	}

	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, el *goquery.Selection) {
		out = append(out, s.element(el))
	})
	return out, nil
}

func (s *HTMLSource) element(sel *goquery.Selection) Element {
	node := sel.Get(0)
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[a.Key] = a.Val
	}
	return Element{
		Ref:        s.refs[node],
		Tag:        strings.ToLower(node.Data),
		Text:       strings.TrimSpace(sel.Text()),
		Attributes: attrs,
		Visible:    visible(node),
	}
}

func visible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if unrendered[strings.ToLower(n.Data)] {
			return false
		}
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "hidden":
				return false
			case "type":
				if strings.EqualFold(n.Data, "input") && strings.EqualFold(a.Val, "hidden") {
					return false
				}
			case "style":
				if hiddenByStyle(a.Val) {
					return false
				}
			}
		}
	}
	return true
}

func hiddenByStyle(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important")))
		if (prop == "display" && value == "none") || (prop == "visibility" && value == "hidden") {
			return true
		}
	}
	return false
}
