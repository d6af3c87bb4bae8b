// api/schemas/selectors.go
package schemas

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// -- Text Matchers --

// Matcher is either a literal string or a regular expression. In JSON it is
// written as a plain string (literal) or as {"source": "...", "flags": "i"}.
type Matcher struct {
	Literal string `json:"-"`
	Pattern string `json:"source,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

// LiteralMatcher builds a matcher that compares by equality.
func LiteralMatcher(s string) Matcher { return Matcher{Literal: s} }

// RegexMatcher builds a matcher that tests a regular expression.
func RegexMatcher(pattern, flags string) Matcher { return Matcher{Pattern: pattern, Flags: flags} }

// IsRegex reports whether the matcher holds a regular expression.
func (m Matcher) IsRegex() bool { return m.Pattern != "" }

// Compile returns the compiled regular expression. Only the "i", "m" and "s"
// flags have an RE2 equivalent; other flags (e.g. "g") are ignored.
func (m Matcher) Compile() (*regexp.Regexp, error) {
	if !m.IsRegex() {
		return nil, fmt.Errorf("matcher is a literal")
	}
	var prefix strings.Builder
	for _, f := range m.Flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteRune(f)
		}
	}
	pattern := m.Pattern
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// Match tests the given text against the matcher. Invalid patterns never match.
func (m Matcher) Match(text string) bool {
	if !m.IsRegex() {
		return text == m.Literal
	}
	re, err := m.Compile()
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// String renders the matcher for logs.
func (m Matcher) String() string {
	if m.IsRegex() {
		return "/" + m.Pattern + "/" + m.Flags
	}
	return fmt.Sprintf("%q", m.Literal)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Matcher) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Matcher{Literal: s}
		return nil
	}
	type alias Matcher
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid matcher: %w", err)
	}
	if a.Pattern == "" {
		return fmt.Errorf("regex matcher requires a non-empty \"source\"")
	}
	*m = Matcher(a)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Matcher) MarshalJSON() ([]byte, error) {
	if !m.IsRegex() {
		return json.Marshal(m.Literal)
	}
	type alias Matcher
	return json.Marshal(alias(m))
}

// -- Element Selectors --

// SelectorType is the discriminator of an element selector.
type SelectorType string

const (
	SelectorQuery       SelectorType = "query"
	SelectorTagName     SelectorType = "tagName"
	SelectorTextContent SelectorType = "textContent"
	SelectorAttributes  SelectorType = "attributes"
)

// ElementSelector is one composable predicate over DOM elements. A list of
// selectors is AND-combined and order-independent.
type ElementSelector interface {
	SelectorType() SelectorType
	isElementSelector()
}

// Query selects elements with a raw CSS query.
type Query struct {
	Query string `json:"query"`
}

// TagName keeps elements with the given tag name (case-insensitive).
type TagName struct {
	TagName string `json:"tagName"`
}

// TextContent keeps elements whose trimmed text content matches.
type TextContent struct {
	Text Matcher `json:"text"`
}

// Attributes keeps elements whose attributes all match.
type Attributes struct {
	Attributes map[string]Matcher `json:"attributes"`
}

func (Query) SelectorType() SelectorType       { return SelectorQuery }
func (TagName) SelectorType() SelectorType     { return SelectorTagName }
func (TextContent) SelectorType() SelectorType { return SelectorTextContent }
func (Attributes) SelectorType() SelectorType  { return SelectorAttributes }

func (Query) isElementSelector()       {}
func (TagName) isElementSelector()     {}
func (TextContent) isElementSelector() {}
func (Attributes) isElementSelector()  {}

// Selectors is an AND-combined list of element selectors.
type Selectors []ElementSelector

// String renders the selector list for logs and execution records.
func (s Selectors) String() string {
	parts := make([]string, 0, len(s))
	for _, sel := range s {
		switch v := sel.(type) {
		case Query:
			parts = append(parts, "query="+v.Query)
		case TagName:
			parts = append(parts, "tag="+v.TagName)
		case TextContent:
			parts = append(parts, "text="+v.Text.String())
		case Attributes:
			attrs := make([]string, 0, len(v.Attributes))
			for name, m := range v.Attributes {
				attrs = append(attrs, name+"="+m.String())
			}
			parts = append(parts, "attrs{"+strings.Join(attrs, ",")+"}")
		}
	}
	return strings.Join(parts, " & ")
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Selectors) UnmarshalJSON(data []byte) error {
	var raws []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("selectors must be a list: %w", err)
	}
	out := make(Selectors, 0, len(raws))
	for i, raw := range raws {
		sel, err := decodeSelector(raw)
		if err != nil {
			return fmt.Errorf("selector %d: %w", i, err)
		}
		out = append(out, sel)
	}
	*s = out
	return nil
}

func decodeSelector(raw []byte) (ElementSelector, error) {
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch SelectorType(typ) {
	case SelectorQuery:
		var v Query
		err = json.Unmarshal(raw, &v)
		return v, err
	case SelectorTagName:
		var v TagName
		err = json.Unmarshal(raw, &v)
		return v, err
	case SelectorTextContent:
		var v TextContent
		err = json.Unmarshal(raw, &v)
		return v, err
	case SelectorAttributes:
		var v Attributes
		err = json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown selector type %q", typ)
	}
}
