// api/schemas/conditions.go
package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ConditionType is the discriminator of a condition.
type ConditionType string

const (
	ConditionIsVisible  ConditionType = "isVisible"
	ConditionTextEquals ConditionType = "textEquals"
)

// Condition is a boolean predicate evaluated against a page or the data bridge.
type Condition interface {
	ConditionType() ConditionType
	isCondition()
}

// IsVisible is true iff the selectors resolve to exactly one visible element.
type IsVisible struct {
	Selectors Selectors `json:"selectors"`
	PageIndex int       `json:"pageIndex,omitempty"`
}

// TextEquals resolves a value and compares it with Text.
type TextEquals struct {
	ValueSelector ScraperValue `json:"-"`
	Text          Matcher      `json:"text"`
}

func (IsVisible) ConditionType() ConditionType  { return ConditionIsVisible }
func (TextEquals) ConditionType() ConditionType { return ConditionTextEquals }

func (IsVisible) isCondition()  {}
func (TextEquals) isCondition() {}

// UnmarshalJSON implements json.Unmarshaler.
func (c *TextEquals) UnmarshalJSON(data []byte) error {
	var raw struct {
		ValueSelector jsoniter.RawMessage `json:"valueSelector"`
		Text          Matcher             `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := decodeValue(raw.ValueSelector)
	if err != nil {
		return fmt.Errorf("textEquals.valueSelector: %w", err)
	}
	if value == nil {
		return fmt.Errorf("textEquals requires a valueSelector")
	}
	c.ValueSelector = value
	c.Text = raw.Text
	return nil
}

// DescribeCondition renders a condition for execution records.
func DescribeCondition(c Condition) string {
	switch t := c.(type) {
	case IsVisible:
		return "isVisible(" + t.Selectors.String() + ")"
	case TextEquals:
		return "textEquals(" + DescribeValue(t.ValueSelector) + ", " + t.Text.String() + ")"
	default:
		return "<none>"
	}
}

func decodeCondition(raw []byte) (Condition, error) {
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch ConditionType(typ) {
	case ConditionIsVisible:
		var v IsVisible
		err = json.Unmarshal(raw, &v)
		return v, err
	case ConditionTextEquals:
		var v TextEquals
		err = json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown condition type %q", typ)
	}
}
