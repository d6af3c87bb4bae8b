// api/schemas/values.go
package schemas

import (
	"fmt"
	"strconv"
)

// Scalar is the resolved form of any scraper value: nil, string, bool or a number.
type Scalar = any

// ScalarString converts a scalar to the string that would be typed into a page
// or substituted into a special string. Nil becomes the empty string.
func ScalarString(v Scalar) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ValueType is the discriminator of a scraper value.
type ValueType string

const (
	ValueLiteral            ValueType = "literal"
	ValueNull               ValueType = "null"
	ValueCurrentTimestamp   ValueType = "currentTimestamp"
	ValueExternalData       ValueType = "externalData"
	ValueElementTextContent ValueType = "elementTextContent"
	ValueElementAttribute   ValueType = "elementAttribute"
)

// ScraperValue is the read-side counterpart of a selector. Every variant
// resolves to a Scalar.
type ScraperValue interface {
	ValueType() ValueType
	isScraperValue()
}

// Literal is a constant. String literals may embed {{source.column}}.
type Literal struct {
	Value Scalar `json:"value"`
}

// Null always resolves to nil.
type Null struct{}

// CurrentTimestamp resolves to the current UTC time in RFC 3339 form.
type CurrentTimestamp struct{}

// ExternalData reads a "source.column" key from the data bridge.
type ExternalData struct {
	DataKey      string `json:"dataKey"`
	DefaultValue Scalar `json:"defaultValue,omitempty"`
}

// ElementTextContent reads the text content of the selected element.
type ElementTextContent struct {
	Selectors Selectors `json:"selectors"`
	PageIndex int       `json:"pageIndex,omitempty"`
}

// ElementAttribute reads an attribute of the selected element.
type ElementAttribute struct {
	Selectors     Selectors `json:"selectors"`
	AttributeName string    `json:"attributeName"`
	PageIndex     int       `json:"pageIndex,omitempty"`
}

func (Literal) ValueType() ValueType            { return ValueLiteral }
func (Null) ValueType() ValueType               { return ValueNull }
func (CurrentTimestamp) ValueType() ValueType   { return ValueCurrentTimestamp }
func (ExternalData) ValueType() ValueType       { return ValueExternalData }
func (ElementTextContent) ValueType() ValueType { return ValueElementTextContent }
func (ElementAttribute) ValueType() ValueType   { return ValueElementAttribute }

func (Literal) isScraperValue()            {}
func (Null) isScraperValue()               {}
func (CurrentTimestamp) isScraperValue()   {}
func (ExternalData) isScraperValue()       {}
func (ElementTextContent) isScraperValue() {}
func (ElementAttribute) isScraperValue()   {}

// DescribeValue renders a scraper value for execution records.
func DescribeValue(v ScraperValue) string {
	switch t := v.(type) {
	case nil:
		return "<none>"
	case Literal:
		return fmt.Sprintf("literal(%v)", t.Value)
	case Null:
		return "null"
	case CurrentTimestamp:
		return "currentTimestamp"
	case ExternalData:
		return "externalData(" + t.DataKey + ")"
	case ElementTextContent:
		return "textOf(" + t.Selectors.String() + ")"
	case ElementAttribute:
		return "attr(" + t.Selectors.String() + ", " + t.AttributeName + ")"
	default:
		return string(v.ValueType())
	}
}

func decodeValue(raw []byte) (ScraperValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch ValueType(typ) {
	case ValueLiteral:
		var v Literal
		err = json.Unmarshal(raw, &v)
		return v, err
	case ValueNull:
		return Null{}, nil
	case ValueCurrentTimestamp:
		return CurrentTimestamp{}, nil
	case ValueExternalData:
		var v ExternalData
		err = json.Unmarshal(raw, &v)
		return v, err
	case ValueElementTextContent:
		var v ElementTextContent
		err = json.Unmarshal(raw, &v)
		return v, err
	case ValueElementAttribute:
		var v ElementAttribute
		err = json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown value type %q", typ)
	}
}
