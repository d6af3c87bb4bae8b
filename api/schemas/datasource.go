// api/schemas/datasource.go
package schemas

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// DefaultKeyColumn orders the rows of a source when no key column is declared.
const DefaultKeyColumn = "id"

// FilterOperator is a comparison usable in a source filter predicate.
type FilterOperator string

const (
	OpEqual        FilterOperator = "="
	OpNotEqual     FilterOperator = "!="
	OpLess         FilterOperator = "<"
	OpLessEqual    FilterOperator = "<="
	OpGreater      FilterOperator = ">"
	OpGreaterEqual FilterOperator = ">="
	OpLike         FilterOperator = "LIKE"
	OpILike        FilterOperator = "ILIKE"
	OpIsNull       FilterOperator = "IS NULL"
	OpIsNotNull    FilterOperator = "IS NOT NULL"
)

// Valid reports whether the operator is supported.
func (o FilterOperator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual,
		OpLike, OpILike, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// Unary reports whether the operator takes no right-hand value.
func (o FilterOperator) Unary() bool { return o == OpIsNull || o == OpIsNotNull }

// FilterCondition is one AND-combined term of a filter predicate.
type FilterCondition struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    Scalar         `json:"value,omitempty"`
}

// Filter is an AND-combined predicate over the columns of one table.
type Filter []FilterCondition

// Validate checks operators and column names.
func (f Filter) Validate() error {
	for i, c := range f {
		if c.Column == "" {
			return fmt.Errorf("filter %d: empty column", i)
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("filter %d: unsupported operator %q", i, c.Operator)
		}
	}
	return nil
}

// DataSourceDeclaration binds a logical source name (the alias) to a table.
type DataSourceDeclaration struct {
	SourceTableName string `json:"sourceTableName"`
	SourceAlias     string `json:"sourceAlias"`
	// KeyColumn orders the rows walked by the cursor. Defaults to "id".
	KeyColumn string `json:"keyColumn,omitempty"`
	Filter    Filter `json:"filter,omitempty"`
}

// Key returns the declared key column or the default.
func (d DataSourceDeclaration) Key() string {
	if d.KeyColumn == "" {
		return DefaultKeyColumn
	}
	return d.KeyColumn
}

// Validate checks the declaration before it is bound.
func (d DataSourceDeclaration) Validate() error {
	if d.SourceAlias == "" {
		return fmt.Errorf("data source declaration requires a sourceAlias")
	}
	if strings.Contains(d.SourceAlias, ".") {
		return fmt.Errorf("source alias %q must not contain '.'", d.SourceAlias)
	}
	if d.SourceTableName == "" {
		return fmt.Errorf("source %q requires a sourceTableName", d.SourceAlias)
	}
	if err := d.Filter.Validate(); err != nil {
		return fmt.Errorf("source %q: %w", d.SourceAlias, err)
	}
	return nil
}

// -- Iterators --

// IteratorType is the discriminator of an iterator.
type IteratorType string

const (
	IteratorRange       IteratorType = "range"
	IteratorEntireSet   IteratorType = "entireSet"
	IteratorFilteredSet IteratorType = "filteredSet"
)

// Iterator drives the cursor of exactly one source across executions.
type Iterator interface {
	IteratorType() IteratorType
	// Source returns the name of the source whose cursor the iterator moves.
	Source() string
	isIterator()
}

// RangeIterator walks a numeric progression of offsets. Start equal to End
// is a single terminal value.
type RangeIterator struct {
	DataSourceName string `json:"dataSourceName"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	Step           int    `json:"step,omitempty"`
}

// EntireSetIterator walks every row of a source.
type EntireSetIterator struct {
	DataSourceName string `json:"dataSourceName"`
}

// FilteredSetIterator walks the rows of a source matching Filter.
type FilteredSetIterator struct {
	DataSourceName string `json:"dataSourceName"`
	Filter         Filter `json:"filter"`
}

func (RangeIterator) IteratorType() IteratorType       { return IteratorRange }
func (EntireSetIterator) IteratorType() IteratorType   { return IteratorEntireSet }
func (FilteredSetIterator) IteratorType() IteratorType { return IteratorFilteredSet }

func (i RangeIterator) Source() string       { return i.DataSourceName }
func (i EntireSetIterator) Source() string   { return i.DataSourceName }
func (i FilteredSetIterator) Source() string { return i.DataSourceName }

func (RangeIterator) isIterator()       {}
func (EntireSetIterator) isIterator()   {}
func (FilteredSetIterator) isIterator() {}

// StepOrDefault returns the step, which is 1 when unset.
func (i RangeIterator) StepOrDefault() int {
	if i.Step <= 0 {
		return 1
	}
	return i.Step
}

// ParseIterator decodes a tagged iterator. Empty input or null yields nil,
// meaning "first row only".
func ParseIterator(raw []byte) (Iterator, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch IteratorType(typ) {
	case IteratorRange:
		var v RangeIterator
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v.Start < 0 {
			return nil, fmt.Errorf("range iterator start %d is negative", v.Start)
		}
		if v.End < v.Start {
			return nil, fmt.Errorf("range iterator end %d is before start %d", v.End, v.Start)
		}
		return v, nil
	case IteratorEntireSet:
		var v EntireSetIterator
		err = json.Unmarshal(raw, &v)
		return v, err
	case IteratorFilteredSet:
		var v FilteredSetIterator
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, v.Filter.Validate()
	default:
		return nil, fmt.Errorf("unknown iterator type %q", typ)
	}
}

// SourcesFile is the on-disk shape of a source declaration file.
type SourcesFile struct {
	Sources  []DataSourceDeclaration `json:"sources"`
	Iterator jsoniter.RawMessage     `json:"iterator,omitempty"`
}

// ParseSourcesFile decodes declarations and the optional iterator.
func ParseSourcesFile(data []byte) ([]DataSourceDeclaration, Iterator, error) {
	var f SourcesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("invalid sources file: %w", err)
	}
	for _, d := range f.Sources {
		if err := d.Validate(); err != nil {
			return nil, nil, err
		}
	}
	it, err := ParseIterator(f.Iterator)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid iterator: %w", err)
	}
	return f.Sources, it, nil
}
