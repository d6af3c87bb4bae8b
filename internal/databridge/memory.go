// internal/databridge/memory.go
package databridge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// Row is one record of a MemoryBridge table.
type Row map[string]schemas.Scalar

type memorySource struct {
	alias   string
	table   string
	key     string
	filters []schemas.Filter
}

// MemoryBridge is a Bridge over in-process tables. It is used for dry runs and
// tests, and evaluates filters the way the PostgreSQL views would.
type MemoryBridge struct {
	log *zap.Logger

	mu      sync.Mutex
	tables  map[string][]Row
	sources map[string]*memorySource
	cursor  *cursor
}

// NewMemoryBridge binds decls and the optional iterator over tables. The
// tables map is copied.
func NewMemoryBridge(tables map[string][]Row, decls []schemas.DataSourceDeclaration, it schemas.Iterator, logger *zap.Logger) (*MemoryBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MemoryBridge{
		log:     logger.Named("databridge"),
		tables:  make(map[string][]Row, len(tables)),
		sources: make(map[string]*memorySource, len(decls)),
	}
	for name, rows := range tables {
		copied := make([]Row, len(rows))
		for i, r := range rows {
			copied[i] = cloneRow(r)
		}
		b.tables[name] = copied
	}

	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := b.sources[d.SourceAlias]; dup {
			return nil, fmt.Errorf("data source %q declared twice", d.SourceAlias)
		}
		src := &memorySource{alias: d.SourceAlias, table: d.SourceTableName, key: d.Key()}
		if len(d.Filter) > 0 {
			if err := d.Filter.Validate(); err != nil {
				return nil, fmt.Errorf("failed to bind source %q: %w", d.SourceAlias, err)
			}
			src.filters = append(src.filters, d.Filter)
		}
		b.sources[d.SourceAlias] = src
	}

	total := 0
	if it != nil {
		src, ok := b.sources[it.Source()]
		if !ok {
			return nil, fmt.Errorf("%w: iterator source %q", ErrUnknownSource, it.Source())
		}
		switch t := it.(type) {
		case schemas.FilteredSetIterator:
			if err := t.Filter.Validate(); err != nil {
				return nil, fmt.Errorf("failed to bind iterator over %q: %w", src.alias, err)
			}
			src.filters = append(src.filters, t.Filter)
			total = len(b.relation(src))
		case schemas.EntireSetIterator:
			total = len(b.relation(src))
		}
	}
	b.cursor = newCursor(it, total)
	return b, nil
}

// Rows returns a copy of a table's rows in storage order.
func (b *MemoryBridge) Rows(table string) []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Row, len(b.tables[table]))
	for i, r := range b.tables[table] {
		out[i] = cloneRow(r)
	}
	return out
}

func (b *MemoryBridge) source(name string) (*memorySource, error) {
	src, ok := b.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// relation returns the rows visible through src, ordered by its key column.
// The returned rows alias the table's rows. Callers hold b.mu.
func (b *MemoryBridge) relation(src *memorySource) []Row {
	var rows []Row
	for _, r := range b.tables[src.table] {
		if matchesAll(r, src.filters) {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareScalars(rows[i][src.key], rows[j][src.key]) < 0
	})
	return rows
}

func (b *MemoryBridge) rowAtCursor(src *memorySource) Row {
	rows := b.relation(src)
	off := b.cursor.offset(src.alias)
	if off < 0 || off >= len(rows) {
		return nil
	}
	return rows[off]
}

func (b *MemoryBridge) Get(_ context.Context, key string) (schemas.Scalar, error) {
	sourceName, column, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	src, err := b.source(sourceName)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.rowAtCursor(src)
	if row == nil {
		return nil, nil
	}
	return row[column], nil
}

func (b *MemoryBridge) Set(ctx context.Context, key string, value schemas.Scalar) error {
	sourceName, column, err := ParseKey(key)
	if err != nil {
		return err
	}
	return b.SetMany(ctx, sourceName, []Column{{Name: column, Value: value}})
}

func (b *MemoryBridge) SetMany(_ context.Context, sourceName string, items []Column) error {
	if len(items) == 0 {
		return nil
	}
	src, err := b.source(sourceName)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Name == "" {
			return fmt.Errorf("%w: empty column name for source %q", ErrInvalidKey, sourceName)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if row := b.rowAtCursor(src); row != nil {
		for _, item := range items {
			row[item.Name] = item.Value
		}
		return nil
	}

	row := make(Row, len(items)+1)
	for _, item := range items {
		row[item.Name] = item.Value
	}
	if _, ok := row[src.key]; !ok {
		row[src.key] = b.nextKey(src)
	}
	b.tables[src.table] = append(b.tables[src.table], row)
	b.log.Debug("No row at cursor; inserted a new one.", zap.String("source", sourceName))
	return nil
}

// nextKey emulates a serial key column.
func (b *MemoryBridge) nextKey(src *memorySource) int64 {
	var highest int64
	for _, r := range b.tables[src.table] {
		if n, ok := toFloat(r[src.key]); ok && int64(n) > highest {
			highest = int64(n)
		}
	}
	return highest + 1
}

func (b *MemoryBridge) Delete(ctx context.Context, sourceName string) error {
	_, err := b.deleteRow(ctx, sourceName)
	return err
}

func (b *MemoryBridge) deleteRow(_ context.Context, sourceName string) (bool, error) {
	src, err := b.source(sourceName)
	if err != nil {
		return false, err
	}
	if !b.cursor.bound(sourceName) {
		b.log.Error("Refusing to delete: the active iterator is not bound to this source.",
			zap.String("source", sourceName))
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	target := b.rowAtCursor(src)
	if target == nil {
		return true, nil
	}
	rows := b.tables[src.table]
	for i, r := range rows {
		if sameRow(r, target) {
			b.tables[src.table] = append(rows[:i:i], rows[i+1:]...)
			b.cursor.deleted()
			return true, nil
		}
	}
	return true, nil
}

// GetSchema reports the Go type of the first non-nil value of every column.
func (b *MemoryBridge) GetSchema(_ context.Context) (Schema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	schema := make(Schema)
	for alias, src := range b.sources {
		for _, r := range b.tables[src.table] {
			for col, v := range r {
				key := alias + "." + col
				if prev, seen := schema[key]; seen && (v == nil || prev != "unknown") {
					continue
				}
				if v == nil {
					schema[key] = "unknown"
				} else {
					schema[key] = fmt.Sprintf("%T", v)
				}
			}
		}
	}
	return schema, nil
}

func (b *MemoryBridge) NextIteration()        { b.cursor.next() }
func (b *MemoryBridge) IsLastIteration() bool { return b.cursor.isLast() }

func (b *MemoryBridge) ResolveSpecialString(ctx context.Context, s string) string {
	return ResolveSpecialString(ctx, b, s)
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// sameRow compares map identity.
func sameRow(a, b Row) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

func matchesAll(r Row, filters []schemas.Filter) bool {
	for _, f := range filters {
		for _, c := range f {
			if !matches(r[c.Column], c) {
				return false
			}
		}
	}
	return true
}

func matches(v schemas.Scalar, c schemas.FilterCondition) bool {
	switch c.Operator {
	case schemas.OpIsNull:
		return v == nil
	case schemas.OpIsNotNull:
		return v != nil
	}
	// SQL comparisons with NULL are never true.
	if v == nil || c.Value == nil {
		return false
	}
	switch c.Operator {
	case schemas.OpLike, schemas.OpILike:
		re, err := likePattern(schemas.ScalarString(c.Value), c.Operator == schemas.OpILike)
		if err != nil {
			return false
		}
		return re.MatchString(schemas.ScalarString(v))
	}
	cmp := compareScalars(v, c.Value)
	switch c.Operator {
	case schemas.OpEqual:
		return cmp == 0
	case schemas.OpNotEqual:
		return cmp != 0
	case schemas.OpLess:
		return cmp < 0
	case schemas.OpLessEqual:
		return cmp <= 0
	case schemas.OpGreater:
		return cmp > 0
	case schemas.OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

// likePattern translates a SQL LIKE pattern into an anchored regexp.
func likePattern(pattern string, fold bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if fold {
		sb.WriteString("(?is)")
	} else {
		sb.WriteString("(?s)")
	}
	sb.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteByte('$')
	return regexp.Compile(sb.String())
}

// compareScalars orders numbers numerically, everything else by its string
// form. Nil sorts last, as NULL does in an ascending ORDER BY.
func compareScalars(a, b schemas.Scalar) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(schemas.ScalarString(a), schemas.ScalarString(b))
}

func toFloat(v schemas.Scalar) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
