// internal/databridge/sql.go
package databridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// buildPredicate renders an AND-combined filter as a WHERE clause. View
// definitions cannot take bind parameters, so values are inlined as literals.
func buildPredicate(filter schemas.Filter) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", err
	}
	if len(filter) == 0 {
		return "TRUE", nil
	}
	terms := make([]string, 0, len(filter))
	for _, c := range filter {
		col := pgx.Identifier{c.Column}.Sanitize()
		if c.Operator.Unary() {
			terms = append(terms, fmt.Sprintf("%s %s", col, c.Operator))
			continue
		}
		lit, err := quoteLiteral(c.Value)
		if err != nil {
			return "", fmt.Errorf("filter on %q: %w", c.Column, err)
		}
		op := string(c.Operator)
		if c.Operator == schemas.OpNotEqual {
			op = "<>"
		}
		terms = append(terms, fmt.Sprintf("%s %s %s", col, op, lit))
	}
	return strings.Join(terms, " AND "), nil
}

// quoteLiteral renders a scalar as a PostgreSQL literal.
func quoteLiteral(v schemas.Scalar) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		switch {
		case math.IsNaN(t):
			return "'NaN'::float8", nil
		case math.IsInf(t, 1):
			return "'Infinity'::float8", nil
		case math.IsInf(t, -1):
			return "'-Infinity'::float8", nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case string:
		if strings.ContainsRune(t, 0) {
			return "", fmt.Errorf("string literal contains a NUL byte")
		}
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

// coerce maps values scanned by pgx onto the scalar domain.
func coerce(v any) schemas.Scalar {
	switch t := v.(type) {
	case nil, string, bool, float64, int64:
		return t
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return fmt.Sprint(t)
	}
}
