// internal/selector/values.go
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// ResolveValue reduces a scraper value to a scalar. Literal strings have their
// special strings substituted; element values read nil when nothing matches.
func (e *Engine) ResolveValue(ctx context.Context, v schemas.ScraperValue) (schemas.Scalar, error) {
	switch t := v.(type) {
	case nil, schemas.Null:
		return nil, nil
	case schemas.Literal:
		if s, ok := t.Value.(string); ok && e.data != nil {
			return e.data.ResolveSpecialString(ctx, s), nil
		}
		return t.Value, nil
	case schemas.CurrentTimestamp:
		return e.now().UTC().Format(time.RFC3339), nil
	case schemas.ExternalData:
		if e.data == nil {
			return t.DefaultValue, nil
		}
		got, err := e.data.Get(ctx, t.DataKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", t.DataKey, err)
		}
		if got == nil {
			return t.DefaultValue, nil
		}
		return got, nil
	case schemas.ElementTextContent:
		return e.TextOf(ctx, t.Selectors, t.PageIndex)
	case schemas.ElementAttribute:
		return e.AttributeOf(ctx, t.Selectors, t.PageIndex, t.AttributeName)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
