// internal/condition/evaluator.go
package condition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// Elements is the part of the selector engine a condition needs.
type Elements interface {
	GetElementHandle(ctx context.Context, selectors schemas.Selectors, pageIndex int, required bool) (*selector.Handle, error)
	ResolveValue(ctx context.Context, v schemas.ScraperValue) (schemas.Scalar, error)
}

// Evaluator checks conditions against pages and the data bridge.
type Evaluator struct {
	elements Elements
	logger   *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(elements Elements, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{elements: elements, logger: logger.Named("condition")}
}

// Check reports whether cond holds. It never fails: any error is logged and
// the condition counts as not met.
func (e *Evaluator) Check(ctx context.Context, cond schemas.Condition) bool {
	met, err := e.evaluate(ctx, cond)
	if err != nil {
		e.logger.Error("Condition evaluation failed; treating as not met.",
			zap.String("condition", schemas.DescribeCondition(cond)),
			zap.Error(err))
		return false
	}
	return met
}

func (e *Evaluator) evaluate(ctx context.Context, cond schemas.Condition) (bool, error) {
	switch c := cond.(type) {
	case schemas.IsVisible:
		h, err := e.elements.GetElementHandle(ctx, c.Selectors, c.PageIndex, false)
		if err != nil {
			return false, err
		}
		return h != nil, nil
	case schemas.TextEquals:
		v, err := e.elements.ResolveValue(ctx, c.ValueSelector)
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, nil
		}
		text := schemas.ScalarString(v)
		if !c.Text.IsRegex() {
			return text == c.Text.Literal, nil
		}
		re, err := c.Text.Compile()
		if err != nil {
			return false, fmt.Errorf("invalid pattern %s: %w", c.Text, err)
		}
		return re.MatchString(text), nil
	case nil:
		return false, fmt.Errorf("missing condition")
	default:
		return false, fmt.Errorf("unsupported condition %T", cond)
	}
}
