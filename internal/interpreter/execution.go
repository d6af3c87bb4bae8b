// internal/interpreter/execution.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/condition"
	"github.com/xkilldash9x/scraperflow/internal/databridge"
	"github.com/xkilldash9x/scraperflow/internal/execinfo"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// jumpRequest carries a jump out of a nested list whose own list lacks the marker.
type jumpRequest struct {
	marker string
}

func (j *jumpRequest) Error() string {
	return fmt.Sprintf("%s: %q", ErrMarkerNotFound, j.marker)
}

func (j *jumpRequest) Unwrap() error { return ErrMarkerNotFound }

// executionContext is the state of one execution.
type executionContext struct {
	interp *Interpreter
	logger *zap.Logger
	log    *execinfo.Log

	bridge  databridge.Bridge
	pages   *browser.Manager
	engine  *selector.Engine
	cond    *condition.Evaluator
	limiter *rate.Limiter
	system  SystemActionDispatcher
	agent   AutonomousAgent

	jumps    int
	maxJumps int
}

func (ec *executionContext) run(ctx context.Context, instructions schemas.Instructions) error {
	err := ec.runList(ctx, instructions, 0)
	var jr *jumpRequest
	if errors.As(err, &jr) {
		return fmt.Errorf("%w: %q", ErrMarkerNotFound, jr.marker)
	}
	return err
}

// runList walks list with an instruction pointer. Nested lists run at level+1.
// A jump resolves against list first; a marker list does not hold travels
// outward as a *jumpRequest.
func (ec *executionContext) runList(ctx context.Context, list schemas.Instructions, level int) error {
	var markers map[string]int
	for ip := 0; ip < len(list); {
		if ctx.Err() != nil {
			return ErrAborted
		}

		target, err := ec.step(ctx, list[ip], level)
		var jr *jumpRequest
		switch {
		case err == nil && target == "":
			ip++
			continue
		case err == nil:
			jr = &jumpRequest{marker: target}
		case !errors.As(err, &jr):
			return err
		}

		if markers == nil {
			markers = markerIndex(list)
		}
		at, ok := markers[jr.marker]
		if !ok {
			return jr
		}
		ec.jumps++
		if ec.jumps > ec.maxJumps {
			return fmt.Errorf("%w: more than %d jumps", ErrJumpLimit, ec.maxJumps)
		}
		ec.logger.Debug("Jumping to marker.", zap.String("marker", jr.marker), zap.Int("level", level), zap.Int("index", at))
		ip = at
	}
	return nil
}

// step runs one instruction. It returns the marker name when the
// instruction is a jump.
func (ec *executionContext) step(ctx context.Context, instr schemas.Instruction, level int) (jumpTo string, err error) {
	start := time.Now()
	switch t := instr.(type) {
	case schemas.PageActionInstruction:
		if err := ec.pageAction(ctx, t.Action); err != nil {
			return "", fmt.Errorf("%s failed: %w", schemas.DescribeAction(t.Action), err)
		}
		ec.record(instr, level, nil, start)

	case schemas.ConditionInstruction:
		met := ec.cond.Check(ctx, t.If)
		ec.record(instr, level, &met, start)
		branch := t.Else
		if met {
			branch = t.Then
		}
		if err := ec.runList(ctx, branch, level+1); err != nil {
			return "", err
		}

	case schemas.SaveData:
		if err := ec.saveData(ctx, t); err != nil {
			return "", err
		}
		ec.record(instr, level, nil, start)

	case schemas.SaveDataBatch:
		if err := ec.saveDataBatch(ctx, t); err != nil {
			return "", err
		}
		ec.record(instr, level, nil, start)

	case schemas.DeleteData:
		if err := ec.bridge.Delete(ctx, t.DataSourceName); err != nil {
			return "", fmt.Errorf("failed to delete from %s: %w", t.DataSourceName, err)
		}
		ec.record(instr, level, nil, start)

	case schemas.Marker:
		ec.record(instr, level, nil, start)

	case schemas.Jump:
		ec.record(instr, level, nil, start)
		return t.MarkerName, nil

	case schemas.DeleteCookies:
		page, err := ec.pages.Get(ctx, 0)
		if err != nil {
			return "", err
		}
		if err := page.DeleteCookies(ctx); err != nil {
			return "", err
		}
		ec.record(instr, level, nil, start)

	case schemas.SystemAction:
		if err := ec.system.Dispatch(ctx, t); err != nil {
			return "", fmt.Errorf("system action %s failed: %w", t.Action, err)
		}
		ec.record(instr, level, nil, start)

	default:
		return "", fmt.Errorf("unsupported instruction %T", instr)
	}
	return "", nil
}

func (ec *executionContext) record(instr schemas.Instruction, level int, isMet *bool, start time.Time) {
	ec.log.Push(schemas.NewInstructionInfo(instr, level, isMet, time.Since(start)), true)
}

func (ec *executionContext) saveData(ctx context.Context, s schemas.SaveData) error {
	v, err := ec.engine.ResolveValue(ctx, s.Value)
	if err != nil {
		return fmt.Errorf("failed to resolve value for %s: %w", s.DataKey, err)
	}
	if err := ec.bridge.Set(ctx, s.DataKey, v); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.DataKey, err)
	}
	return nil
}

func (ec *executionContext) saveDataBatch(ctx context.Context, s schemas.SaveDataBatch) error {
	cols := make([]databridge.Column, 0, len(s.Items))
	for _, item := range s.Items {
		v, err := ec.engine.ResolveValue(ctx, item.Value)
		if err != nil {
			return fmt.Errorf("failed to resolve value for %s.%s: %w", s.DataSourceName, item.ColumnName, err)
		}
		cols = append(cols, databridge.Column{Name: item.ColumnName, Value: v})
	}
	if err := ec.bridge.SetMany(ctx, s.DataSourceName, cols); err != nil {
		return fmt.Errorf("failed to save batch to %s: %w", s.DataSourceName, err)
	}
	return nil
}
