// internal/interpreter/agent.go
package interpreter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
)

const defaultAgentAttempts = 3

// ErrNoAgent is returned for a RunAutonomousAgent action when no agent is configured.
var ErrNoAgent = errors.New("no autonomous agent configured")

// AutonomousAgent carries out a free-form task on a page.
type AutonomousAgent interface {
	Run(ctx context.Context, page browser.Page, task schemas.RunAutonomousAgent) error
}

// runAgent retries the agent until it succeeds or its attempts run out.
func (ec *executionContext) runAgent(ctx context.Context, page browser.Page, task schemas.RunAutonomousAgent) error {
	if ec.agent == nil {
		return ErrNoAgent
	}
	attempts := task.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAgentAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ec.agent.Run(ctx, page, task); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ec.logger.Warn("Autonomous agent attempt failed.",
			zap.String("task", task.Task),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
	}
	return fmt.Errorf("autonomous agent failed after %d attempts: %w", attempts, err)
}
