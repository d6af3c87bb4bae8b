// internal/interpreter/system_actions.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// ErrCommandNotAllowed is returned for a command missing from the whitelist.
var ErrCommandNotAllowed = errors.New("command is not in the allowed list")

const defaultCommandTimeout = time.Minute

// SystemActionDispatcher performs the process-level side effect of a SystemAction.
type SystemActionDispatcher interface {
	Dispatch(ctx context.Context, action schemas.SystemAction) error
}

// LoggingDispatcher only logs the actions it receives.
type LoggingDispatcher struct {
	logger *zap.Logger
}

// NewLoggingDispatcher creates a LoggingDispatcher.
func NewLoggingDispatcher(logger *zap.Logger) *LoggingDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingDispatcher{logger: logger.Named("system_action")}
}

func (d *LoggingDispatcher) Dispatch(_ context.Context, action schemas.SystemAction) error {
	switch action.Action {
	case schemas.SystemActionShowNotification:
		d.logger.Info("Notification.",
			zap.String("title", action.Payload["title"]),
			zap.String("message", action.Payload["message"]))
	default:
		d.logger.Info("System action.", zap.String("action", string(action.Action)), zap.Any("payload", action.Payload))
	}
	return nil
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandDispatcher runs executeCommand actions whose command is whitelisted
// and hands every other action to a fallback dispatcher.
type CommandDispatcher struct {
	allowed  map[string]bool
	fallback SystemActionDispatcher
	run      CommandRunner
	timeout  time.Duration
	logger   *zap.Logger
}

// CommandOption configures a CommandDispatcher.
type CommandOption func(*CommandDispatcher)

// WithCommandRunner replaces os/exec.
func WithCommandRunner(run CommandRunner) CommandOption {
	return func(d *CommandDispatcher) { d.run = run }
}

// WithCommandTimeout bounds each command.
func WithCommandTimeout(timeout time.Duration) CommandOption {
	return func(d *CommandDispatcher) { d.timeout = timeout }
}

// NewCommandDispatcher creates a CommandDispatcher allowing the given command names.
func NewCommandDispatcher(allowed []string, fallback SystemActionDispatcher, logger *zap.Logger, opts ...CommandOption) *CommandDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = NewLoggingDispatcher(logger)
	}
	d := &CommandDispatcher{
		allowed:  make(map[string]bool, len(allowed)),
		fallback: fallback,
		run:      runCommand,
		timeout:  defaultCommandTimeout,
		logger:   logger.Named("system_action"),
	}
	for _, name := range allowed {
		d.allowed[name] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch expects the payload keys "command" and, optionally, "args" as a
// whitespace-separated list.
func (d *CommandDispatcher) Dispatch(ctx context.Context, action schemas.SystemAction) error {
	if action.Action != schemas.SystemActionExecuteCommand {
		return d.fallback.Dispatch(ctx, action)
	}
	name := action.Payload["command"]
	if name == "" {
		return fmt.Errorf("executeCommand requires a \"command\" in its payload")
	}
	if !d.allowed[name] {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, name)
	}
	args := strings.Fields(action.Payload["args"])

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	d.logger.Info("Running command.", zap.String("command", name), zap.Strings("args", args))
	output, err := d.run(cctx, name, args...)
	if err != nil {
		return fmt.Errorf("command %q failed: %w\nOutput: %s", name, err, string(output))
	}
	d.logger.Debug("Command finished.", zap.String("command", name), zap.ByteString("output", output))
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
