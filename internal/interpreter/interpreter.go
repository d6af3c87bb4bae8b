// internal/interpreter/interpreter.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/captcha"
	"github.com/xkilldash9x/scraperflow/internal/condition"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/databridge"
	"github.com/xkilldash9x/scraperflow/internal/execinfo"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

var (
	// ErrEmptyInstructions is returned for an empty top-level list.
	ErrEmptyInstructions = errors.New("instruction list is empty")
	// ErrFirstInstruction is returned when the program does not start with a
	// navigation or a cookie deletion.
	ErrFirstInstruction = errors.New("first instruction must be a navigation or a cookie deletion")
	// ErrMarkerNotFound is returned for a jump whose marker is in no enclosing list.
	ErrMarkerNotFound = errors.New("marker not found")
	// ErrAborted is the error of an execution whose context was cancelled.
	ErrAborted = errors.New("execution aborted")
	// ErrJumpLimit is returned once an execution performs more jumps than allowed.
	ErrJumpLimit = errors.New("jump limit exceeded")
)

const (
	defaultMaxJumps = 10000
	teardownTimeout = 30 * time.Second
)

// Browser is the browser an execution opens its pages in. *browser.Browser
// satisfies it.
type Browser interface {
	browser.Opener
	Close(ctx context.Context) error
}

// Launcher starts a fresh browser for one execution.
type Launcher func(ctx context.Context) (Browser, error)

// CaptchaSolver clears challenges after page-mutating actions.
type CaptchaSolver interface {
	DetectAndSolve(ctx context.Context, page captcha.Page) error
}

// Options tunes a single execution.
type Options struct {
	// PageMiddlewares run once on every newly opened page.
	PageMiddlewares []browser.PageMiddleware
	// LeavePagesOpen keeps the pages and the browser alive until ctx is done.
	LeavePagesOpen bool
	SystemActions  SystemActionDispatcher
	Agent          AutonomousAgent
	// MaxJumps bounds the jumps of one execution. Zero uses the configured value.
	MaxJumps int
	// Log receives the records. A new log is created when nil, so callers
	// that want to stream progress pass their own, already subscribed.
	Log *execinfo.Log
	// Watch is called with each execution's log before the first record is
	// pushed. It is how ExecuteIterations callers stream progress.
	Watch func(log *execinfo.Log)

	hold *runHold
}

// runHold lets ExecuteIterations close a LeavePagesOpen run before ctx is done.
type runHold struct {
	release chan struct{}
	closed  chan struct{}
}

func newRunHold() *runHold {
	return &runHold{release: make(chan struct{}), closed: make(chan struct{})}
}

// Interpreter runs instruction trees. It holds no per-execution state and may
// run several executions concurrently, each in its own browser.
type Interpreter struct {
	cfg    config.Interface
	launch Launcher
	solver CaptchaSolver
	logger *zap.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithCaptchaSolver replaces the solver built from the captcha configuration.
func WithCaptchaSolver(s CaptchaSolver) Option {
	return func(i *Interpreter) { i.solver = s }
}

// New creates an Interpreter that launches a browser per execution.
func New(cfg config.Interface, launch Launcher, logger *zap.Logger, opts ...Option) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Interpreter{
		cfg:    cfg,
		launch: launch,
		logger: logger.Named("interpreter"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.solver == nil {
		i.solver = captcha.NewSolver(cfg.Captcha(), logger)
	}
	return i
}

// Execute runs instructions against bridge and returns the execution's log,
// which always ends with exactly one Success or Error record. Cancelling ctx
// aborts the execution after the current instruction.
func (i *Interpreter) Execute(ctx context.Context, instructions schemas.Instructions, bridge databridge.Bridge, opts Options) *execinfo.Log {
	log := opts.Log
	if log == nil {
		log = execinfo.New(i.logger)
	}
	if opts.Watch != nil {
		opts.Watch(log)
	}
	logger := i.logger.With(zap.String("execution_id", uuid.NewString()))
	start := time.Now()

	err := i.execute(ctx, instructions, bridge, opts, log, logger)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil && !structural(err) {
			err = ErrAborted
		}
		logger.Error("Execution failed.", zap.Error(err), zap.Duration("duration", elapsed))
		log.Push(schemas.NewError(err.Error(), elapsed), true)
		return log
	}
	logger.Info("Execution succeeded.", zap.Duration("duration", elapsed))
	log.Push(schemas.NewSuccess(elapsed), true)
	return log
}

// structural reports whether err comes from the shape of the program rather
// than from running it.
func structural(err error) bool {
	return errors.Is(err, ErrEmptyInstructions) ||
		errors.Is(err, ErrFirstInstruction) ||
		errors.Is(err, ErrMarkerNotFound)
}

// Validate checks the structural invariants of a program without running it.
func Validate(instructions schemas.Instructions) error {
	if len(instructions) == 0 {
		return ErrEmptyInstructions
	}
	switch first := instructions[0].(type) {
	case schemas.DeleteCookies:
	case schemas.PageActionInstruction:
		if _, ok := first.Action.(schemas.Navigate); !ok {
			return fmt.Errorf("%w, got %s", ErrFirstInstruction, schemas.Describe(first))
		}
	default:
		return fmt.Errorf("%w, got %s", ErrFirstInstruction, schemas.Describe(first))
	}
	return checkJumps(instructions, nil)
}

// checkJumps verifies that every jump has its marker in its own list or in
// one of the lists enclosing it.
func checkJumps(list schemas.Instructions, enclosing []map[string]int) error {
	scopes := make([]map[string]int, 0, len(enclosing)+1)
	scopes = append(append(scopes, enclosing...), markerIndex(list))
	for _, instr := range list {
		switch t := instr.(type) {
		case schemas.Jump:
			if !inScope(scopes, t.MarkerName) {
				return fmt.Errorf("%w: %q", ErrMarkerNotFound, t.MarkerName)
			}
		case schemas.ConditionInstruction:
			if err := checkJumps(t.Then, scopes); err != nil {
				return err
			}
			if err := checkJumps(t.Else, scopes); err != nil {
				return err
			}
		}
	}
	return nil
}

func inScope(scopes []map[string]int, name string) bool {
	for _, s := range scopes {
		if _, ok := s[name]; ok {
			return true
		}
	}
	return false
}

// markerIndex maps the marker names of list to their first position.
func markerIndex(list schemas.Instructions) map[string]int {
	idx := make(map[string]int)
	for n, instr := range list {
		if m, ok := instr.(schemas.Marker); ok {
			if _, dup := idx[m.Name]; !dup {
				idx[m.Name] = n
			}
		}
	}
	return idx
}

func (i *Interpreter) execute(ctx context.Context, instructions schemas.Instructions, bridge databridge.Bridge, opts Options, log *execinfo.Log, logger *zap.Logger) (err error) {
	if err := Validate(instructions); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Execution panicked.",
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	b, err := i.launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	pages := browser.NewManager(b, logger,
		browser.WithRecorder(log),
		browser.WithMiddlewares(opts.PageMiddlewares...),
	)
	defer i.teardown(ctx, b, pages, opts, logger)

	recorded := databridge.Recorded(bridge, log)
	engine := selector.NewEngine(pages, recorded, logger)
	ec := &executionContext{
		interp:   i,
		logger:   logger,
		log:      log,
		bridge:   recorded,
		pages:    pages,
		engine:   engine,
		cond:     condition.NewEvaluator(engine, logger),
		limiter:  i.newLimiter(),
		system:   opts.SystemActions,
		agent:    opts.Agent,
		maxJumps: i.maxJumps(opts),
	}
	if ec.system == nil {
		ec.system = NewLoggingDispatcher(logger)
	}

	if _, err := pages.Get(ctx, 0); err != nil {
		return err
	}
	return ec.run(ctx, instructions)
}

// teardown closes the pages and the browser, or defers that until ctx is
// done when the pages are to be left open.
func (i *Interpreter) teardown(ctx context.Context, b Browser, pages *browser.Manager, opts Options, logger *zap.Logger) {
	closeAll := func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := pages.CloseAll(tctx); err != nil {
			logger.Warn("Failed to close pages.", zap.Error(err))
		}
		if err := b.Close(tctx); err != nil {
			logger.Warn("Failed to close browser.", zap.Error(err))
		}
	}
	if !opts.LeavePagesOpen {
		closeAll()
		return
	}
	logger.Info("Leaving pages open until the execution context ends.", zap.Ints("pages", pages.Opened()))
	var release <-chan struct{}
	if opts.hold != nil {
		release = opts.hold.release
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-release:
		}
		closeAll()
		if opts.hold != nil {
			close(opts.hold.closed)
		}
	}()
}

func (i *Interpreter) newLimiter() *rate.Limiter {
	ecfg := i.cfg.Execution()
	if ecfg.ActionRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := ecfg.ActionBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ecfg.ActionRate), burst)
}

func (i *Interpreter) maxJumps(opts Options) int {
	if opts.MaxJumps > 0 {
		return opts.MaxJumps
	}
	if n := i.cfg.Execution().MaxJumps; n > 0 {
		return n
	}
	return defaultMaxJumps
}
