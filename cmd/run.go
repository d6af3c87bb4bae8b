// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/databridge"
	"github.com/xkilldash9x/scraperflow/internal/execinfo"
	"github.com/xkilldash9x/scraperflow/internal/interpreter"
	"github.com/xkilldash9x/scraperflow/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 30 * time.Second

// launchBrowser starts the browser of one execution. Tests replace it.
var launchBrowser = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (interpreter.Browser, error) {
	b, err := browser.Launch(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type runOptions struct {
	instructions string
	sources      string
	iterator     string
	memory       string
	leaveOpen    bool
	headless     bool
}

// program is everything read from the input files.
type program struct {
	instructions schemas.Instructions
	decls        []schemas.DataSourceDeclaration
	iterator     schemas.Iterator
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Executes an instruction tree once per iterator position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("leave-open") {
				cfg.SetExecutionLeavePagesOpen(opts.leaveOpen)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(opts.headless)
			}
			return runProgram(ctx, cfg, opts, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	runCmd.Flags().StringVarP(&opts.instructions, "instructions", "i", "", "Path to the instruction tree (JSON)")
	runCmd.Flags().StringVarP(&opts.sources, "sources", "s", "", "Path to the data source declarations (JSON)")
	runCmd.Flags().StringVar(&opts.iterator, "iterator", "", "Path to an iterator (JSON) overriding the one in the sources file")
	runCmd.Flags().StringVar(&opts.memory, "memory", "", "Run against in-memory tables loaded from this JSON file instead of the database")
	runCmd.Flags().BoolVar(&opts.leaveOpen, "leave-open", false, "Keep pages open until interrupted")
	runCmd.Flags().BoolVar(&opts.headless, "headless", true, "Run the browser without a window")
	_ = runCmd.MarkFlagRequired("instructions")
	return runCmd
}

func runProgram(ctx context.Context, cfg *config.Config, opts *runOptions, out io.Writer, logger *zap.Logger) error {
	prog, err := loadProgram(opts)
	if err != nil {
		return err
	}

	var (
		bridge databridge.Bridge
		tables map[string][]databridge.Row
		memory *databridge.MemoryBridge
	)
	if opts.memory != "" {
		if tables, err = readTables(opts.memory); err != nil {
			return err
		}
		if memory, err = databridge.NewMemoryBridge(tables, prog.decls, prog.iterator, logger); err != nil {
			return fmt.Errorf("failed to bind data sources: %w", err)
		}
		bridge = memory
	} else {
		pg, closeDB, err := openPostgres(ctx, cfg.Database(), prog, logger)
		if err != nil {
			return err
		}
		defer closeDB()
		bridge = pg
	}

	launch := func(ctx context.Context) (interpreter.Browser, error) {
		return launchBrowser(ctx, cfg, logger)
	}
	interp := interpreter.New(cfg, launch, logger)

	exec := cfg.Execution()
	streamer := newLogStreamer(logger, exec.SubscriberBuf)
	runOpts := interpreter.Options{
		LeavePagesOpen: exec.LeavePagesOpen,
		SystemActions:  interpreter.NewCommandDispatcher(exec.AllowedCommands, nil, logger),
		Watch:          streamer.watch,
	}
	runs, runErr := interp.ExecuteIterations(ctx, prog.instructions, bridge, runOpts, func(n int, log *execinfo.Log) {
		streamer.finish(n, log)
	})
	logger.Info("Runs finished.", zap.Int("runs", runs), zap.Error(runErr))

	if memory != nil {
		if err := writeTables(out, memory, tables); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if exec.LeavePagesOpen {
		logger.Info("Pages left open; interrupt to exit.")
		<-ctx.Done()
	}
	return nil
}

// loadProgram reads and statically validates the input files.
func loadProgram(opts *runOptions) (*program, error) {
	if opts.instructions == "" {
		return nil, errors.New("an instruction file is required")
	}
	raw, err := os.ReadFile(opts.instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions: %w", err)
	}
	instructions, err := schemas.ParseInstructions(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid instructions: %w", err)
	}
	if err := interpreter.Validate(instructions); err != nil {
		return nil, fmt.Errorf("invalid instructions: %w", err)
	}

	prog := &program{instructions: instructions}
	if opts.sources != "" {
		raw, err := os.ReadFile(opts.sources)
		if err != nil {
			return nil, fmt.Errorf("failed to read sources: %w", err)
		}
		if prog.decls, prog.iterator, err = schemas.ParseSourcesFile(raw); err != nil {
			return nil, err
		}
	}
	if opts.iterator != "" {
		raw, err := os.ReadFile(opts.iterator)
		if err != nil {
			return nil, fmt.Errorf("failed to read iterator: %w", err)
		}
		if prog.iterator, err = schemas.ParseIterator(raw); err != nil {
			return nil, fmt.Errorf("invalid iterator: %w", err)
		}
	}
	return prog, nil
}

func openPostgres(ctx context.Context, dbCfg config.DatabaseConfig, prog *program, logger *zap.Logger) (databridge.Bridge, func(), error) {
	if dbCfg.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not set; export %s_DATABASE_URL or use --memory", config.EnvPrefix)
	}
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if dbCfg.MaxConns > 0 {
		poolCfg.MaxConns = dbCfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	bridge, err := databridge.Open(ctx, pool, prog.decls, prog.iterator, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to bind data sources: %w", err)
	}
	closeDB := func() {
		// Views must be dropped even when ctx was interrupted.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := bridge.Close(cctx); err != nil {
			logger.Warn("Failed to release data sources.", zap.Error(err))
		}
		pool.Close()
	}
	return bridge, closeDB, nil
}

func readTables(path string) (map[string][]databridge.Row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	var tables map[string][]databridge.Row
	if err := json.Unmarshal(raw, &tables); err != nil {
		return nil, fmt.Errorf("invalid tables file: %w", err)
	}
	return tables, nil
}

// writeTables prints the final state of every in-memory table as JSON.
func writeTables(out io.Writer, memory *databridge.MemoryBridge, loaded map[string][]databridge.Row) error {
	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	sort.Strings(names)

	final := make(map[string][]databridge.Row, len(names))
	for _, name := range names {
		final[name] = memory.Rows(name)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(final)
}

// logStreamer forwards the record batches of each run to zap as they are flushed.
type logStreamer struct {
	logger *zap.Logger
	buffer int

	mu   sync.Mutex
	done chan struct{}
}

func newLogStreamer(logger *zap.Logger, buffer int) *logStreamer {
	return &logStreamer{logger: logger.Named("progress"), buffer: buffer}
}

func (s *logStreamer) watch(log *execinfo.Log) {
	batches, _ := log.Subscribe(s.buffer)
	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for batch := range batches {
			for _, rec := range batch {
				observability.LogRecord(s.logger, rec)
			}
		}
	}()
}

// finish closes log and waits until its last batch has been written.
func (s *logStreamer) finish(n int, log *execinfo.Log) {
	log.Close()
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	if dropped := log.Dropped(); dropped > 0 {
		s.logger.Warn("Progress batches dropped.", zap.Int("iteration", n), zap.Int64("batches", dropped))
	}
}
